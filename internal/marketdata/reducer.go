package marketdata

import (
	"context"
	"math"
	"sort"
	"time"

	"sentinel/internal/models"
	"sentinel/internal/repository"
	"sentinel/pkg/utils"
)

// ============================================================
// Reducer - фоновый даунсэмплинг warm → cold
// ============================================================

// Группы, заполненные меньше чем на minFillRatio от ожидаемого числа
// свечей (4 для 15m→1h и 1h→4h, 6 для 4h→1d), пропускаются - из
// неполных данных честную свечу не собрать.
const minFillRatio = 0.8

// reducedTimeframes - таймфреймы, подлежащие даунсэмплингу
var reducedTimeframes = []string{models.Timeframe15m, models.Timeframe1h, models.Timeframe4h}

// Reducer периодически сворачивает warm-свечи старше горизонта
// хранения в cold-свечи более грубого таймфрейма и удаляет оригиналы.
//
// Работает вне горячего пути: собственные запросы к БД, ни одной
// блокировки горячего окна.
type Reducer struct {
	repo      *repository.BarRepository
	retention time.Duration
	interval  time.Duration
	logger    *utils.Logger
}

// NewReducer создаёт редьюсер.
func NewReducer(repo *repository.BarRepository, retentionDays int, interval time.Duration, logger *utils.Logger) *Reducer {
	if retentionDays < 1 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reducer{
		repo:      repo,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
	}
}

// Run запускает периодические проходы до отмены контекста.
// Первый проход выполняется сразу.
func (r *Reducer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

// runPass выполняет один проход по всем сворачиваемым таймфреймам.
func (r *Reducer) runPass(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.retention)

	var failed bool
	for _, tf := range reducedTimeframes {
		if err := r.reduceTimeframe(ctx, tf, cutoff); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("downsampling pass failed",
				utils.Timeframe(tf),
				utils.Err(err))
			failed = true
		}
	}

	if failed {
		ReducerErrors.Inc()
		return
	}
	ReducerRuns.Inc()
}

// reduceTimeframe сворачивает один таймфрейм: читает warm-свечи старше
// cutoff, агрегирует в cold-свечи грубого таймфрейма, сохраняет их и
// удаляет оригиналы. Удаление выполняется только после успешной
// записи cold-свечей.
func (r *Reducer) reduceTimeframe(ctx context.Context, tf string, cutoff time.Time) error {
	bars, err := r.repo.WarmBarsOlderThan(ctx, tf, cutoff)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	cold := Downsample(bars, tf)
	if len(cold) > 0 {
		if err := r.repo.SaveColdBars(ctx, cold); err != nil {
			return err
		}
	}

	deleted, err := r.repo.DeleteWarmOlderThan(ctx, tf, cutoff)
	if err != nil {
		return err
	}

	ReducedBars.Add(float64(deleted))
	r.logger.Info("warm bars downsampled",
		utils.Timeframe(tf),
		utils.Int("warm_bars", len(bars)),
		utils.Int("cold_bars", len(cold)),
		utils.Int64("deleted", deleted))
	return nil
}

// Downsample агрегирует warm-свечи в cold-свечи грубого таймфрейма.
//
// Свечи группируются по символу и выровненному началу грубого периода.
// Внутри группы: open = первой свечи, high = максимум, low = минимум,
// close = последней свечи, volume = сумма. Группы с заполнением ниже
// 80% от aggregationFactor пропускаются.
func Downsample(bars []models.Bar, tf string) []models.Bar {
	coldTf := models.ColdTimeframe(tf)
	if coldTf == tf {
		return nil
	}
	coldDur := models.TimeframeDuration(coldTf)
	barDur := models.TimeframeDuration(tf)
	if coldDur <= 0 || barDur <= 0 {
		return nil
	}
	expected := int(coldDur / barDur)

	type groupKey struct {
		Symbol   string
		OpenTime time.Time
	}

	groups := make(map[groupKey][]models.Bar)
	for _, b := range bars {
		key := groupKey{
			Symbol:   b.Symbol,
			OpenTime: b.OpenTime.UTC().Truncate(coldDur),
		}
		groups[key] = append(groups[key], b)
	}

	minCount := int(math.Ceil(float64(expected) * minFillRatio))

	cold := make([]models.Bar, 0, len(groups))
	for key, group := range groups {
		if len(group) < minCount {
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			return group[i].OpenTime.Before(group[j].OpenTime)
		})

		agg := models.Bar{
			Symbol:    key.Symbol,
			Timeframe: coldTf,
			OpenTime:  key.OpenTime,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, b := range group {
			agg.High = utils.Max(agg.High, b.High)
			agg.Low = utils.Min(agg.Low, b.Low)
			agg.Volume += b.Volume
		}
		cold = append(cold, agg)
	}

	sort.Slice(cold, func(i, j int) bool {
		if cold[i].Symbol != cold[j].Symbol {
			return cold[i].Symbol < cold[j].Symbol
		}
		return cold[i].OpenTime.Before(cold[j].OpenTime)
	})

	return cold
}
