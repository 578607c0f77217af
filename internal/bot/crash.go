package bot

import (
	"fmt"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/pkg/utils"
)

// ============================================================
// CrashDetector - детектор аномальных падений цены
// ============================================================

// crashWindow - одно окно проверки падения
type crashWindow struct {
	Name string // имя окна для события и порога конфигурации
	Bars int    // сколько базовых (15m) свечей покрывает окно
}

// Окна строятся из базового таймфрейма 15m: короткое окно - одна
// свеча, суточное - 96 свечей.
var crashWindows = []crashWindow{
	{Name: models.Timeframe15m, Bars: 1},
	{Name: models.Timeframe1h, Bars: 4},
	{Name: models.Timeframe4h, Bars: 16},
	{Name: models.Timeframe1d, Bars: 96},
}

// baseTimeframe - таймфрейм серии, по которой считаются все окна
const baseTimeframe = models.Timeframe15m

// Веса компонент взвешенной оценки серьёзности
const (
	weightDrop       = 0.4
	weightSpeed      = 0.2
	weightVolume     = 0.2
	weightVolatility = 0.2
)

// Границы диапазонов серьёзности по оценке 0-1
const (
	bandMedium   = 0.4
	bandHigh     = 0.6
	bandCritical = 0.8
)

// CrashDetector оценивает символ на аномальное падение по нескольким
// окнам плюс проверка ускорения. Перед оценкой данные проходят
// контроль качества: на плохих данных лучше пропустить сигнал один
// раз, чем действовать по ним.
type CrashDetector struct {
	store  *marketdata.Store
	cfg    config.CrashConfig
	logger *utils.Logger

	// Кольцо недавних событий по символам для API
	events map[string][]models.CrashEvent
	mu     sync.RWMutex
}

// NewCrashDetector создаёт детектор
func NewCrashDetector(store *marketdata.Store, cfg config.CrashConfig, logger *utils.Logger) *CrashDetector {
	return &CrashDetector{
		store:  store,
		cfg:    cfg,
		logger: logger,
		events: make(map[string][]models.CrashEvent),
	}
}

// Evaluate проверяет символ на обвал. Возвращает событие наивысшей
// серьёзности из сработавших кандидатов, либо false.
func (cd *CrashDetector) Evaluate(symbol string) (models.CrashEvent, bool) {
	bars := cd.store.Read(symbol, baseTimeframe, crashWindows[len(crashWindows)-1].Bars)
	if len(bars) == 0 {
		return models.CrashEvent{}, false
	}

	last := bars[len(bars)-1]
	if !cd.dataQualityOK(symbol, last) {
		return models.CrashEvent{}, false
	}

	price := last.Close

	var best models.CrashEvent
	found := false

	// Проверка окон: падение от максимума окна к текущей цене
	for _, w := range crashWindows {
		threshold, ok := cd.cfg.Thresholds[w.Name]
		if !ok || threshold <= 0 {
			continue
		}

		window := bars
		if len(window) > w.Bars {
			window = window[len(window)-w.Bars:]
		}

		high := windowHigh(window)
		drop := utils.DropPercent(high, price)
		if drop < threshold {
			continue
		}

		ev := cd.scoreEvent(symbol, w, window, bars, drop, threshold)
		if !found || models.SeverityRank(ev.Severity) > models.SeverityRank(best.Severity) ||
			models.SeverityRank(ev.Severity) == models.SeverityRank(best.Severity) && ev.Score > best.Score {
			best = ev
			found = true
		}
	}

	// Проверка ускорения: монотонно усиливающееся падение
	if ev, ok := cd.evaluateAcceleration(symbol, bars); ok {
		if !found || models.SeverityRank(ev.Severity) > models.SeverityRank(best.Severity) {
			best = ev
			found = true
		}
	}

	if found {
		cd.record(best)
		CrashEventsDetected.WithLabelValues(symbol, best.Severity).Inc()
		cd.logger.Warn("price crash detected",
			utils.Symbol(symbol),
			utils.Timeframe(best.Timeframe),
			utils.Float64("drop_percent", best.DropPercent),
			utils.CrashSeverity(best.Severity),
			utils.Float64("score", best.Score))
	}

	return best, found
}

// dataQualityOK выполняет контроль качества данных перед оценкой.
// Устаревшие данные пропускаются молча (Debug), некачественные
// логируются (Warn).
func (cd *CrashDetector) dataQualityOK(symbol string, last models.Bar) bool {
	// Возраст считается от конца периода свечи: текущая (незакрытая)
	// свеча всегда свежая, пропущенные обновления - нет
	closeTime := last.OpenTime.Add(models.TimeframeDuration(baseTimeframe))
	if age := utils.BarAge(closeTime, time.Now().UTC()); age > cd.cfg.StalenessBound {
		cd.logger.Debug("stale data, crash evaluation skipped",
			utils.Symbol(symbol),
			utils.Any("bar_age", age.String()))
		EvaluationsSkipped.WithLabelValues(symbol, "stale").Inc()
		return false
	}
	if last.Close <= 0 {
		cd.logger.Warn("invalid price, crash evaluation skipped",
			utils.Symbol(symbol),
			utils.Price(last.Close))
		EvaluationsSkipped.WithLabelValues(symbol, "quality").Inc()
		return false
	}
	// Нулевой объём дисквалифицирует свечу независимо от настроенного
	// минимума: такая свеча не несёт рыночной информации
	if last.Volume <= 0 || last.Volume < cd.cfg.MinValidVolume {
		cd.logger.Warn("volume below valid minimum, crash evaluation skipped",
			utils.Symbol(symbol),
			utils.Volume(last.Volume))
		EvaluationsSkipped.WithLabelValues(symbol, "quality").Inc()
		return false
	}
	return true
}

// scoreEvent строит событие с взвешенной оценкой серьёзности:
// размер падения 40%, скорость 20%, аномалия объёма 20%, изменение
// волатильности 20%.
func (cd *CrashDetector) scoreEvent(symbol string, w crashWindow, window, all []models.Bar, drop, threshold float64) models.CrashEvent {
	// Размер: 1.0 при падении вдвое глубже порога
	dropScore := utils.Clamp(drop/(2*threshold), 0, 1)

	// Скорость: падение в пересчёте на час окна
	windowHours := float64(w.Bars) * 0.25
	speedScore := utils.Clamp(drop/windowHours/2.0, 0, 1)

	volumeScore := volumeAnomaly(window)
	volatilityScore := volatilityChange(all)

	score := weightDrop*dropScore + weightSpeed*speedScore +
		weightVolume*volumeScore + weightVolatility*volatilityScore

	return models.CrashEvent{
		Symbol:      symbol,
		Timeframe:   w.Name,
		DropPercent: -drop,
		Threshold:   threshold,
		Severity:    severityForScore(score),
		Score:       score,
		Reason:      fmt.Sprintf("drop %.2f%% from %s window high (threshold %.2f%%)", drop, w.Name, threshold),
		DetectedAt:  time.Now().UTC(),
	}
}

// evaluateAcceleration проверяет ускоряющееся падение: последние N
// доходностей строго всё более отрицательны и в сумме глубже порога.
// Такое событие получает оценку не ниже CRITICAL-диапазона: ускорение
// опаснее разового провала той же глубины.
func (cd *CrashDetector) evaluateAcceleration(symbol string, bars []models.Bar) (models.CrashEvent, bool) {
	n := cd.cfg.AccelPeriods
	if n < 3 || len(bars) < n+1 {
		return models.CrashEvent{}, false
	}

	tail := bars[len(bars)-n-1:]
	var sum float64
	prev := 0.0
	for i := 1; i < len(tail); i++ {
		r := utils.PercentChange(tail[i-1].Close, tail[i].Close)
		if r >= 0 {
			return models.CrashEvent{}, false
		}
		if i > 1 && r >= prev {
			// Падение не ускоряется
			return models.CrashEvent{}, false
		}
		prev = r
		sum += r
	}

	if -sum < cd.cfg.AccelThreshold {
		return models.CrashEvent{}, false
	}

	score := utils.Max(bandCritical, utils.Clamp(-sum/(2*cd.cfg.AccelThreshold), 0, 1))

	return models.CrashEvent{
		Symbol:      symbol,
		Timeframe:   "acceleration",
		DropPercent: sum,
		Threshold:   cd.cfg.AccelThreshold,
		Severity:    severityForScore(score),
		Score:       score,
		Reason:      fmt.Sprintf("accelerating decline: %d consecutive worsening returns, %.2f%% cumulative", cd.cfg.AccelPeriods, sum),
		DetectedAt:  time.Now().UTC(),
	}, true
}

// record помещает событие в кольцо недавних событий символа
func (cd *CrashDetector) record(ev models.CrashEvent) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	ring := append(cd.events[ev.Symbol], ev)
	if cd.cfg.EventHistory > 0 && len(ring) > cd.cfg.EventHistory {
		ring = ring[len(ring)-cd.cfg.EventHistory:]
	}
	cd.events[ev.Symbol] = ring
}

// RecentEvents возвращает события символа не раньше since,
// от старых к новым.
func (cd *CrashDetector) RecentEvents(symbol string, since time.Time) []models.CrashEvent {
	cd.mu.RLock()
	defer cd.mu.RUnlock()

	var out []models.CrashEvent
	for _, ev := range cd.events[symbol] {
		if !ev.DetectedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// severityForScore маппит взвешенную оценку на уровень серьёзности
func severityForScore(score float64) string {
	switch {
	case score >= bandCritical:
		return models.CrashSeverityCritical
	case score >= bandHigh:
		return models.CrashSeverityHigh
	case score >= bandMedium:
		return models.CrashSeverityMedium
	default:
		return models.CrashSeverityLow
	}
}

// windowHigh возвращает максимум High в окне
func windowHigh(bars []models.Bar) float64 {
	high := 0.0
	for _, b := range bars {
		high = utils.Max(high, b.High)
	}
	return high
}

// volumeAnomaly оценивает всплеск объёма последней свечи относительно
// среднего по окну: 0 при среднем объёме, 1 при трёхкратном.
func volumeAnomaly(window []models.Bar) float64 {
	if len(window) < 2 {
		return 0
	}

	var sum float64
	for _, b := range window[:len(window)-1] {
		sum += b.Volume
	}
	avg := sum / float64(len(window)-1)
	if avg <= 0 {
		return 0
	}

	ratio := window[len(window)-1].Volume / avg
	return utils.Clamp((ratio-1)/2, 0, 1)
}

// volatilityChange оценивает рост волатильности: стандартное
// отклонение доходностей свежей половины серии против старой.
func volatilityChange(bars []models.Bar) float64 {
	if len(bars) < 8 {
		return 0
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		returns = append(returns, utils.PercentChange(bars[i-1].Close, bars[i].Close))
	}

	mid := len(returns) / 2
	oldSD := utils.StandardDeviation(returns[:mid])
	newSD := utils.StandardDeviation(returns[mid:])
	if oldSD <= 0 {
		return 0
	}

	ratio := newSD / oldSD
	return utils.Clamp((ratio-1)/2, 0, 1)
}
