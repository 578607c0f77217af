package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/internal/venue"
	"sentinel/pkg/retry"
	"sentinel/pkg/utils"
)

// ============================================================
// Scheduler - двухрежимный планировщик тиков
// ============================================================

// Состояния планировщика
const (
	StateMonitorRunning = "MONITOR_RUNNING"
	StateMonitorStalled = "MONITOR_STALLED"
	StateFallbackActive = "FALLBACK_ACTIVE"
)

// tickRequest - запрос на обработку тика символа
type tickRequest struct {
	fallback bool
}

// EventBroadcaster доставляет события тиков подписчикам (websocket hub)
type EventBroadcaster interface {
	BroadcastDecision(result models.ExecutionResult)
	BroadcastCrash(ev models.CrashEvent)
}

// Scheduler управляет двумя контурами:
//
// Монитор: тик раз в MonitorInterval для каждого символа - загрузка
// свечей, обновление хранилища, индикаторы, детектор обвалов, решение
// риск-менеджера, исполнение. Тики одного символа обрабатываются
// строго по порядку собственным воркером; разные символы параллельно.
//
// Надзор: раз в CycleInterval сверяет now-lastCheck каждого символа
// с FallbackThreshold. Застрявший монитор переводит планировщик в
// MONITOR_STALLED и запускает ровно один резервный проход по символу
// (кэшированные свечи где свежие, одиночный запрос к площадке иначе).
type Scheduler struct {
	cfg       config.SchedulerConfig
	marketCfg config.MarketConfig
	venueCfg  config.VenueConfig

	venue    venue.ExecutionVenue
	signals  venue.SignalSource
	store    *marketdata.Store
	detector *CrashDetector
	risk     *RiskManager
	coord    *Coordinator
	logger   *utils.Logger

	// Воркер и очередь на символ: тики символа строго по порядку
	workers map[string]chan tickRequest

	// lastCheck по символам, unix nano
	lastCheck map[string]*atomic.Int64

	state atomic.Value // string

	wg sync.WaitGroup

	notificationChan chan *models.Notification
	events           EventBroadcaster // опционально, nil = без трансляции
}

// SetBroadcaster подключает трансляцию решений и обвалов.
// Вызывается до Run.
func (s *Scheduler) SetBroadcaster(events EventBroadcaster) {
	s.events = events
}

// NewScheduler создаёт планировщик
func NewScheduler(
	cfg *config.Config,
	ev venue.ExecutionVenue,
	signals venue.SignalSource,
	store *marketdata.Store,
	detector *CrashDetector,
	risk *RiskManager,
	coord *Coordinator,
	notifChan chan *models.Notification,
	logger *utils.Logger,
) *Scheduler {
	s := &Scheduler{
		cfg:              cfg.Scheduler,
		marketCfg:        cfg.Market,
		venueCfg:         cfg.Venue,
		venue:            ev,
		signals:          signals,
		store:            store,
		detector:         detector,
		risk:             risk,
		coord:            coord,
		logger:           logger,
		workers:          make(map[string]chan tickRequest),
		lastCheck:        make(map[string]*atomic.Int64),
		notificationChan: notifChan,
	}
	s.state.Store(StateMonitorRunning)

	for _, symbol := range cfg.Market.Symbols {
		s.workers[symbol] = make(chan tickRequest, 1)
		s.lastCheck[symbol] = &atomic.Int64{}
	}

	return s
}

// State возвращает текущее состояние планировщика
func (s *Scheduler) State() string {
	return s.state.Load().(string)
}

// LastCheck возвращает время последнего успешного тика символа
func (s *Scheduler) LastCheck(symbol string) time.Time {
	c, ok := s.lastCheck[symbol]
	if !ok {
		return time.Time{}
	}
	ns := c.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Run запускает оба контура и блокируется до отмены контекста.
// Возвращается после дренажа всех воркеров: начатые тики завершаются,
// новые не стартуют.
func (s *Scheduler) Run(ctx context.Context) error {
	for symbol, queue := range s.workers {
		s.wg.Add(1)
		go s.symbolWorker(ctx, symbol, queue)
	}

	s.wg.Add(2)
	go s.monitorLoop(ctx)
	go s.supervisorLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()

	s.logger.Info("scheduler stopped, in-flight ticks drained")
	return ctx.Err()
}

// monitorLoop ставит тик каждого символа в очередь раз в MonitorInterval
func (s *Scheduler) monitorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	s.refreshEquity(ctx)
	s.scheduleAll(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshEquity(ctx)
			s.scheduleAll(false)
		}
	}
}

// refreshEquity обновляет equity аккаунта для проверки риска позиций.
// Ошибка не критична: риск-менеджер работает с последним известным
// значением.
func (s *Scheduler) refreshEquity(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.venueCfg.CallTimeout)
	defer cancel()

	balance, err := s.venue.GetBalance(callCtx)
	if err != nil {
		s.logger.Warn("failed to refresh account equity", utils.Err(err))
		return
	}
	s.risk.SetEquity(balance)
}

// scheduleAll ставит тики всех символов в очереди воркеров.
// Занятая очередь не блокирует: пропущенный тик нагонит следующий
// интервал, а отставание заметит надзорный контур.
func (s *Scheduler) scheduleAll(fallback bool) {
	for symbol, queue := range s.workers {
		select {
		case queue <- tickRequest{fallback: fallback}:
		default:
			s.logger.Warn("tick queue busy, skipping",
				utils.Symbol(symbol))
			TicksSkipped.WithLabelValues(symbol).Inc()
		}
	}
}

// symbolWorker обрабатывает тики одного символа строго по порядку
func (s *Scheduler) symbolWorker(ctx context.Context, symbol string, queue chan tickRequest) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-queue:
			if err := s.processTick(ctx, symbol, req.fallback); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Единичная ошибка тика не валит цикл
				s.logger.Error("tick failed",
					utils.Symbol(symbol),
					utils.Bool("fallback", req.fallback),
					utils.Err(err))
				TickErrors.WithLabelValues(symbol).Inc()
			}
		}
	}
}

// processTick выполняет один тик символа: данные → индикаторы →
// детектор → решение → исполнение.
func (s *Scheduler) processTick(ctx context.Context, symbol string, fallback bool) error {
	started := time.Now()

	if err := s.refreshBars(ctx, symbol, fallback); err != nil {
		return err
	}

	// Индикаторы пересчитываются на каждом тике
	snapshot, ok := s.store.ComputeSnapshot(symbol)
	if !ok {
		s.logger.Debug("not enough bars for indicators, tick skipped",
			utils.Symbol(symbol))
		s.markChecked(symbol)
		return nil
	}
	s.store.SetSnapshot(snapshot)

	var crash *models.CrashEvent
	if ev, found := s.detector.Evaluate(symbol); found {
		crash = &ev
		if s.events != nil {
			s.events.BroadcastCrash(ev)
		}
	}

	signal := s.fetchSignal(symbol)

	decision := s.risk.Evaluate(symbol, signal, snapshot, crash)
	result := s.coord.Reconcile(ctx, decision)

	if decision.Action != models.ActionHold {
		s.logger.Info("decision reconciled",
			utils.Symbol(symbol),
			utils.Action(decision.Action),
			utils.Any("outcome", result.Outcome),
			utils.Any("reason", decision.Reason))
		if s.events != nil {
			s.events.BroadcastDecision(result)
		}
	}

	s.markChecked(symbol)
	TicksProcessed.WithLabelValues(symbol, tickMode(fallback)).Inc()
	TickDuration.WithLabelValues(symbol).Observe(time.Since(started).Seconds())
	return nil
}

// refreshBars обновляет горячее окно символа. Резервный проход
// экономит вызовы площадки: свежие кэшированные свечи не перезапрашиваются.
func (s *Scheduler) refreshBars(ctx context.Context, symbol string, fallback bool) error {
	for _, tf := range s.marketCfg.Timeframes {
		if fallback && s.cachedFresh(symbol, tf) {
			continue
		}

		bars, err := s.fetchBars(ctx, symbol, tf)
		if err != nil {
			return fmt.Errorf("fetch %s %s bars: %w", symbol, tf, err)
		}
		for _, bar := range bars {
			s.store.Update(symbol, tf, bar)
		}
	}
	return nil
}

// cachedFresh возвращает true, если последняя кэшированная свеча
// таймфрейма ещё не устарела
func (s *Scheduler) cachedFresh(symbol, tf string) bool {
	last, ok := s.store.LastBar(symbol, tf)
	if !ok {
		return false
	}
	closeTime := last.OpenTime.Add(models.TimeframeDuration(tf))
	return utils.BarAge(closeTime, time.Now().UTC()) <= s.cfg.FallbackThreshold
}

// fetchBars запрашивает свечи у площадки с таймаутом и retry
func (s *Scheduler) fetchBars(ctx context.Context, symbol, tf string) ([]models.Bar, error) {
	cfg := retry.VenueConfig()
	cfg.MaxRetries = s.venueCfg.MaxRetries
	cfg.InitialDelay = s.venueCfg.RetryBackoff

	return retry.DoWithResult(ctx, func() ([]models.Bar, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.venueCfg.CallTimeout)
		defer cancel()
		return s.venue.FetchBars(callCtx, symbol, tf, s.marketCfg.FetchLimit)
	}, cfg)
}

// fetchSignal запрашивает внешний сигнал. Ошибка сигнала не валит
// тик: защитная логика работает и без сигнала на вход.
func (s *Scheduler) fetchSignal(symbol string) *venue.Signal {
	if s.signals == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.venueCfg.LocalReadTimeout)
	defer cancel()

	signal, err := s.signals.GetSignal(ctx, symbol)
	if err != nil {
		s.logger.Warn("signal source unavailable",
			utils.Symbol(symbol),
			utils.Err(err))
		return nil
	}
	return signal
}

// markChecked записывает время успешного тика символа
func (s *Scheduler) markChecked(symbol string) {
	if c, ok := s.lastCheck[symbol]; ok {
		c.Store(time.Now().UnixNano())
	}
}

// ============================================================
// Надзорный контур
// ============================================================

// supervisorLoop раз в CycleInterval проверяет отставание монитора
func (s *Scheduler) supervisorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.superviseOnce(ctx)
		}
	}
}

// superviseOnce выполняет одну надзорную проверку. Для каждого
// отставшего символа - ровно один резервный проход; если отставших
// нет, резервные проходы не выполняются.
func (s *Scheduler) superviseOnce(ctx context.Context) {
	now := time.Now()
	stalled := false

	for symbol, c := range s.lastCheck {
		last := c.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) <= s.cfg.FallbackThreshold {
			continue
		}

		stalled = true
		s.state.Store(StateMonitorStalled)
		s.logger.Warn("monitor stalled, running fallback pass",
			utils.Symbol(symbol),
			utils.Any("last_check", s.LastCheck(symbol)))
		FallbackRuns.WithLabelValues(symbol).Inc()
		tryEnqueueNotification(s.notificationChan, &models.Notification{
			Timestamp: time.Now().UTC(),
			Type:      models.NotificationTypeFallback,
			Severity:  models.SeverityWarn,
			Symbol:    symbol,
			Message:   fmt.Sprintf("Monitor stalled for %s, fallback evaluation executed", symbol),
		})

		// Резервный проход выполняется надзором напрямую, минуя
		// очередь: застрявший воркер не должен задерживать резерв
		s.state.Store(StateFallbackActive)
		if err := s.processTick(ctx, symbol, true); err != nil && ctx.Err() == nil {
			s.logger.Error("fallback pass failed",
				utils.Symbol(symbol),
				utils.Err(err))
			TickErrors.WithLabelValues(symbol).Inc()
		}
	}

	if stalled {
		s.state.Store(StateMonitorStalled)
	} else {
		s.state.Store(StateMonitorRunning)
	}
}

// tickMode возвращает метку режима для метрик
func tickMode(fallback bool) string {
	if fallback {
		return "fallback"
	}
	return "monitor"
}
