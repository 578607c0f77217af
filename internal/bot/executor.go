package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/internal/venue"
	"sentinel/pkg/retry"
	"sentinel/pkg/utils"
)

// ============================================================
// Coordinator - исполнение решений на площадке
// ============================================================

// Coordinator превращает решение риск-менеджера в вызовы площадки.
//
// Каждый сетевой вызов ограничен таймаутом и бюджетом retry только
// для временных ошибок: отклонённый площадкой ордер не повторяется.
// Частичное исполнение - не ошибка, а позиция меньшего размера.
// Исчерпанный бюджет retry переводит символ в деградированный режим:
// существующие защитные ордера сохраняются, новые позиции не
// открываются, следующий тик повторяет попытку.
type Coordinator struct {
	venue  venue.ExecutionVenue
	risk   *RiskManager
	cfg    config.VenueConfig
	logger *utils.Logger

	// Кэш лимитов инструментов (однократный запрос на символ)
	limits   map[string]*venue.Limits
	limitsMu sync.Mutex

	// Деградированный режим по символам
	degraded   map[string]bool
	degradedMu sync.RWMutex

	notificationChan chan *models.Notification
}

// NewCoordinator создаёт координатор
func NewCoordinator(ev venue.ExecutionVenue, risk *RiskManager, cfg config.VenueConfig, notifChan chan *models.Notification, logger *utils.Logger) *Coordinator {
	return &Coordinator{
		venue:            ev,
		risk:             risk,
		cfg:              cfg,
		logger:           logger,
		limits:           make(map[string]*venue.Limits),
		degraded:         make(map[string]bool),
		notificationChan: notifChan,
	}
}

// Reconcile применяет решение. Возвращает результат с исходом:
// EXECUTED, REJECTED, DEGRADED или SKIPPED.
func (c *Coordinator) Reconcile(ctx context.Context, d models.Decision) models.ExecutionResult {
	started := time.Now()
	result := c.reconcile(ctx, d)
	result.FinishedAt = time.Now().UTC()

	DecisionLatency.WithLabelValues(d.Symbol, d.Action).Observe(float64(time.Since(started).Milliseconds()))
	DecisionsExecuted.WithLabelValues(d.Symbol, d.Action, result.Outcome).Inc()
	return result
}

func (c *Coordinator) reconcile(ctx context.Context, d models.Decision) models.ExecutionResult {
	result := models.ExecutionResult{Decision: d, Outcome: models.OutcomeSkipped}

	switch d.Action {
	case models.ActionHold:
		return result

	case models.ActionAdjustStop:
		// Защитный стоп ведётся локально: риск-менеджер уже сдвинул
		// его под инвариантом монотонности, вызов площадки не нужен
		c.logger.Debug("protective stop adjusted",
			utils.Symbol(d.Symbol),
			utils.StopPrice(d.StopPrice))
		result.Outcome = models.OutcomeExecuted
		return result

	case models.ActionOpen, models.ActionScale:
		return c.openPosition(ctx, d)

	case models.ActionPartialClose:
		return c.closePosition(ctx, d, false)

	case models.ActionClose:
		return c.closePosition(ctx, d, false)

	case models.ActionForcedClose:
		return c.closePosition(ctx, d, true)

	default:
		result.Error = fmt.Sprintf("unknown action %s", d.Action)
		return result
	}
}

// openPosition открывает или наращивает позицию рыночным ордером
func (c *Coordinator) openPosition(ctx context.Context, d models.Decision) models.ExecutionResult {
	result := models.ExecutionResult{Decision: d}

	// В деградированном режиме новые позиции не открываются
	if c.Degraded(d.Symbol) {
		result.Outcome = models.OutcomeSkipped
		result.Error = "degraded mode, not opening new positions"
		return result
	}

	qty, err := c.roundQty(ctx, d.Symbol, d.Size)
	if err != nil {
		return c.classifyFailure(d, result, err)
	}

	side := venue.SideBuy
	if d.Side == models.SideShort {
		side = venue.SideSell
	}

	order, err := c.placeWithRetry(ctx, d.Symbol, side, qty)
	if err != nil {
		return c.classifyFailure(d, result, err)
	}

	c.clearDegraded(d.Symbol)

	// Частичное исполнение - позиция меньшего размера, не ошибка
	if order.PartiallyFilled() {
		c.logger.Warn("order partially filled, opening smaller position",
			utils.Symbol(d.Symbol),
			utils.OrderID(order.OrderID),
			utils.Float64("requested_qty", order.RequestedQty),
			utils.Float64("filled_qty", order.FilledQty))
		PartialFills.WithLabelValues(d.Symbol).Inc()
	}

	if order.FilledQty <= 0 {
		result.Outcome = models.OutcomeRejected
		result.Error = "order reported zero filled quantity"
		return result
	}

	c.risk.OnPositionOpened(&models.Position{
		Symbol:     d.Symbol,
		Side:       d.Side,
		EntryPrice: order.AvgFillPrice,
		Size:       order.FilledQty,
		OpenedAt:   time.Now().UTC(),
	})

	result.Outcome = models.OutcomeExecuted
	result.FilledQty = order.FilledQty
	result.AvgPrice = order.AvgFillPrice
	return result
}

// closePosition закрывает позицию (частично или полностью)
func (c *Coordinator) closePosition(ctx context.Context, d models.Decision, forced bool) models.ExecutionResult {
	result := models.ExecutionResult{Decision: d}

	pos, ok := c.risk.CurrentPosition(d.Symbol)
	if !ok {
		result.Outcome = models.OutcomeSkipped
		result.Error = "no open position"
		return result
	}

	qty := d.Size
	if qty <= 0 || qty > pos.Size {
		qty = pos.Size
	}
	qty, err := c.roundQty(ctx, d.Symbol, qty)
	if err != nil {
		return c.classifyFailure(d, result, err)
	}

	// Площадке передаётся сторона закрываемой ПОЗИЦИИ:
	// встречный ордер она строит сама
	order, err := c.closeWithRetry(ctx, d.Symbol, pos.Side, qty)
	if err != nil {
		return c.classifyFailure(d, result, err)
	}

	c.clearDegraded(d.Symbol)

	switch d.Action {
	case models.ActionPartialClose:
		c.risk.OnPartialClose(d.Symbol, order.FilledQty, order.AvgFillPrice)
	default:
		c.risk.OnTradeClosed(d.Symbol, order.AvgFillPrice, forced)
	}

	result.Outcome = models.OutcomeExecuted
	result.FilledQty = order.FilledQty
	result.AvgPrice = order.AvgFillPrice
	return result
}

// placeWithRetry отправляет рыночный ордер с таймаутом и retry
// временных ошибок
func (c *Coordinator) placeWithRetry(ctx context.Context, symbol, side string, qty float64) (*venue.OrderResult, error) {
	cfg := retry.VenueConfig()
	cfg.MaxRetries = c.cfg.MaxRetries
	cfg.InitialDelay = c.cfg.RetryBackoff
	cfg.OnRetry = c.logRetry(symbol)

	return retry.DoWithResult(ctx, func() (*venue.OrderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.venue.PlaceMarketOrder(callCtx, symbol, side, qty)
	}, cfg)
}

// closeWithRetry закрывает позицию с защитным бюджетом retry
func (c *Coordinator) closeWithRetry(ctx context.Context, symbol, side string, qty float64) (*venue.OrderResult, error) {
	cfg := retry.ProtectiveConfig()
	cfg.OnRetry = c.logRetry(symbol)

	return retry.DoWithResult(ctx, func() (*venue.OrderResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		return c.venue.ClosePosition(callCtx, symbol, side, qty)
	}, cfg)
}

// roundQty приводит объём к шагу лота инструмента.
// Округление применяется один раз, централизованно, перед отправкой.
func (c *Coordinator) roundQty(ctx context.Context, symbol string, qty float64) (float64, error) {
	limits, err := c.getLimits(ctx, symbol)
	if err != nil {
		return 0, err
	}

	rounded := utils.RoundToLotSize(qty, limits.QtyStep)
	if rounded < limits.MinOrderQty {
		// Локальная предвалидация: площадка не вызывалась, поэтому
		// исход - отказ, а не деградация
		return 0, venue.NewRejectionError("local", "min_qty",
			fmt.Sprintf("quantity %.8f below venue minimum %.8f", rounded, limits.MinOrderQty))
	}
	if limits.MaxOrderQty > 0 && rounded > limits.MaxOrderQty {
		rounded = utils.RoundToLotSize(limits.MaxOrderQty, limits.QtyStep)
	}
	return rounded, nil
}

// getLimits возвращает лимиты инструмента из кэша или площадки
func (c *Coordinator) getLimits(ctx context.Context, symbol string) (*venue.Limits, error) {
	c.limitsMu.Lock()
	defer c.limitsMu.Unlock()

	if limits, ok := c.limits[symbol]; ok {
		return limits, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	limits, err := c.venue.GetLimits(callCtx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch limits for %s: %w", symbol, err)
	}
	c.limits[symbol] = limits
	return limits, nil
}

// classifyFailure превращает ошибку площадки в исход решения.
// Отклонение - REJECTED без retry; исчерпанный бюджет временных
// ошибок - DEGRADED с сохранением защитных ордеров.
func (c *Coordinator) classifyFailure(d models.Decision, result models.ExecutionResult, err error) models.ExecutionResult {
	result.Error = err.Error()

	if venue.IsRejection(err) {
		result.Outcome = models.OutcomeRejected
		c.logger.Warn("venue rejected order",
			utils.Symbol(d.Symbol),
			utils.Action(d.Action),
			utils.Err(err))
		return result
	}

	// Временная ошибка пережила весь бюджет retry: деградация.
	// Позиция остаётся под локальным стопом, следующий тик повторит.
	result.Outcome = models.OutcomeDegraded
	c.setDegraded(d.Symbol)
	c.logger.Warn("venue call budget exhausted, entering degraded mode",
		utils.Symbol(d.Symbol),
		utils.Action(d.Action),
		utils.Err(err))
	tryEnqueueNotification(c.notificationChan, &models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      models.NotificationTypeDegraded,
		Severity:  models.SeverityError,
		Symbol:    d.Symbol,
		Message:   fmt.Sprintf("Degraded mode for %s: %v", d.Symbol, err),
	})
	return result
}

// Degraded возвращает true, если символ в деградированном режиме
func (c *Coordinator) Degraded(symbol string) bool {
	c.degradedMu.RLock()
	defer c.degradedMu.RUnlock()
	return c.degraded[symbol]
}

func (c *Coordinator) setDegraded(symbol string) {
	c.degradedMu.Lock()
	if !c.degraded[symbol] {
		c.degraded[symbol] = true
		DegradedMode.WithLabelValues(symbol).Set(1)
	}
	c.degradedMu.Unlock()
}

func (c *Coordinator) clearDegraded(symbol string) {
	c.degradedMu.Lock()
	if c.degraded[symbol] {
		delete(c.degraded, symbol)
		DegradedMode.WithLabelValues(symbol).Set(0)
		c.logger.Info("degraded mode cleared", utils.Symbol(symbol))
	}
	c.degradedMu.Unlock()
}

// logRetry возвращает callback логирования повторов
func (c *Coordinator) logRetry(symbol string) func(attempt int, err error, delay time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		VenueRetries.WithLabelValues(symbol).Inc()
		c.logger.Warn("retrying venue call",
			utils.Symbol(symbol),
			utils.Attempt(attempt),
			utils.Any("delay", delay.String()),
			utils.Err(err))
	}
}
