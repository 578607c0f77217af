package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/internal/repository"
	"sentinel/internal/venue"
	"sentinel/pkg/utils"
)

// ============================================================
// RiskManager - потолки риска и трейлинг-стоп
// ============================================================

// RiskManager владеет позициями, состояниями трейлинг-стопа и
// счётчиками рисков. Evaluate - чистая функция текущего состояния:
// не обращается к площадке, только выносит решение; исполнением
// занимается координатор, который подтверждает результат обратными
// вызовами OnPositionOpened / OnPartialClose / OnTradeClosed.
type RiskManager struct {
	cfg    config.RiskConfig
	trades *repository.TradeRepository
	logger *utils.Logger

	// Состояние по символам: позиция + защитные ордера
	positions map[string]*symbolState
	posMu     sync.RWMutex

	// Счётчики рисков, мутируются только подтверждёнными закрытиями
	ledger   models.RiskLedger
	ledgerMu sync.Mutex

	// Equity аккаунта, обновляется планировщиком раз в тик
	equity   float64
	equityMu sync.RWMutex

	notificationChan chan *models.Notification
}

// symbolState - позиция символа и её защитные ордера
type symbolState struct {
	pos  *models.Position
	stop *models.TrailingStopState
	mu   sync.Mutex
}

// NewRiskManager создаёт риск-менеджер
func NewRiskManager(cfg config.RiskConfig, trades *repository.TradeRepository, notifChan chan *models.Notification, logger *utils.Logger) *RiskManager {
	return &RiskManager{
		cfg:              cfg,
		trades:           trades,
		logger:           logger,
		positions:        make(map[string]*symbolState),
		notificationChan: notifChan,
		ledger:           models.RiskLedger{LastResetDay: utils.GetDayStart()},
	}
}

// RestoreLedger восстанавливает счётчики рисков из журнала сделок.
// Вызывается один раз при старте: рестарт процесса не обнуляет
// дневной убыток и серию убыточных сделок.
func (rm *RiskManager) RestoreLedger(ctx context.Context) error {
	if rm.trades == nil {
		return nil
	}

	ledger, err := rm.trades.LoadLedger(ctx, utils.GetDayStart())
	if err != nil {
		return fmt.Errorf("restore risk ledger: %w", err)
	}

	rm.ledgerMu.Lock()
	rm.ledger = *ledger
	rm.ledgerMu.Unlock()

	rm.logger.Info("risk ledger restored",
		utils.Float64("daily_realized_loss", ledger.DailyRealizedLoss),
		utils.Int("consecutive_losses", ledger.ConsecutiveLossCount),
		utils.Int("total_trades", ledger.TotalTrades))
	return nil
}

// SetEquity обновляет equity аккаунта для проверки риска позиции
func (rm *RiskManager) SetEquity(equity float64) {
	rm.equityMu.Lock()
	rm.equity = equity
	rm.equityMu.Unlock()
}

// Evaluate выносит решение по символу на один тик.
//
// Приоритет: CRITICAL crash и потолки риска → FORCED_CLOSE; пробой
// стопа → CLOSE; тейк-профит → PARTIAL_CLOSE; противоположный сигнал →
// CLOSE; сдвиг стопа → ADJUST_STOP; сигнал на вход без позиции → OPEN.
func (rm *RiskManager) Evaluate(symbol string, signal *venue.Signal, snapshot models.IndicatorSnapshot, crash *models.CrashEvent) models.Decision {
	now := time.Now().UTC()
	price := snapshot.Price

	st := rm.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	decision := models.Decision{Symbol: symbol, Action: models.ActionHold, CreatedAt: now}
	if price <= 0 {
		decision.Reason = "no valid price"
		return decision
	}

	// Нет позиции: рассматриваем только вход
	if st.pos == nil {
		return rm.evaluateOpen(st, symbol, signal, price, now)
	}

	// CRITICAL crash перекрывает нормальную логику фаз
	if crash != nil && crash.Severity == models.CrashSeverityCritical {
		decision.Action = models.ActionForcedClose
		decision.Size = st.pos.Size
		decision.Reason = fmt.Sprintf("critical crash: %s", crash.Reason)
		rm.notifyForcedClose(symbol, decision.Reason)
		ForcedCloses.WithLabelValues(symbol, "crash").Inc()
		return decision
	}

	// Потолки риска принуждают к закрытию
	if reason, breached := rm.ceilingBreached(st.pos); breached {
		decision.Action = models.ActionForcedClose
		decision.Size = st.pos.Size
		decision.Reason = reason
		rm.notifyForcedClose(symbol, reason)
		ForcedCloses.WithLabelValues(symbol, "ceiling").Inc()
		return decision
	}

	// Продвигаем машину состояний (единственное место мутации стопа)
	moved := advanceTrailing(st.stop, price, rm.cfg)

	// Пробой защитного стопа
	if stopHit(st.stop, price) {
		decision.Action = models.ActionClose
		decision.Size = st.pos.Size
		decision.Reason = fmt.Sprintf("stop %.4f hit at price %.4f (%s)", st.stop.StopPrice, price, st.stop.Phase)
		return decision
	}

	// Тейк-профит: уровни срабатывают по одному, строго по возрастанию
	if idx := nextTakeProfit(st.stop, price); idx >= 0 {
		lvl := &st.stop.TakeProfits[idx]
		lvl.Triggered = true
		decision.Action = models.ActionPartialClose
		decision.Size = st.pos.Size * lvl.CloseFraction
		decision.TakeProfitIdx = idx
		decision.Reason = fmt.Sprintf("take profit level %d (+%.1f%%) reached", idx+1, lvl.OffsetPercent)
		return decision
	}

	// Противоположный сигнал закрывает позицию штатно
	if signal != nil && opposesPosition(signal.Direction, st.pos.Side) {
		decision.Action = models.ActionClose
		decision.Size = st.pos.Size
		decision.Reason = fmt.Sprintf("opposing %s signal (confidence %.2f)", signal.Direction, signal.Confidence)
		return decision
	}

	if moved {
		decision.Action = models.ActionAdjustStop
		decision.StopPrice = st.stop.StopPrice
		decision.Reason = fmt.Sprintf("trailing stop advanced to %.4f (%s)", st.stop.StopPrice, st.stop.Phase)
		StopAdjustments.WithLabelValues(symbol, st.stop.Phase).Inc()
		return decision
	}

	decision.Reason = "no action required"
	return decision
}

// evaluateOpen решает, открывать ли позицию по сигналу.
// Вызывается под локом символа.
func (rm *RiskManager) evaluateOpen(st *symbolState, symbol string, signal *venue.Signal, price float64, now time.Time) models.Decision {
	decision := models.Decision{Symbol: symbol, Action: models.ActionHold, CreatedAt: now}

	if signal == nil || signal.Direction == venue.DirectionHold {
		decision.Reason = "no entry signal"
		return decision
	}

	// Потолки убытков запрещают новые входы
	if reason, breached := rm.lossCeilingBreached(); breached {
		decision.Reason = reason
		rm.notifyCeiling(symbol, reason)
		return decision
	}

	// Риск новой позиции: notional/leverage относительно equity
	if reason, ok := rm.positionRiskOK(rm.cfg.PositionSize, price, rm.cfg.Leverage); !ok {
		decision.Reason = reason
		rm.notifyCeiling(symbol, reason)
		return decision
	}

	decision.Action = models.ActionOpen
	decision.Side = models.SideLong
	if signal.Direction == venue.DirectionSell {
		decision.Side = models.SideShort
	}
	decision.Size = rm.cfg.PositionSize
	decision.Reason = fmt.Sprintf("%s signal (confidence %.2f)", signal.Direction, signal.Confidence)
	return decision
}

// ceilingBreached проверяет все потолки для открытой позиции
func (rm *RiskManager) ceilingBreached(pos *models.Position) (string, bool) {
	if reason, breached := rm.lossCeilingBreached(); breached {
		return reason, true
	}

	if reason, ok := rm.positionRiskOK(pos.Size, pos.EntryPrice, pos.Leverage); !ok {
		return reason, true
	}
	return "", false
}

// lossCeilingBreached проверяет дневной убыток и серию убыточных сделок
func (rm *RiskManager) lossCeilingBreached() (string, bool) {
	rm.ledgerMu.Lock()
	defer rm.ledgerMu.Unlock()
	rm.maybeResetDayLocked()

	if rm.cfg.MaxDailyLoss > 0 && rm.ledger.DailyRealizedLoss >= rm.cfg.MaxDailyLoss {
		return fmt.Sprintf("daily loss %.2f reached cap %.2f USDT", rm.ledger.DailyRealizedLoss, rm.cfg.MaxDailyLoss), true
	}
	if rm.cfg.MaxConsecutiveLosses > 0 && rm.ledger.ConsecutiveLossCount >= rm.cfg.MaxConsecutiveLosses {
		return fmt.Sprintf("%d consecutive losses reached cap %d", rm.ledger.ConsecutiveLossCount, rm.cfg.MaxConsecutiveLosses), true
	}
	return "", false
}

// positionRiskOK проверяет, что риск позиции укладывается в долю equity.
// Неблагоприятное движение до ликвидации ≈ notional / leverage.
func (rm *RiskManager) positionRiskOK(size, price float64, leverage int) (string, bool) {
	rm.equityMu.RLock()
	equity := rm.equity
	rm.equityMu.RUnlock()

	if equity <= 0 || rm.cfg.MaxPositionRisk <= 0 {
		return "", true
	}

	if leverage <= 0 {
		leverage = 1
	}

	atRisk := size * price / float64(leverage)
	if atRisk/equity > rm.cfg.MaxPositionRisk {
		return fmt.Sprintf("position risk %.2f exceeds %.1f%% of equity %.2f",
			atRisk, rm.cfg.MaxPositionRisk*100, equity), false
	}
	return "", true
}

// ============================================================
// Подтверждения исполнения от координатора
// ============================================================

// OnPositionOpened фиксирует подтверждённое открытие позиции и
// создаёт состояние защитных ордеров.
func (rm *RiskManager) OnPositionOpened(pos *models.Position) {
	st := rm.state(pos.Symbol)
	st.mu.Lock()
	st.pos = pos
	st.stop = NewTrailingStop(pos, rm.cfg)
	st.mu.Unlock()

	rm.logger.Info("position opened",
		utils.Symbol(pos.Symbol),
		utils.Side(pos.Side),
		utils.Price(pos.EntryPrice),
		utils.Volume(pos.Size),
		utils.StopPrice(st.stop.StopPrice))
	rm.notify(models.NotificationTypeOpen, models.SeverityInfo, pos.Symbol,
		fmt.Sprintf("Opened %s %s: %.6f @ %.4f", pos.Side, pos.Symbol, pos.Size, pos.EntryPrice), nil)
}

// OnPartialClose уменьшает позицию после подтверждённого частичного
// закрытия. Реализованный PNL части попадает в журнал.
func (rm *RiskManager) OnPartialClose(symbol string, closedQty, exitPrice float64) {
	st := rm.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pos == nil {
		return
	}

	pnl := utils.CalculatePNL(sideLabel(st.pos.Side), st.pos.EntryPrice, exitPrice, closedQty)
	st.pos.Size -= closedQty
	if st.pos.Size <= 0 {
		pos := st.pos
		st.pos = nil
		st.stop = nil
		rm.recordClose(pos, exitPrice, closedQty, pnl, false)
		return
	}

	rm.logger.Info("position partially closed",
		utils.Symbol(symbol),
		utils.Volume(closedQty),
		utils.Price(exitPrice),
		utils.PNL(pnl))
	rm.applyPnl(pnl)
}

// OnTradeClosed фиксирует подтверждённое полное закрытие
func (rm *RiskManager) OnTradeClosed(symbol string, exitPrice float64, forced bool) {
	st := rm.state(symbol)
	st.mu.Lock()
	pos := st.pos
	st.pos = nil
	st.stop = nil
	st.mu.Unlock()

	if pos == nil {
		return
	}

	pnl := utils.CalculatePNL(sideLabel(pos.Side), pos.EntryPrice, exitPrice, pos.Size)
	rm.recordClose(pos, exitPrice, pos.Size, pnl, forced)
}

// recordClose обновляет журнал рисков и сохраняет сделку в БД
func (rm *RiskManager) recordClose(pos *models.Position, exitPrice, qty, pnl float64, forced bool) {
	rm.applyPnl(pnl)

	notifType := models.NotificationTypeClose
	severity := models.SeverityInfo
	if forced {
		notifType = models.NotificationTypeForcedClose
		severity = models.SeverityWarn
	}
	rm.notify(notifType, severity, pos.Symbol,
		fmt.Sprintf("Closed %s %s: %.6f @ %.4f, PNL %.2f USDT", pos.Side, pos.Symbol, qty, exitPrice, pnl),
		map[string]interface{}{"pnl": pnl, "forced": forced})

	rm.logger.Info("trade closed",
		utils.Symbol(pos.Symbol),
		utils.Side(pos.Side),
		utils.Price(exitPrice),
		utils.PNL(pnl),
		utils.Bool("forced", forced))

	if rm.trades == nil {
		return
	}

	record := &models.TradeRecord{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       qty,
		Pnl:        pnl,
		Forced:     forced,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rm.trades.Create(ctx, record); err != nil {
		rm.logger.Error("failed to persist trade record",
			utils.Symbol(pos.Symbol),
			utils.Err(err))
	}
}

// applyPnl обновляет счётчики рисков подтверждённым PNL
func (rm *RiskManager) applyPnl(pnl float64) {
	rm.ledgerMu.Lock()
	defer rm.ledgerMu.Unlock()
	rm.maybeResetDayLocked()

	rm.ledger.TotalTrades++
	rm.ledger.TotalPnl += pnl

	if pnl < 0 {
		rm.ledger.DailyRealizedLoss += -pnl
		rm.ledger.ConsecutiveLossCount++
	} else {
		rm.ledger.ConsecutiveLossCount = 0
	}

	DailyRealizedLoss.Set(rm.ledger.DailyRealizedLoss)
	ConsecutiveLosses.Set(float64(rm.ledger.ConsecutiveLossCount))
}

// maybeResetDayLocked сбрасывает дневные счётчики на границе суток UTC.
// Вызывается под ledgerMu.
func (rm *RiskManager) maybeResetDayLocked() {
	day := utils.GetDayStart()
	if rm.ledger.LastResetDay.Equal(day) {
		return
	}
	rm.ledger.DailyRealizedLoss = 0
	rm.ledger.LastResetDay = day
	DailyRealizedLoss.Set(0)
}

// ============================================================
// Срез состояния для API
// ============================================================

// CurrentPosition возвращает копию открытой позиции символа
func (rm *RiskManager) CurrentPosition(symbol string) (models.Position, bool) {
	st := rm.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pos == nil {
		return models.Position{}, false
	}
	return *st.pos, true
}

// TrailingState возвращает копию состояния защитных ордеров символа
func (rm *RiskManager) TrailingState(symbol string) (models.TrailingStopState, bool) {
	st := rm.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stop == nil {
		return models.TrailingStopState{}, false
	}
	out := *st.stop
	out.TakeProfits = append([]models.TakeProfitLevel(nil), st.stop.TakeProfits...)
	return out, true
}

// LedgerSnapshot возвращает копию счётчиков рисков
func (rm *RiskManager) LedgerSnapshot() models.RiskLedger {
	rm.ledgerMu.Lock()
	defer rm.ledgerMu.Unlock()
	rm.maybeResetDayLocked()
	return rm.ledger
}

// state возвращает (создавая при необходимости) состояние символа
func (rm *RiskManager) state(symbol string) *symbolState {
	rm.posMu.RLock()
	st, ok := rm.positions[symbol]
	rm.posMu.RUnlock()
	if ok {
		return st
	}

	rm.posMu.Lock()
	defer rm.posMu.Unlock()
	if st, ok = rm.positions[symbol]; ok {
		return st
	}
	st = &symbolState{}
	rm.positions[symbol] = st
	return st
}

// ============================================================
// Уведомления
// ============================================================

func (rm *RiskManager) notifyForcedClose(symbol, reason string) {
	rm.notify(models.NotificationTypeForcedClose, models.SeverityWarn, symbol,
		fmt.Sprintf("Forced close for %s: %s", symbol, reason), nil)
}

func (rm *RiskManager) notifyCeiling(symbol, reason string) {
	rm.notify(models.NotificationTypeCeiling, models.SeverityWarn, symbol,
		fmt.Sprintf("Risk ceiling for %s: %s", symbol, reason), nil)
}

func (rm *RiskManager) notify(notifType, severity, symbol, message string, meta map[string]interface{}) {
	tryEnqueueNotification(rm.notificationChan, &models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      notifType,
		Severity:  severity,
		Symbol:    symbol,
		Message:   message,
		Meta:      meta,
	})
}

// opposesPosition возвращает true, если сигнал направлен против позиции
func opposesPosition(direction, side string) bool {
	return side == models.SideLong && direction == venue.DirectionSell ||
		side == models.SideShort && direction == venue.DirectionBuy
}

// sideLabel маппит сторону позиции на формат CalculatePNL
func sideLabel(side string) string {
	if side == models.SideShort {
		return "SHORT"
	}
	return "LONG"
}
