package bot

import (
	"context"
	"math"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/internal/venue"
	"sentinel/pkg/utils"
)

// Общие помощники тестов пакета bot: тихий логгер, типовые
// конфигурации и заглушка площадки исполнения.

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLossPercent:      2.0,
		ActivationPercent:    1.5,
		Milestones:           []float64{3, 5, 8},
		LockFraction:         0.5,
		TrailDistance:        1.5,
		MaxDailyLoss:         100,
		MaxConsecutiveLosses: 3,
		MaxPositionRisk:      0.05,
		Leverage:             10,
		PositionSize:         0.01,
	}
}

func testCrashConfig() config.CrashConfig {
	return config.CrashConfig{
		Thresholds: map[string]float64{
			models.Timeframe15m: 1.5,
			models.Timeframe1h:  2.5,
			models.Timeframe4h:  3.5,
			models.Timeframe1d:  5.0,
		},
		AccelPeriods:   3,
		AccelThreshold: 1.5,
		StalenessBound: 5 * time.Minute,
		MinValidVolume: 0.1,
		EventHistory:   10,
	}
}

func testVenueConfig() config.VenueConfig {
	return config.VenueConfig{
		CallTimeout:      time.Second,
		LocalReadTimeout: 100 * time.Millisecond,
		MaxRetries:       3,
		RetryBackoff:     time.Millisecond,
	}
}

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// ============================================================
// Заглушка площадки исполнения
// ============================================================

// placedOrder - зафиксированный заглушкой вызов
type placedOrder struct {
	Symbol string
	Side   string
	Qty    float64
}

// stubVenue реализует venue.ExecutionVenue для тестов.
// Очередь placeErrs отдаёт ошибки по одной до первого успеха.
type stubVenue struct {
	mu sync.Mutex

	placeErrs []error
	closeErrs []error
	fillPrice float64
	fillRatio float64 // доля исполнения запрошенного объёма, 0 = полная

	placed []placedOrder
	closed []placedOrder

	bars       []models.Bar
	fetchCalls int

	limits *venue.Limits
}

func newStubVenue() *stubVenue {
	return &stubVenue{fillPrice: 50000}
}

func (v *stubVenue) Connect(apiKey, secret string) error { return nil }
func (v *stubVenue) GetName() string                     { return "stub" }
func (v *stubVenue) Close() error                        { return nil }

func (v *stubVenue) GetBalance(ctx context.Context) (float64, error) {
	return 10000, nil
}

func (v *stubVenue) GetTicker(ctx context.Context, symbol string) (*venue.Ticker, error) {
	return &venue.Ticker{Symbol: symbol, LastPrice: v.fillPrice, Timestamp: time.Now().UTC()}, nil
}

func (v *stubVenue) FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fetchCalls++
	return v.bars, nil
}

func (v *stubVenue) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*venue.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.placeErrs) > 0 {
		err := v.placeErrs[0]
		v.placeErrs = v.placeErrs[1:]
		return nil, err
	}

	v.placed = append(v.placed, placedOrder{Symbol: symbol, Side: side, Qty: qty})
	return v.fill(symbol, side, qty), nil
}

// ClosePosition повторяет контракт Bybit: параметр - сторона
// закрываемой позиции, встречный ордер строит сама заглушка
func (v *stubVenue) ClosePosition(ctx context.Context, symbol, positionSide string, qty float64) (*venue.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.closeErrs) > 0 {
		err := v.closeErrs[0]
		v.closeErrs = v.closeErrs[1:]
		return nil, err
	}

	var orderSide string
	switch positionSide {
	case models.SideLong:
		orderSide = venue.SideSell
	case models.SideShort:
		orderSide = venue.SideBuy
	default:
		return nil, venue.NewRejectionError("stub", "bad_side", "unknown position side "+positionSide)
	}

	v.closed = append(v.closed, placedOrder{Symbol: symbol, Side: positionSide, Qty: qty})
	return v.fill(symbol, orderSide, qty), nil
}

func (v *stubVenue) fill(symbol, side string, qty float64) *venue.OrderResult {
	filled := qty
	status := venue.OrderStatusFilled
	if v.fillRatio > 0 && v.fillRatio < 1 {
		filled = qty * v.fillRatio
		status = venue.OrderStatusPartial
	}
	return &venue.OrderResult{
		OrderID:      "stub-order",
		Symbol:       symbol,
		Side:         side,
		RequestedQty: qty,
		FilledQty:    filled,
		AvgFillPrice: v.fillPrice,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
}

func (v *stubVenue) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return nil, nil
}

func (v *stubVenue) GetLimits(ctx context.Context, symbol string) (*venue.Limits, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.limits != nil {
		return v.limits, nil
	}
	return &venue.Limits{
		Symbol:      symbol,
		MinOrderQty: 0.001,
		MaxOrderQty: 100,
		QtyStep:     0.001,
		MaxLeverage: 100,
	}, nil
}

func (v *stubVenue) placeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.placed)
}

func (v *stubVenue) fetchCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetchCalls
}

// stubSignals реализует venue.SignalSource с фиксированным ответом
type stubSignals struct {
	signal *venue.Signal
	err    error
}

func (s *stubSignals) GetSignal(ctx context.Context, symbol string) (*venue.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.signal, nil
}
