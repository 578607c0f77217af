// Package venue предоставляет интерфейс площадки исполнения ордеров.
package venue

import (
	"context"
	"errors"
	"time"

	"sentinel/internal/models"
)

// ExecutionVenue определяет унифицированный интерфейс площадки исполнения
type ExecutionVenue interface {
	// Connect устанавливает соединение с площадкой
	Connect(apiKey, secret string) error

	// GetName возвращает имя площадки
	GetName() string

	// GetBalance получает equity фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// GetTicker получает текущую цену актива
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// FetchBars получает последние limit свечей указанного таймфрейма,
	// отсортированные по возрастанию времени открытия
	FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error)

	// PlaceMarketOrder размещает рыночный ордер
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*OrderResult, error)

	// ClosePosition закрывает позицию (целиком или частично).
	// positionSide - сторона ЗАКРЫВАЕМОЙ позиции (models.SideLong /
	// models.SideShort); встречный ордер площадка строит сама
	ClosePosition(ctx context.Context, symbol, positionSide string, qty float64) (*OrderResult, error)

	// GetPosition получает открытую позицию по символу, nil если позиции нет
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)

	// GetLimits получает торговые лимиты площадки для символа
	GetLimits(ctx context.Context, symbol string) (*Limits, error)

	// Close закрывает соединения с площадкой
	Close() error
}

// SignalSource - источник торговых сигналов для открытия позиций.
//
// Надзорный цикл опрашивает его раз в CycleInterval; непрерывный
// монитор сигналами не занимается, только защитой позиций.
type SignalSource interface {
	// GetSignal возвращает направление и уверенность для символа
	GetSignal(ctx context.Context, symbol string) (*Signal, error)
}

// Signal - торговый сигнал от источника
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`  // BUY | SELL | HOLD
	Confidence float64   `json:"confidence"` // 0.0 - 1.0
	IssuedAt   time.Time `json:"issued_at"`
}

// Направления сигнала
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
	DirectionHold = "HOLD"
)

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`  // лучшая цена покупки
	AskPrice  float64   `json:"ask_price"`  // лучшая цена продажи
	LastPrice float64   `json:"last_price"` // последняя сделка
	Timestamp time.Time `json:"timestamp"`
}

// OrderResult представляет результат размещения ордера
type OrderResult struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "buy" или "sell"
	RequestedQty float64   `json:"requested_qty"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"` // "filled", "partial", "rejected"
	CreatedAt    time.Time `json:"created_at"`
}

// PartiallyFilled возвращает true, если ордер исполнен не полностью
func (o *OrderResult) PartiallyFilled() bool {
	return o.FilledQty > 0 && o.FilledQty < o.RequestedQty
}

// Limits содержит торговые ограничения площадки
type Limits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"` // минимальный размер ордера
	MaxOrderQty float64 `json:"max_order_qty"` // максимальный размер ордера
	QtyStep     float64 `json:"qty_step"`      // шаг изменения количества (lot size)
	MinNotional float64 `json:"min_notional"`  // минимальная сумма сделки в USDT
	PriceStep   float64 `json:"price_step"`    // шаг изменения цены (tick size)
	MaxLeverage int     `json:"max_leverage"`  // максимальное плечо
}

// Side constants for orders
const (
	SideBuy  = "buy"  // покупка (открытие long или закрытие short)
	SideSell = "sell" // продажа (открытие short или закрытие long)
)

// Order status constants
const (
	OrderStatusFilled   = "filled"
	OrderStatusPartial  = "partial"
	OrderStatusRejected = "rejected"
)

// Error представляет ошибку площадки исполнения.
//
// Transient помечает ошибки, которые имеет смысл повторять
// (сетевые сбои, rate limit, 5xx). Отказы площадки (невалидный
// ордер, недостаточно средств) транзиентными не являются.
type Error struct {
	Venue     string
	Code      string
	Message   string
	Transient bool
	Original  error
}

func (e *Error) Error() string {
	return e.Venue + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// Retryable реализует retry.RetryableError
func (e *Error) Retryable() bool {
	return e.Transient
}

// NewTransientError создаёт транзиентную ошибку площадки
func NewTransientError(venue, code, message string, original error) *Error {
	return &Error{Venue: venue, Code: code, Message: message, Transient: true, Original: original}
}

// NewRejectionError создаёт ошибку-отказ площадки (повтор бессмысленен)
func NewRejectionError(venue, code, message string) *Error {
	return &Error{Venue: venue, Code: code, Message: message, Transient: false}
}

// IsTransient проверяет, является ли ошибка транзиентной
func IsTransient(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Transient
	}
	return false
}

// IsRejection проверяет, является ли ошибка отказом площадки
func IsRejection(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return !ve.Transient
	}
	return false
}

// IsTimeout проверяет, истёк ли таймаут вызова
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
