package models

import "time"

// RiskLedger - счётчики рисков на время жизни процесса.
//
// DailyRealizedLoss накапливает только убытки (положительное число в
// USDT), сбрасывается на границе суток UTC. ConsecutiveLossCount
// увеличивается убыточным закрытием и обнуляется прибыльным.
// Счётчики мутируются только подтверждёнными закрытиями сделок.
type RiskLedger struct {
	DailyRealizedLoss    float64   `json:"daily_realized_loss"`
	ConsecutiveLossCount int       `json:"consecutive_loss_count"`
	LastResetDay         time.Time `json:"last_reset_day"` // начало суток UTC последнего сброса
	TotalTrades          int       `json:"total_trades"`
	TotalPnl             float64   `json:"total_pnl"`
}

// TradeRecord - подтверждённое закрытие сделки для журнала.
type TradeRecord struct {
	ID         int       `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	ExitPrice  float64   `json:"exit_price" db:"exit_price"`
	Size       float64   `json:"size" db:"size"`
	Pnl        float64   `json:"pnl" db:"pnl"`
	Forced     bool      `json:"forced" db:"forced"` // закрытие по потолку риска / CRITICAL crash
	OpenedAt   time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time `json:"closed_at" db:"closed_at"`
}
