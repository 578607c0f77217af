package models

import "time"

// Bar представляет одну OHLCV свечу фиксированного таймфрейма.
//
// Свеча неизменяема после добавления в хранилище. Уникальность
// определяется тройкой (Symbol, Timeframe, OpenTime).
type Bar struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe string    `json:"timeframe" db:"timeframe"`
	OpenTime  time.Time `json:"open_time" db:"open_time"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// Поддерживаемые таймфреймы
const (
	Timeframe1m  = "1m"
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
	Timeframe1d  = "1d"
)

// TimeframeMinutes - длительность таймфрейма в минутах
var TimeframeMinutes = map[string]int{
	Timeframe1m:  1,
	Timeframe5m:  5,
	Timeframe15m: 15,
	Timeframe1h:  60,
	Timeframe4h:  240,
	Timeframe1d:  1440,
}

// TimeframeDuration возвращает длительность таймфрейма.
// Для неизвестного таймфрейма возвращает 0.
func TimeframeDuration(tf string) time.Duration {
	return time.Duration(TimeframeMinutes[tf]) * time.Minute
}

// ColdTimeframe возвращает более грубый таймфрейм для даунсэмплинга
// (15m→1h, 1h→4h, 4h→1d). Для остальных возвращает исходный.
func ColdTimeframe(tf string) string {
	switch tf {
	case Timeframe15m:
		return Timeframe1h
	case Timeframe1h:
		return Timeframe4h
	case Timeframe4h:
		return Timeframe1d
	default:
		return tf
	}
}

// PriceRange - инкрементальный кэш экстремумов цены за 24h/7d окна.
// Обновляется при каждом добавлении свечи, 24h окно сбрасывается
// на границе суток (UTC).
type PriceRange struct {
	Symbol  string    `json:"symbol"`
	High24h float64   `json:"high_24h"`
	Low24h  float64   `json:"low_24h"`
	High7d  float64   `json:"high_7d"`
	Low7d   float64   `json:"low_7d"`
	Day     time.Time `json:"day"` // начало суток, к которым относится 24h окно
}

// PricePosition возвращает положение цены внутри 24h диапазона (0-100%).
// При вырожденном диапазоне возвращает 50.
func (r *PriceRange) PricePosition(price float64) float64 {
	if r.High24h <= r.Low24h {
		return 50.0
	}
	return (price - r.Low24h) / (r.High24h - r.Low24h) * 100.0
}
