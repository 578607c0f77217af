package models

import "time"

// Направления тренда
const (
	TrendUp       = "up"
	TrendDown     = "down"
	TrendSideways = "sideways"
)

// IndicatorSnapshot - снимок технических индикаторов по символу.
//
// Создаётся пайплайном данных на каждом тике и после создания не
// мутируется. Хранится последний снимок плюс ограниченное кольцо
// истории для анализа тренда во времени.
type IndicatorSnapshot struct {
	Symbol            string    `json:"symbol"`
	ComputedAt        time.Time `json:"computed_at"`
	Price             float64   `json:"price"`              // цена закрытия последней свечи
	RSI               float64   `json:"rsi"`                // RSI-14
	ATRPercent        float64   `json:"atr_percent"`        // ATR в % от цены
	TrendDirection    string    `json:"trend_direction"`    // up, down, sideways
	TrendStrength     float64   `json:"trend_strength"`     // |изменение| за окно, %
	BollingerPosition float64   `json:"bollinger_position"` // позиция в полосе, 0-100%
	High24h           float64   `json:"high_24h"`
	Low24h            float64   `json:"low_24h"`
	High7d            float64   `json:"high_7d"`
	Low7d             float64   `json:"low_7d"`
	PricePosition24h  float64   `json:"price_position_24h"` // 0-100%
}
