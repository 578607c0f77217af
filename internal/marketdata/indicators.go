package marketdata

import (
	"time"

	"sentinel/internal/models"
	"sentinel/pkg/utils"
)

// ============================================================
// Пайплайн технических индикаторов
// ============================================================

// Периоды расчёта индикаторов
const (
	rsiPeriod       = 14
	atrPeriod       = 14
	smaShortPeriod  = 9
	smaLongPeriod   = 21
	bollingerPeriod = 20
	bollingerWidth  = 2.0

	// Порог силы тренда, ниже которого рынок считается боковым (%)
	sidewaysThreshold = 0.5
)

// snapshotTimeframe - таймфрейм, по которому считаются индикаторы
const snapshotTimeframe = models.Timeframe15m

// ComputeSnapshot считает снимок индикаторов по горячему окну символа.
// Возвращает false, если свечей недостаточно даже для RSI.
//
// Снимок после создания не мутируется; сохранение в кольцо истории -
// обязанность вызывающего (SetSnapshot).
func (s *Store) ComputeSnapshot(symbol string) (models.IndicatorSnapshot, bool) {
	bars := s.Read(symbol, snapshotTimeframe, smaLongPeriod+rsiPeriod)
	if len(bars) < rsiPeriod+1 {
		return models.IndicatorSnapshot{}, false
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	price := closes[len(closes)-1]

	snap := models.IndicatorSnapshot{
		Symbol:     symbol,
		ComputedAt: time.Now().UTC(),
		Price:      price,
		RSI:        computeRSI(closes, rsiPeriod),
		ATRPercent: computeATRPercent(bars, atrPeriod),
	}

	snap.TrendDirection, snap.TrendStrength = computeTrend(closes)
	snap.BollingerPosition = computeBollingerPosition(closes, price)

	if r, ok := s.Range(symbol); ok {
		snap.High24h = r.High24h
		snap.Low24h = r.Low24h
		snap.High7d = r.High7d
		snap.Low7d = r.Low7d
		snap.PricePosition24h = r.PricePosition(price)
	}

	return snap, true
}

// computeRSI - RSI по Уайлдеру со сглаживанием средних gain/loss.
// Требует минимум period+1 точек.
func computeRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// computeATRPercent - средний истинный диапазон в процентах от цены.
func computeATRPercent(bars []models.Bar, period int) float64 {
	if len(bars) < 2 {
		return 0
	}
	if len(bars)-1 < period {
		period = len(bars) - 1
	}

	var sum float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := utils.Max(bars[i].High-bars[i].Low,
			utils.Max(utils.Abs(bars[i].High-prevClose), utils.Abs(bars[i].Low-prevClose)))
		sum += tr
	}
	atr := sum / float64(period)

	price := bars[len(bars)-1].Close
	if price <= 0 {
		return 0
	}
	return atr / price * 100.0
}

// computeTrend определяет направление тренда по паре SMA и его силу
// как процентное изменение за длинное окно.
func computeTrend(closes []float64) (string, float64) {
	if len(closes) < smaLongPeriod {
		return models.TrendSideways, 0
	}

	smaShort := utils.Mean(closes[len(closes)-smaShortPeriod:])
	smaLong := utils.Mean(closes[len(closes)-smaLongPeriod:])

	first := closes[len(closes)-smaLongPeriod]
	last := closes[len(closes)-1]
	strength := utils.Abs(utils.PercentChange(first, last))

	if strength < sidewaysThreshold {
		return models.TrendSideways, strength
	}
	if smaShort > smaLong {
		return models.TrendUp, strength
	}
	if smaShort < smaLong {
		return models.TrendDown, strength
	}
	return models.TrendSideways, strength
}

// computeBollingerPosition - позиция цены внутри полосы Боллинджера,
// 0% у нижней границы, 100% у верхней. При вырожденной полосе 50%.
func computeBollingerPosition(closes []float64, price float64) float64 {
	window := closes
	if len(window) > bollingerPeriod {
		window = window[len(window)-bollingerPeriod:]
	}
	if len(window) < 2 {
		return 50.0
	}

	mid := utils.Mean(window)
	sd := utils.StandardDeviation(window)
	if sd == 0 {
		return 50.0
	}

	lower := mid - bollingerWidth*sd
	upper := mid + bollingerWidth*sd
	return utils.Clamp((price-lower)/(upper-lower)*100.0, 0, 100)
}
