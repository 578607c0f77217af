package bot

import (
	"context"
	"time"

	"sentinel/internal/marketdata"
	"sentinel/internal/models"
	"sentinel/internal/venue"
	"sentinel/pkg/utils"
)

// ============================================================
// Базовый источник сигналов
// ============================================================

// Параметры скользящих средних базового источника
const (
	momentumFastPeriod = 8
	momentumSlowPeriod = 24
	// минимальный разрыв средних для ненейтрального сигнала, %
	momentumMinSpread = 0.3
)

// MomentumSignals - базовый источник сигналов на пересечении
// скользящих средних по 15m свечам из локального хранилища.
//
// Это заглушка для подключения внешнего источника: интерфейс
// venue.SignalSource позволяет заменить её чем угодно, не трогая
// планировщик. Уверенность растёт с разрывом между средними,
// насыщаясь на удвоенном пороге.
type MomentumSignals struct {
	store *marketdata.Store
}

func NewMomentumSignals(store *marketdata.Store) *MomentumSignals {
	return &MomentumSignals{store: store}
}

// GetSignal возвращает направление по символу или HOLD.
func (m *MomentumSignals) GetSignal(ctx context.Context, symbol string) (*venue.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars := m.store.Read(symbol, models.Timeframe15m, momentumSlowPeriod)
	if len(bars) < momentumSlowPeriod {
		return hold(symbol), nil
	}

	fast := smaClose(bars[len(bars)-momentumFastPeriod:])
	slow := smaClose(bars)
	if slow <= 0 {
		return hold(symbol), nil
	}

	spread := utils.PercentChange(slow, fast)
	signal := &venue.Signal{
		Symbol:   symbol,
		IssuedAt: time.Now().UTC(),
	}

	switch {
	case spread >= momentumMinSpread:
		signal.Direction = venue.DirectionBuy
	case spread <= -momentumMinSpread:
		signal.Direction = venue.DirectionSell
	default:
		signal.Direction = venue.DirectionHold
		return signal, nil
	}

	signal.Confidence = confidenceForSpread(spread)
	return signal, nil
}

// confidenceForSpread отображает |spread| в уверенность 0.5-1.0,
// насыщаясь на удвоенном пороге.
func confidenceForSpread(spread float64) float64 {
	abs := spread
	if abs < 0 {
		abs = -abs
	}
	conf := 0.5 + 0.5*(abs-momentumMinSpread)/momentumMinSpread
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

func smaClose(bars []models.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}

func hold(symbol string) *venue.Signal {
	return &venue.Signal{
		Symbol:    symbol,
		Direction: venue.DirectionHold,
		IssuedAt:  time.Now().UTC(),
	}
}
