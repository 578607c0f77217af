package bot

import (
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/pkg/utils"
)

// ValidPhaseTransitions определяет допустимые переходы фаз трейлинг-стопа.
// Движение только вперёд: фаза никогда не откатывается, даже если цена
// вернулась ниже рубежа активации.
var ValidPhaseTransitions = map[string][]string{
	models.PhaseInitial:   {models.PhaseBreakeven, models.PhaseLocking, models.PhaseTrailing},
	models.PhaseBreakeven: {models.PhaseLocking, models.PhaseTrailing},
	models.PhaseLocking:   {models.PhaseTrailing},
	models.PhaseTrailing:  {},
}

// CanTransition проверяет допустимость перехода фаз
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PhaseInfo возвращает описание фазы для UI
func PhaseInfo(phase string) string {
	switch phase {
	case models.PhaseInitial:
		return "Стоп на стартовом расстоянии от входа"
	case models.PhaseBreakeven:
		return "Стоп переведён в безубыток"
	case models.PhaseLocking:
		return "Стоп фиксирует долю достигнутой прибыли"
	case models.PhaseTrailing:
		return "Стоп следует за лучшей ценой"
	default:
		return "Неизвестная фаза"
	}
}

// NewTrailingStop создаёт состояние защитных ордеров для новой позиции.
// Стартовый стоп на StopLossPercent против направления позиции.
func NewTrailingStop(pos *models.Position, cfg config.RiskConfig) *models.TrailingStopState {
	stop := pos.EntryPrice * (1 - cfg.StopLossPercent/100)
	if pos.Side == models.SideShort {
		stop = pos.EntryPrice * (1 + cfg.StopLossPercent/100)
	}

	tps := make([]models.TakeProfitLevel, 0, len(cfg.EffectiveTakeProfits()))
	for _, lvl := range cfg.EffectiveTakeProfits() {
		tps = append(tps, models.TakeProfitLevel{
			OffsetPercent: lvl.OffsetPercent,
			CloseFraction: lvl.CloseFraction,
		})
	}

	return &models.TrailingStopState{
		Symbol:           pos.Symbol,
		Side:             pos.Side,
		EntryPrice:       pos.EntryPrice,
		StopPrice:        stop,
		Phase:            models.PhaseInitial,
		HighestFavorable: pos.EntryPrice,
		TakeProfits:      tps,
		UpdatedAt:        time.Now().UTC(),
	}
}

// clampStop применяет кандидата стопа с учётом инварианта монотонности.
// Единственное место, где StopPrice меняется: для long стоп никогда не
// опускается, для short никогда не поднимается - независимо от фазы.
func clampStop(ts *models.TrailingStopState, candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if ts.Side == models.SideShort {
		if candidate < ts.StopPrice {
			ts.StopPrice = candidate
			return true
		}
		return false
	}
	if candidate > ts.StopPrice {
		ts.StopPrice = candidate
		return true
	}
	return false
}

// favorableProfit возвращает прибыль лучшей достигнутой цены, %
func favorableProfit(ts *models.TrailingStopState) float64 {
	if ts.EntryPrice <= 0 {
		return 0
	}
	change := (ts.HighestFavorable - ts.EntryPrice) / ts.EntryPrice * 100
	if ts.Side == models.SideShort {
		return -change
	}
	return change
}

// advanceTrailing продвигает машину состояний на один тик.
//
// Обновляет лучшую достигнутую цену, фазу и стоп (через clampStop).
// Возвращает true, если стоп сдвинулся.
func advanceTrailing(ts *models.TrailingStopState, price float64, cfg config.RiskConfig) bool {
	if ts.Side == models.SideShort {
		ts.HighestFavorable = utils.Min(ts.HighestFavorable, price)
	} else {
		ts.HighestFavorable = utils.Max(ts.HighestFavorable, price)
	}

	profit := favorableProfit(ts)
	moved := false

	// Безубыток: прибыль пересекла порог активации
	if profit >= cfg.ActivationPercent {
		if clampStop(ts, ts.EntryPrice) {
			moved = true
		}
		transitionPhase(ts, models.PhaseBreakeven)
	}

	// Рубежи LOCKING: каждый пройденный рубеж фиксирует долю своей
	// прибыли; рубежи проходятся по возрастанию и не пересматриваются
	for ts.MilestoneIdx < len(cfg.Milestones) && profit >= cfg.Milestones[ts.MilestoneIdx] {
		m := cfg.Milestones[ts.MilestoneIdx]
		locked := m * cfg.LockFraction / 100
		candidate := ts.EntryPrice * (1 + locked)
		if ts.Side == models.SideShort {
			candidate = ts.EntryPrice * (1 - locked)
		}
		if clampStop(ts, candidate) {
			moved = true
		}
		ts.MilestoneIdx++
		transitionPhase(ts, models.PhaseLocking)
	}

	// За последним рубежом стоп следует за лучшей ценой
	if len(cfg.Milestones) == 0 && profit >= cfg.ActivationPercent ||
		len(cfg.Milestones) > 0 && ts.MilestoneIdx == len(cfg.Milestones) {
		transitionPhase(ts, models.PhaseTrailing)
	}

	if ts.Phase == models.PhaseTrailing {
		candidate := ts.HighestFavorable * (1 - cfg.TrailDistance/100)
		if ts.Side == models.SideShort {
			candidate = ts.HighestFavorable * (1 + cfg.TrailDistance/100)
		}
		if clampStop(ts, candidate) {
			moved = true
		}
	}

	if moved {
		ts.UpdatedAt = time.Now().UTC()
	}
	return moved
}

// transitionPhase переводит фазу, если переход допустим
func transitionPhase(ts *models.TrailingStopState, to string) {
	if ts.Phase != to && CanTransition(ts.Phase, to) {
		ts.Phase = to
	}
}

// stopHit возвращает true, если цена пересекла защитный стоп
func stopHit(ts *models.TrailingStopState, price float64) bool {
	if ts.Side == models.SideShort {
		return price >= ts.StopPrice
	}
	return price <= ts.StopPrice
}

// nextTakeProfit возвращает индекс следующего несработавшего уровня TP,
// пересечённого текущей ценой. Уровни строго по возрастанию смещения,
// сработавший уровень не срабатывает повторно. Возвращает -1, если
// срабатывать нечему.
func nextTakeProfit(ts *models.TrailingStopState, price float64) int {
	for i := range ts.TakeProfits {
		lvl := &ts.TakeProfits[i]
		if lvl.Triggered {
			continue
		}

		target := ts.EntryPrice * (1 + lvl.OffsetPercent/100)
		crossed := price >= target
		if ts.Side == models.SideShort {
			target = ts.EntryPrice * (1 - lvl.OffsetPercent/100)
			crossed = price <= target
		}

		if crossed {
			return i
		}
		// Уровни упорядочены: если этот не пересечён, дальние тоже нет
		return -1
	}
	return -1
}
