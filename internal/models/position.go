package models

import "time"

// Стороны позиции
const (
	SideLong  = "long"  // длинная позиция (ставка на рост)
	SideShort = "short" // короткая позиция (ставка на падение)
)

// Position представляет открытую позицию на площадке исполнения.
//
// Владелец - риск-менеджер; мутируется только подтверждёнными
// исполнениями от площадки (fill), не промежуточными котировками.
type Position struct {
	Symbol               string    `json:"symbol"`
	Side                 string    `json:"side"` // long, short
	EntryPrice           float64   `json:"entry_price"`
	Size                 float64   `json:"size"` // объём в базовой валюте
	Leverage             int       `json:"leverage"`
	OpenedAt             time.Time `json:"opened_at"`
	UnrealizedPnlPercent float64   `json:"unrealized_pnl_percent"`
}

// PnlPercent возвращает нереализованный PNL позиции в % при текущей цене.
func (p *Position) PnlPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	change := (price - p.EntryPrice) / p.EntryPrice * 100.0
	if p.Side == SideShort {
		return -change
	}
	return change
}

// Фазы трейлинг-стопа (state machine)
const (
	PhaseInitial   = "INITIAL"   // стоп на стартовом расстоянии от входа
	PhaseBreakeven = "BREAKEVEN" // стоп переведён в безубыток
	PhaseLocking   = "LOCKING"   // стоп фиксирует долю достигнутых рубежей прибыли
	PhaseTrailing  = "TRAILING"  // стоп следует за лучшей ценой на фикс. дистанции
)

// TakeProfitLevel - один уровень частичного тейк-профита.
type TakeProfitLevel struct {
	OffsetPercent float64 `json:"offset_percent"` // смещение от цены входа, %
	CloseFraction float64 `json:"close_fraction"` // доля позиции к закрытию (0-1)
	Triggered     bool    `json:"triggered"`      // уровень уже сработал
}

// TrailingStopState - состояние защитных ордеров открытой позиции.
//
// Инвариант: для long StopPrice монотонно не убывает за время жизни
// состояния, для short - монотонно не возрастает. Создаётся при
// открытии позиции, обновляется раз в тик, уничтожается при закрытии.
type TrailingStopState struct {
	Symbol           string            `json:"symbol"`
	Side             string            `json:"side"`
	EntryPrice       float64           `json:"entry_price"`
	StopPrice        float64           `json:"stop_price"`
	Phase            string            `json:"phase"`
	HighestFavorable float64           `json:"highest_favorable"` // лучшая достигнутая цена (min для short)
	TakeProfits      []TakeProfitLevel `json:"take_profits"`
	MilestoneIdx     int               `json:"milestone_idx"` // следующий непройденный рубеж LOCKING
	UpdatedAt        time.Time         `json:"updated_at"`
}
