package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики хранилища рыночных данных
// ============================================================

// HotBarsTotal - количество свечей, принятых горячим окном
var HotBarsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "hot_bars_total",
		Help:      "Bars accepted into the hot window",
	},
	[]string{"symbol", "timeframe"},
)

// StaleBarsIgnored - запоздавшие свечи, отброшенные горячим окном
var StaleBarsIgnored = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "stale_bars_ignored_total",
		Help:      "Out-of-order bars rejected by the hot window",
	},
	[]string{"symbol", "timeframe"},
)

// SpilledBars - свечи, успешно сброшенные в warm-хранилище
var SpilledBars = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "spilled_bars_total",
		Help:      "Evicted bars persisted to warm storage",
	},
)

// SpillDropped - свечи, потерянные из-за переполнения буфера сброса
var SpillDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "spill_dropped_total",
		Help:      "Evicted bars dropped because the spill buffer was full",
	},
)

// SpillErrors - ошибки записи в warm-хранилище
var SpillErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "spill_errors_total",
		Help:      "Warm storage insert failures",
	},
)

// WarmReadErrors - ошибки чтения warm-хранилища при ReadRange
var WarmReadErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "warm_read_errors_total",
		Help:      "Warm storage read failures during range reads",
	},
	[]string{"symbol"},
)

// ReducerRuns - завершённые проходы даунсэмплинга warm→cold
var ReducerRuns = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "reducer_runs_total",
		Help:      "Completed warm-to-cold downsampling passes",
	},
)

// ReducedBars - warm-свечи, свёрнутые в cold за всё время
var ReducedBars = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "reduced_bars_total",
		Help:      "Warm bars aggregated into cold bars",
	},
)

// ReducerErrors - ошибки прохода даунсэмплинга
var ReducerErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "marketdata",
		Name:      "reducer_errors_total",
		Help:      "Failed warm-to-cold downsampling passes",
	},
)
