package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о деградации и потолках риска

// ============ Планировщик ============

// TicksProcessed - обработанные тики по символам и режиму
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "ticks_processed_total",
		Help:      "Processed ticks by symbol and mode (monitor/fallback)",
	},
	[]string{"symbol", "mode"},
)

// TicksSkipped - тики, пропущенные из-за занятой очереди символа
var TicksSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped because the symbol queue was busy",
	},
	[]string{"symbol"},
)

// TickErrors - тики, завершившиеся ошибкой
var TickErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "tick_errors_total",
		Help:      "Ticks that failed with an error",
	},
	[]string{"symbol"},
)

// TickDuration - длительность тика
var TickDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Tick duration from bar fetch to reconcile",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"symbol"},
)

// FallbackRuns - резервные проходы надзорного контура
var FallbackRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "scheduler",
		Name:      "fallback_runs_total",
		Help:      "Fallback passes triggered by a stalled monitor",
	},
	[]string{"symbol"},
)

// ============ Детектор обвалов ============

// CrashEventsDetected - обнаруженные обвалы по серьёзности
var CrashEventsDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "crash",
		Name:      "events_total",
		Help:      "Detected crash events by severity",
	},
	[]string{"symbol", "severity"},
)

// EvaluationsSkipped - оценки, пропущенные контролем качества данных
var EvaluationsSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "crash",
		Name:      "evaluations_skipped_total",
		Help:      "Crash evaluations skipped by the data-quality gate (stale/quality)",
	},
	[]string{"symbol", "reason"},
)

// ============ Риск-менеджер ============

// ForcedCloses - принудительные закрытия по причинам
var ForcedCloses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "risk",
		Name:      "forced_closes_total",
		Help:      "Forced position closes by trigger (ceiling/crash)",
	},
	[]string{"symbol", "trigger"},
)

// StopAdjustments - сдвиги защитного стопа по фазам
var StopAdjustments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "risk",
		Name:      "stop_adjustments_total",
		Help:      "Trailing stop advances by phase",
	},
	[]string{"symbol", "phase"},
)

// DailyRealizedLoss - текущий дневной реализованный убыток
var DailyRealizedLoss = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "risk",
		Name:      "daily_realized_loss_usdt",
		Help:      "Accumulated realized loss for the current UTC day",
	},
)

// ConsecutiveLosses - текущая серия убыточных сделок
var ConsecutiveLosses = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "risk",
		Name:      "consecutive_losses",
		Help:      "Current losing-trade streak",
	},
)

// ============ Координатор исполнения ============

// DecisionsExecuted - применённые решения по действиям и исходам
var DecisionsExecuted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "executor",
		Name:      "decisions_total",
		Help:      "Reconciled decisions by action and outcome",
	},
	[]string{"symbol", "action", "outcome"},
)

// DecisionLatency - латентность решение → площадка
var DecisionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "executor",
		Name:      "decision_latency_ms",
		Help:      "Latency from decision to venue confirmation in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 25000},
	},
	[]string{"symbol", "action"},
)

// VenueRetries - повторы вызовов площадки
var VenueRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "executor",
		Name:      "venue_retries_total",
		Help:      "Retried venue calls after transient failures",
	},
	[]string{"symbol"},
)

// PartialFills - частичные исполнения ордеров
var PartialFills = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "executor",
		Name:      "partial_fills_total",
		Help:      "Orders filled below the requested quantity",
	},
	[]string{"symbol"},
)

// DegradedMode - флаг деградированного режима по символам
var DegradedMode = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "executor",
		Name:      "degraded_mode",
		Help:      "1 when the symbol is in degraded mode (venue retry budget exhausted)",
	},
	[]string{"symbol"},
)

// ============ Уведомления ============

// NotificationOverflow - уведомления, потерянные из-за полного канала
var NotificationOverflow = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "notifications",
		Name:      "overflow_total",
		Help:      "Notifications dropped because the channel was full",
	},
)
