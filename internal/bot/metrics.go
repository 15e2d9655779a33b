package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Экспортируются на /metrics. Метки symbol ограничены списком
// символов, по которым реально приходят алерты.

const metricsNamespace = "confluence"

// ============ Алерты и кандидаты ============

// AlertsTotal - алерты по типу и результату приема
var AlertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "signals",
		Name:      "alerts_total",
		Help:      "Alerts received by type and ingest status",
	},
	[]string{"type", "status"}, // accepted, duplicate, expired, invalid
)

// CandidatesTotal - пары алертов, дошедшие до оценки
var CandidatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "signals",
		Name:      "candidates_total",
		Help:      "Scored alert pairs by outcome",
	},
	[]string{"symbol", "result"}, // emitted, below_threshold
)

// ============ Риск-гейт ============

// DecisionsTotal - решения гейта
var DecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk gate decisions by result and reason",
	},
	[]string{"result", "reason"},
)

// HaltsTotal - остановки торговли
var HaltsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "risk",
		Name:      "halts_total",
		Help:      "Trading halts by trigger",
	},
	[]string{"trigger"}, // daily_loss, manual
)

// GateHalted - 1 если торговля остановлена
var GateHalted = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "risk",
		Name:      "halted",
		Help:      "1 when the risk gate is halted",
	},
)

// ExposurePercent - занятая экспозиция в процентах equity
var ExposurePercent = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "risk",
		Name:      "exposure_percent",
		Help:      "Total reserved and open exposure in percent of equity",
	},
)

// DailyPnLPercent - реализованный PnL за день
var DailyPnLPercent = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "risk",
		Name:      "daily_realized_pnl_percent",
		Help:      "Realized PnL of the current trading day in percent",
	},
)

// ============ Позиции ============

// EntriesTotal - результаты входов
var EntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "entries_total",
		Help:      "Entry attempts by result",
	},
	[]string{"symbol", "result"}, // filled, failed
)

// ExitsTotal - исполненные выходы
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "exits_total",
		Help:      "Exit fills by reason",
	},
	[]string{"symbol", "reason"},
)

// StopLossTriggered - срабатывания стоп-лосса
var StopLossTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "stop_loss_triggered_total",
		Help:      "Number of stop loss triggers",
	},
	[]string{"symbol"},
)

// StalePositions - позиции, которые не удалось закрыть
var StalePositions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "stale_positions_total",
		Help:      "Positions flagged stale after exit retries were exhausted",
	},
	[]string{"symbol"},
)

// TradesTotal - закрытые позиции
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Closed positions by close reason",
	},
	[]string{"symbol", "reason"},
)

// TradePnLPercent - распределение доходности закрытых позиций
var TradePnLPercent = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "trade_pnl_percent",
		Help:      "Realized PnL per closed position in percent",
		Buckets:   []float64{-10, -5, -3, -1, 0, 1, 3, 5, 10, 20},
	},
)

// OpenPositions - позиции с объемом на бирже
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Current number of positions with exchange exposure",
	},
)

// OrderLatency - время размещения ордера до исполнения
var OrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "exchange",
		Name:      "order_latency_ms",
		Help:      "Time from order submission to fill in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"kind"}, // entry, exit
)

// ExchangeConnections - статус подключения к бирже
var ExchangeConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "exchange",
		Name:      "connection_status",
		Help:      "Exchange connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

// ExchangeEquity - equity аккаунта
var ExchangeEquity = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "exchange",
		Name:      "equity_usdt",
		Help:      "Account equity in USDT",
	},
	[]string{"exchange"},
)

// ============ Производительность ============

// TickLatency - время обработки тика воркером
var TickLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "tick_latency_ms",
		Help:      "Time to process a price tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 5, 50, 500},
	},
)

// TicksDropped - тики, отброшенные из-за полного канала воркера
var TicksDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "ticks_dropped_total",
		Help:      "Price ticks dropped because the symbol worker queue was full",
	},
	[]string{"symbol"},
)

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // notification, alert
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "buffer_backlog_ratio",
		Help:      "Buffer fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// Workers - запущенные воркеры символов
var Workers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "symbol_workers",
		Help:      "Number of running per-symbol workers",
	},
)

// ============ Вспомогательные функции ============

// RecordAlert записывает результат приема алерта
func RecordAlert(alertType, status string) {
	AlertsTotal.WithLabelValues(alertType, status).Inc()
}

// RecordCandidate записывает исход оценки пары
func RecordCandidate(symbol, result string) {
	CandidatesTotal.WithLabelValues(symbol, result).Inc()
}

// RecordDecision записывает решение гейта
func RecordDecision(symbol string, d Decision) {
	if d.Approved {
		DecisionsTotal.WithLabelValues("approved", "").Inc()
		return
	}
	DecisionsTotal.WithLabelValues("rejected", string(d.Reason)).Inc()
}

// RecordHalt записывает остановку торговли
func RecordHalt(trigger string) {
	HaltsTotal.WithLabelValues(trigger).Inc()
	GateHalted.Set(1)
}

// RecordEntry записывает результат входа
func RecordEntry(symbol, result string) {
	EntriesTotal.WithLabelValues(symbol, result).Inc()
}

// RecordExit записывает исполненный выход
func RecordExit(symbol, reason string) {
	ExitsTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordStopLoss записывает срабатывание стоп-лосса
func RecordStopLoss(symbol string) {
	StopLossTriggered.WithLabelValues(symbol).Inc()
}

// RecordStale записывает позицию, требующую вмешательства
func RecordStale(symbol string) {
	StalePositions.WithLabelValues(symbol).Inc()
}

// RecordTrade записывает закрытую позицию
func RecordTrade(symbol, reason string, pnlPercent float64) {
	TradesTotal.WithLabelValues(symbol, reason).Inc()
	TradePnLPercent.Observe(pnlPercent)
}

// RecordOrderLatency записывает время исполнения ордера
func RecordOrderLatency(kind string, d time.Duration) {
	OrderLatency.WithLabelValues(kind).Observe(float64(d.Microseconds()) / 1000)
}

// RecordTickLatency записывает время обработки тика
func RecordTickLatency(d time.Duration) {
	TickLatency.Observe(float64(d.Microseconds()) / 1000)
}

// RecordTickDropped записывает отброшенный тик
func RecordTickDropped(symbol string) {
	TicksDropped.WithLabelValues(symbol).Inc()
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}

// UpdateRiskGauges обновляет метрики состояния гейта
func UpdateRiskGauges(halted bool, exposurePercent, dailyPnL float64) {
	if halted {
		GateHalted.Set(1)
	} else {
		GateHalted.Set(0)
	}
	ExposurePercent.Set(exposurePercent)
	DailyPnLPercent.Set(dailyPnL)
}

// UpdateExchangeStatus обновляет статус биржи
func UpdateExchangeStatus(exchange string, connected bool, equity float64) {
	if connected {
		ExchangeConnections.WithLabelValues(exchange).Set(1)
	} else {
		ExchangeConnections.WithLabelValues(exchange).Set(0)
	}
	if equity > 0 {
		ExchangeEquity.WithLabelValues(exchange).Set(equity)
	}
}
