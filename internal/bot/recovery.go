package bot

import (
	"context"
	"fmt"
	"time"

	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// RiskStateStore - сохранение дневных счетчиков гейта
type RiskStateStore interface {
	LoadRiskState(ctx context.Context) (*models.RiskState, error)
	SaveRiskState(ctx context.Context, st models.RiskState) error
}

// PositionSnapshots - снапшоты позиций с загрузкой для восстановления
type PositionSnapshots interface {
	PositionStore
	LoadPositions(ctx context.Context) ([]*models.Position, error)
}

// TradeHistory - журнал закрытых сделок за торговый день
type TradeHistory interface {
	DayActivity(ctx context.Context, from time.Time) (*models.DayActivity, error)
}

// RecoveryConfig - конфигурация восстановления
type RecoveryConfig struct {
	// AdoptSizingPercent - размер, с которым учитывается позиция,
	// найденная на бирже без снапшота
	AdoptSizingPercent float64

	// RecoveryTimeout - таймаут на весь процесс восстановления
	RecoveryTimeout time.Duration
}

// DefaultRecoveryConfig возвращает конфигурацию по умолчанию
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		AdoptSizingPercent: 5,
		RecoveryTimeout:    30 * time.Second,
	}
}

// RecoveryResult содержит результаты процесса восстановления
type RecoveryResult struct {
	LedgerEntries     int
	RiskStateRestored bool
	SameDayCounters   bool
	CountersTightened bool // снимок отставал от журнала сделок и биржи
	Restored          []string // позиции из снапшотов, подтвержденные биржей
	Adopted           []string // позиции биржи без снапшота
	ClosedExternally  []string // снапшоты без позиции на бирже
	Errors            []error
}

// RecoveryManager восстанавливает состояние после рестарта процесса.
//
// Единственный источник правды об открытых позициях - биржа; снапшоты
// из БД дают уровни выхода и пик трейлинга.
type RecoveryManager struct {
	cfg       RecoveryConfig
	engine    *Engine
	ledger    *Ledger
	riskStore RiskStateStore    // может быть nil
	snapshots PositionSnapshots // может быть nil
	trades    TradeHistory      // может быть nil
	exchange  exchange.Futures
	log       *utils.Logger
}

// NewRecoveryManager создает менеджер восстановления
func NewRecoveryManager(cfg RecoveryConfig, engine *Engine, ledger *Ledger, riskStore RiskStateStore,
	snapshots PositionSnapshots, ex exchange.Futures, logger *utils.Logger) *RecoveryManager {
	def := DefaultRecoveryConfig()
	if cfg.AdoptSizingPercent <= 0 {
		cfg.AdoptSizingPercent = def.AdoptSizingPercent
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	return &RecoveryManager{
		cfg:       cfg,
		engine:    engine,
		ledger:    ledger,
		riskStore: riskStore,
		snapshots: snapshots,
		exchange:  ex,
		log:       logger.WithComponent("recovery"),
	}
}

// WithTradeHistory подключает журнал сделок для пересчета дневных счетчиков
func (rm *RecoveryManager) WithTradeHistory(h TradeHistory) *RecoveryManager {
	rm.trades = h
	return rm
}

// Recover выполняется после Engine.Start и до подключения фида алертов.
//
// Шаги:
// 1. Загрузка журнала обработанных алертов
// 2. Восстановление счетчиков гейта (только за текущий день) и остановки
// 3. Сверка позиций биржи со снапшотами
// 4. Пересчет дневных счетчиков по журналу сделок и живым позициям
// 5. Уведомление оператора
func (rm *RecoveryManager) Recover(ctx context.Context) (*RecoveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, rm.cfg.RecoveryTimeout)
	defer cancel()

	result := &RecoveryResult{}

	// Шаг 1: без журнала нельзя гарантировать отсутствие повторных сделок
	n, err := rm.ledger.Load(ctx)
	if err != nil {
		return result, err
	}
	result.LedgerEntries = n

	// Шаг 2
	gate := rm.engine.Gate()
	if rm.riskStore != nil {
		st, err := rm.riskStore.LoadRiskState(ctx)
		if err != nil {
			return result, fmt.Errorf("load risk state: %w", err)
		}
		if st != nil {
			gate.Restore(*st)
			result.RiskStateRestored = true
			result.SameDayCounters = st.TradingDay == gate.Snapshot().TradingDay
		}
	}

	// Шаг 3
	venuePositions, err := rm.exchange.GetOpenPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("get venue positions: %w", err)
	}
	var snaps []*models.Position
	if rm.snapshots != nil {
		if snaps, err = rm.snapshots.LoadPositions(ctx); err != nil {
			return result, fmt.Errorf("load position snapshots: %w", err)
		}
	}
	rm.reconcile(ctx, venuePositions, snaps, result)

	// Шаг 4: снимок сохраняется асинхронно и мог не пережить падение
	if err := rm.tightenCounters(ctx, result); err != nil {
		result.Errors = append(result.Errors, err)
		rm.log.Error("rebuild daily counters failed", utils.Err(err))
	}

	// Шаг 5
	st := gate.Snapshot()
	msg := fmt.Sprintf("Recovery complete: %d alert ids, %d restored, %d adopted, %d closed externally, trades today %d",
		result.LedgerEntries, len(result.Restored), len(result.Adopted), len(result.ClosedExternally), st.DailyTradeCount)
	if st.Mode == models.GateHalted {
		msg += "; trading is HALTED: " + st.HaltedReason
	}
	rm.engine.notify(newNotification(rm.engine.deps.Clock(), models.NotificationTypeRecovery, "", msg,
		map[string]interface{}{
			"restored":          result.Restored,
			"adopted":           result.Adopted,
			"closed_externally": result.ClosedExternally,
			"errors":            len(result.Errors),
		}))
	rm.log.Info("recovery complete",
		utils.Int("ledger", result.LedgerEntries),
		utils.Int("restored", len(result.Restored)),
		utils.Int("adopted", len(result.Adopted)),
		utils.Int("closed_externally", len(result.ClosedExternally)))

	return result, nil
}

// tightenCounters пересчитывает сделки и PnL текущего дня.
// Сделка дня - либо закрытая запись журнала, открытая сегодня,
// либо живая позиция, открытая сегодня (принятые без снапшота считаются сегодняшними).
func (rm *RecoveryManager) tightenCounters(ctx context.Context, result *RecoveryResult) error {
	gate := rm.engine.Gate()
	dayStart := gate.DayStart()

	trades := 0
	for _, p := range rm.engine.Positions() {
		if !p.OpenedAt.Before(dayStart) {
			trades++
		}
	}

	before := gate.Snapshot()
	pnl := before.DailyRealizedPnLPercent
	if rm.trades != nil {
		activity, err := rm.trades.DayActivity(ctx, dayStart)
		if err != nil {
			return fmt.Errorf("load trade history: %w", err)
		}
		trades += activity.Opened
		pnl = activity.RealizedPnLPercent
	}

	gate.TightenDay(trades, pnl)
	after := gate.Snapshot()
	result.CountersTightened = after.DailyTradeCount != before.DailyTradeCount ||
		after.DailyRealizedPnLPercent != before.DailyRealizedPnLPercent
	return nil
}

// reconcile сопоставляет позиции биржи со снапшотами
func (rm *RecoveryManager) reconcile(ctx context.Context, venue []*exchange.Position, snaps []*models.Position, result *RecoveryResult) {
	gate := rm.engine.Gate()
	bySymbol := make(map[string]*models.Position, len(snaps))
	for _, s := range snaps {
		bySymbol[s.Symbol] = s
	}

	for _, vp := range venue {
		if vp.Size <= 0 {
			continue
		}
		snap := bySymbol[vp.Symbol]
		delete(bySymbol, vp.Symbol)

		var (
			sizing  float64
			adopted bool
		)
		err := rm.engine.exec(ctx, vp.Symbol, func(wctx context.Context, w *symbolWorker) {
			if snap != nil && snap.Side == vp.Side && snap.Size > 0 && HasOpenPosition(snap.State) {
				w.pm.Restore(snap)
				w.pm.SyncSize(vp.Size)
				p := w.pm.Snapshot()
				sizing = p.SizingPercent * p.RemainingSize / p.Size
				return
			}
			sizing = rm.cfg.AdoptSizingPercent
			if snap != nil && snap.SizingPercent > 0 {
				sizing = snap.SizingPercent
			}
			w.pm.Adopt(vp, sizing)
			w.pm.persist(wctx, true)
			adopted = true
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", vp.Symbol, err))
			continue
		}

		gate.RestoreExposure(vp.Symbol, sizing)
		rm.engine.ensureSubscribed(vp.Symbol)
		if adopted {
			result.Adopted = append(result.Adopted, vp.Symbol)
			rm.log.Warn("adopted venue position without snapshot",
				utils.Symbol(vp.Symbol), utils.Side(vp.Side), utils.Quantity(vp.Size))
		} else {
			result.Restored = append(result.Restored, vp.Symbol)
		}
	}

	// Снапшоты, которых биржа не знает: позицию закрыли вне бота
	for symbol, snap := range bySymbol {
		if !HasOpenPosition(snap.State) || snap.Size <= 0 {
			// вход не успел исполниться до падения
			if err := rm.snapshots.DeletePosition(ctx, symbol); err != nil {
				result.Errors = append(result.Errors, err)
			}
			continue
		}

		price := snap.EntryPrice
		if mp, err := rm.exchange.GetMarkPrice(ctx, symbol); err == nil {
			price = mp
		}
		err := rm.engine.exec(ctx, symbol, func(wctx context.Context, w *symbolWorker) {
			w.pm.Restore(snap)
			w.pm.CloseExternal(wctx, price)
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		result.ClosedExternally = append(result.ClosedExternally, symbol)
	}
	rm.engine.updateOpenPositions()
}
