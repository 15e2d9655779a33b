package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/retry"
	"confluencebot/pkg/utils"
)

// ErrNoLivePosition - по символу нет позиции, которой можно управлять
var ErrNoLivePosition = errors.New("no live position")

// PositionConfig - параметры выхода из позиции
type PositionConfig struct {
	StopLossPercent           float64
	TakeProfitLevels          []models.TakeProfitLevel
	TrailingActivationPercent float64 // 0 - трейлинг выключен
	TrailingCallbackPercent   float64
	EntryTimeout              time.Duration
	ExitOrderType             string
	ExitRetry                 retry.Config

	// PersistInterval ограничивает частоту сохранения пика трейлинга
	PersistInterval time.Duration
}

// DefaultPositionConfig возвращает конфигурацию по умолчанию
func DefaultPositionConfig() PositionConfig {
	return PositionConfig{
		StopLossPercent: 3,
		TakeProfitLevels: []models.TakeProfitLevel{
			{TriggerPercent: 5, CloseFraction: 0.5},
			{TriggerPercent: 10, CloseFraction: 0.5},
		},
		TrailingActivationPercent: 0,
		TrailingCallbackPercent:   1,
		EntryTimeout:              10 * time.Second,
		ExitOrderType:             exchange.OrderTypeMarket,
		ExitRetry:                 retry.ExitConfig(),
		PersistInterval:           5 * time.Second,
	}
}

// RiskLedger - то, что менеджер позиции сообщает риск-гейту
type RiskLedger interface {
	Release(symbol string)
	Confirm(symbol string, sizingPercent float64) error
	Reduce(symbol string, sizingPercent float64)
	RecordOutcome(symbol string, realizedPnLPercent float64) bool
}

// PositionStore - снапшоты позиций для восстановления после рестарта
type PositionStore interface {
	SavePosition(ctx context.Context, p *models.Position) error
	DeletePosition(ctx context.Context, symbol string) error
}

// TradeStore - итог закрытой позиции для статистики
type TradeStore interface {
	SaveTrade(ctx context.Context, t *models.TradeRecord) error
}

// PositionDeps - внешние зависимости менеджера позиции
type PositionDeps struct {
	Exchange  exchange.Futures
	Gate      RiskLedger
	Positions PositionStore // может быть nil
	Trades    TradeStore    // может быть nil
	Notify    func(*models.Notification)
	Clock     Clock
	Logger    *utils.Logger
}

// PositionManager - конечный автомат одной позиции символа.
//
// Принадлежит воркеру символа: все мутирующие методы вызываются только из
// него, поэтому внутри нет блокировок. Снимок для чтения извне публикуется
// через atomic.Pointer после каждой мутации.
type PositionManager struct {
	symbol string
	cfg    PositionConfig
	deps   PositionDeps
	log    *utils.Logger

	pos         *models.Position
	lastPersist time.Time
	snap        atomic.Pointer[models.Position]
}

// NewPositionManager создает менеджер позиции символа
func NewPositionManager(symbol string, cfg PositionConfig, deps PositionDeps) *PositionManager {
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = DefaultPositionConfig().EntryTimeout
	}
	if cfg.ExitOrderType == "" {
		cfg.ExitOrderType = exchange.OrderTypeMarket
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Notify == nil {
		deps.Notify = func(*models.Notification) {}
	}
	if deps.Logger == nil {
		deps.Logger = utils.L()
	}
	return &PositionManager{
		symbol: symbol,
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.WithComponent("position").WithSymbol(symbol),
	}
}

// Snapshot возвращает копию текущей позиции или nil. Безопасен из любой горутины.
func (m *PositionManager) Snapshot() *models.Position {
	return m.snap.Load().Clone()
}

// Busy - есть ли у символа незавершенная позиция
func (m *PositionManager) Busy() bool {
	return m.pos != nil && !m.pos.State.Terminal()
}

func (m *PositionManager) publish() {
	if m.pos == nil {
		m.snap.Store(nil)
		return
	}
	m.snap.Store(m.pos.Clone())
}

// transition меняет состояние с проверкой по ValidTransitions
func (m *PositionManager) transition(to models.PositionState) {
	from := m.pos.State
	if !CanTransition(from, to) {
		m.log.Error("invalid position transition",
			utils.String("from", string(from)), utils.String("to", string(to)),
			utils.Err(ErrInvariant))
	}
	m.pos.State = to
	m.pos.UpdatedAt = m.deps.Clock()
}

// ============================================================
// Вход
// ============================================================

// Open размещает ордер входа с дедлайном EntryTimeout.
//
// Риск-слот уже зарезервирован через RiskGate.Approve: при неудаче он
// освобождается, при исполнении подтверждается.
func (m *PositionManager) Open(ctx context.Context, side string, sizingPercent, entryHint float64, candidateID string) error {
	if m.Busy() {
		return fmt.Errorf("%w: %s already %s", ErrInvariant, m.symbol, m.pos.State)
	}

	now := m.deps.Clock()
	m.pos = &models.Position{
		Symbol:        m.symbol,
		Side:          side,
		State:         models.PositionOpening,
		SizingPercent: sizingPercent,
		CandidateID:   candidateID,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	m.publish()

	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, m.cfg.EntryTimeout)
	fill, err := m.deps.Exchange.PlaceEntryOrder(ectx, m.symbol, side, sizingPercent)
	cancel()
	RecordOrderLatency("entry", time.Since(start))

	if err != nil && (errors.Is(err, exchange.ErrEntryTimeout) || errors.Is(err, context.DeadlineExceeded)) {
		// ордер мог исполниться на бирже уже после дедлайна
		if adopted := m.findVenuePosition(ctx); adopted != nil {
			m.log.Warn("entry timed out but venue reports position, adopting",
				utils.Quantity(adopted.Size), utils.Price(adopted.EntryPrice))
			fill = &exchange.Fill{Symbol: m.symbol, Quantity: adopted.Size, Price: adopted.EntryPrice, At: m.deps.Clock()}
			err = nil
		}
	}

	if err != nil {
		m.failEntry(err)
		return err
	}

	price := fill.Price
	if price <= 0 {
		price = entryHint
	}
	if entryHint > 0 && price > 0 {
		m.log.Debug("entry slippage", utils.Float64("slippage_percent", (price-entryHint)*100/entryHint))
	}
	m.activate(price, fill.Quantity)

	if err := m.deps.Gate.Confirm(m.symbol, sizingPercent); err != nil {
		m.log.Error("gate confirm failed", utils.Err(err))
	}
	m.persist(ctx, true)
	RecordEntry(m.symbol, "filled")

	m.deps.Notify(newNotification(m.deps.Clock(), models.NotificationTypeOpened, m.symbol,
		fmt.Sprintf("Opened %s %s at %s, size %s (%.2f%% equity)",
			side, m.symbol, formatFloat(m.pos.EntryPrice), formatFloat(m.pos.Size), sizingPercent),
		map[string]interface{}{
			"side":         side,
			"entry_price":  m.pos.EntryPrice,
			"size":         m.pos.Size,
			"stop_loss":    m.pos.StopLossPrice,
			"candidate_id": candidateID,
		}))
	return nil
}

func (m *PositionManager) findVenuePosition(ctx context.Context) *exchange.Position {
	qctx, cancel := context.WithTimeout(ctx, m.cfg.EntryTimeout)
	defer cancel()

	positions, err := m.deps.Exchange.GetOpenPositions(qctx)
	if err != nil {
		m.log.Error("position lookup after entry timeout failed", utils.Err(err))
		return nil
	}
	for _, p := range positions {
		if p.Symbol == m.symbol && p.Size > 0 {
			return p
		}
	}
	return nil
}

func (m *PositionManager) failEntry(err error) {
	m.pos.LastError = err.Error()
	m.transition(models.PositionFailed)
	m.publish()
	m.deps.Gate.Release(m.symbol)
	RecordEntry(m.symbol, "failed")

	m.log.Warn("entry failed", utils.Err(err))
	m.deps.Notify(newNotification(m.deps.Clock(), models.NotificationTypeEntryFailed, m.symbol,
		fmt.Sprintf("Entry for %s failed: %v", m.symbol, err),
		map[string]interface{}{"side": m.pos.Side, "error": err.Error()}))
}

// activate заполняет уровни выхода по цене входа и переводит позицию в OPEN
func (m *PositionManager) activate(entryPrice, size float64) {
	p := m.pos
	p.EntryPrice = entryPrice
	p.Size = size
	p.RemainingSize = size
	if m.cfg.StopLossPercent > 0 {
		p.StopLossPrice = utils.PriceAtPercent(p.Side, entryPrice, -m.cfg.StopLossPercent)
	}

	p.TakeProfitLevels = make([]models.TakeProfitLevel, len(m.cfg.TakeProfitLevels))
	copy(p.TakeProfitLevels, m.cfg.TakeProfitLevels)
	for i := range p.TakeProfitLevels {
		p.TakeProfitLevels[i].Triggered = false
	}
	sort.SliceStable(p.TakeProfitLevels, func(i, j int) bool {
		return p.TakeProfitLevels[i].TriggerPercent < p.TakeProfitLevels[j].TriggerPercent
	})

	p.Trailing = models.TrailingState{
		Enabled:           m.cfg.TrailingActivationPercent > 0 && m.cfg.TrailingCallbackPercent > 0,
		ActivationPercent: m.cfg.TrailingActivationPercent,
		CallbackPercent:   m.cfg.TrailingCallbackPercent,
	}
	m.transition(models.PositionOpen)
	m.publish()

	m.log.Info("position opened",
		utils.Side(p.Side), utils.Price(entryPrice), utils.Quantity(size),
		utils.Float64("stop_loss_price", p.StopLossPrice))
}

// ============================================================
// Обработка тика
// ============================================================

// Tick проверяет условия выхода по mark price.
// Приоритет: стоп-лосс, затем трейлинг, затем тейк-профит; за тик
// выполняется не более одного действия.
func (m *PositionManager) Tick(ctx context.Context, price float64) error {
	if m.pos == nil || !m.pos.State.Live() || price <= 0 {
		return nil
	}
	p := m.pos
	move := utils.MovePercent(p.Side, p.EntryPrice, price)

	if m.cfg.StopLossPercent > 0 && utils.ReachedThreshold(-move, m.cfg.StopLossPercent) {
		RecordStopLoss(m.symbol)
		return m.exit(ctx, 1, price, models.ReasonStopLoss, nil)
	}

	if t := &p.Trailing; t.Enabled {
		changed := false
		if !t.Armed && utils.ReachedThreshold(move, t.ActivationPercent) {
			t.Armed = true
			t.PeakPrice = price
			changed = true
			m.log.Info("trailing stop armed", utils.Price(price))
		} else if t.Armed && utils.IsMoreFavorable(p.Side, price, t.PeakPrice) {
			t.PeakPrice = price
			changed = true
		}
		if changed {
			m.publish()
			m.persist(ctx, false)
		}
		if t.Armed && utils.ReachedThreshold(utils.RetracePercent(p.Side, t.PeakPrice, price), t.CallbackPercent) {
			return m.exit(ctx, 1, price, models.ReasonTrailingStop, nil)
		}
	}

	var crossed []int
	closeQty := 0.0
	for i, lvl := range p.TakeProfitLevels {
		if !lvl.Triggered && utils.ReachedThreshold(move, lvl.TriggerPercent) {
			crossed = append(crossed, i)
			closeQty += lvl.CloseFraction * p.Size
		}
	}
	if len(crossed) == 0 {
		return nil
	}

	fraction := 1.0
	if p.RemainingSize > 0 && closeQty < p.RemainingSize {
		fraction = closeQty / p.RemainingSize
	}
	if fraction >= 1-utils.PercentEpsilon {
		fraction = 1
	}
	return m.exit(ctx, fraction, price, models.ReasonTakeProfit, crossed)
}

// exit закрывает fraction остатка с повторами.
// Уровни тейк-профита отмечаются только после исполнения.
func (m *PositionManager) exit(ctx context.Context, fraction, refPrice float64, reason string, levels []int) error {
	cfg := m.cfg.ExitRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.log.Warn("exit order retry",
			utils.Reason(reason), utils.Int("attempt", attempt),
			utils.Duration("delay", delay), utils.Err(err))
	}

	start := time.Now()
	fill, err := retry.DoWithResult(ctx, func(ctx context.Context) (*exchange.Fill, error) {
		return m.deps.Exchange.PlaceExitOrder(ctx, m.symbol, fraction, m.cfg.ExitOrderType)
	}, cfg)
	RecordOrderLatency("exit", time.Since(start))

	if err != nil {
		if errors.Is(err, exchange.ErrNoPosition) {
			// позицию закрыли вне бота (ликвидация, ручное закрытие на бирже)
			m.log.Warn("position vanished from venue", utils.Err(err))
			m.applyExit(ctx, m.pos.RemainingSize, refPrice, models.ReasonExternal)
			return nil
		}
		if ctx.Err() != nil {
			// остановка процесса: позиция остается живой до рестарта
			return err
		}
		m.markStale(err)
		return err
	}

	if len(levels) > 0 {
		for _, i := range levels {
			m.pos.TakeProfitLevels[i].Triggered = true
		}
	}

	qty := fill.Quantity
	if fraction >= 1 || qty <= 0 || qty > m.pos.RemainingSize {
		qty = m.pos.RemainingSize
	}
	price := fill.Price
	if price <= 0 {
		price = refPrice
	}
	m.applyExit(ctx, qty, price, reason)
	return nil
}

func (m *PositionManager) applyExit(ctx context.Context, qty, price float64, reason string) {
	p := m.pos
	now := m.deps.Clock()
	p.Exits = append(p.Exits, models.ExitFill{Quantity: qty, Price: price, Reason: reason, At: now})
	p.RemainingSize -= qty
	p.LastError = ""
	RecordExit(m.symbol, reason)

	if p.RemainingSize <= p.Size*1e-9 {
		p.RemainingSize = 0
		m.finalize(ctx, reason)
		return
	}

	m.transition(models.PositionPartialExit)
	m.publish()
	m.deps.Gate.Reduce(m.symbol, p.SizingPercent*p.RemainingSize/p.Size)
	m.persist(ctx, true)

	m.log.Info("partial exit",
		utils.Reason(reason), utils.Quantity(qty), utils.Price(price),
		utils.Float64("remaining", p.RemainingSize))
	m.deps.Notify(newNotification(now, models.NotificationTypePartialExit, m.symbol,
		fmt.Sprintf("Closed %.0f%% of %s at %s (%s)", qty*100/p.Size, m.symbol, formatFloat(price), reason),
		map[string]interface{}{
			"quantity":  qty,
			"price":     price,
			"remaining": p.RemainingSize,
			"reason":    reason,
		}))
}

// RealizedPnLPercent - доходность позиции, взвешенная по закрытому объему
func RealizedPnLPercent(p *models.Position) float64 {
	if p == nil || p.Size <= 0 {
		return 0
	}
	var sum float64
	for _, e := range p.Exits {
		sum += e.Quantity * utils.MovePercent(p.Side, p.EntryPrice, e.Price)
	}
	return sum / p.Size
}

func (m *PositionManager) finalize(ctx context.Context, reason string) {
	p := m.pos
	now := m.deps.Clock()
	p.CloseReason = reason
	p.ClosedAt = &now
	m.transition(models.PositionClosed)
	m.publish()

	pnl := RealizedPnLPercent(p)
	halted := m.deps.Gate.RecordOutcome(m.symbol, pnl)
	RecordTrade(m.symbol, reason, pnl)

	m.log.Info("position closed", utils.Reason(reason), utils.PNL(pnl))

	if m.deps.Positions != nil {
		if err := m.deps.Positions.DeletePosition(ctx, m.symbol); err != nil {
			m.log.Error("delete position snapshot failed", utils.Err(err))
		}
	}
	if m.deps.Trades != nil {
		rec := &models.TradeRecord{
			ID:                 uuid.NewString(),
			Symbol:             m.symbol,
			Side:               p.Side,
			EntryPrice:         p.EntryPrice,
			SizingPercent:      p.SizingPercent,
			RealizedPnLPercent: pnl,
			CloseReason:        reason,
			OpenedAt:           p.OpenedAt,
			ClosedAt:           now,
		}
		if err := m.deps.Trades.SaveTrade(ctx, rec); err != nil {
			m.log.Error("save trade failed", utils.Err(err))
		}
	}

	notifType := models.NotificationTypeClosed
	switch reason {
	case models.ReasonStopLoss:
		notifType = models.NotificationTypeStopLoss
	case models.ReasonTrailingStop:
		notifType = models.NotificationTypeTrailingStop
	}
	m.deps.Notify(newNotification(now, notifType, m.symbol,
		fmt.Sprintf("Closed %s %s (%s), PnL %+.2f%%", p.Side, m.symbol, reason, pnl),
		map[string]interface{}{
			"reason":      reason,
			"pnl_percent": pnl,
			"exits":       len(p.Exits),
		}))

	if halted {
		m.deps.Notify(newNotification(now, models.NotificationTypeHalted, "",
			fmt.Sprintf("Trading halted: daily loss limit reached after %s", m.symbol),
			map[string]interface{}{"trigger_symbol": m.symbol}))
	}
}

// markStale - повторы исчерпаны, позиция требует ручного вмешательства
func (m *PositionManager) markStale(err error) {
	wasStale := m.pos.State == models.PositionStale
	m.pos.LastError = err.Error()
	m.transition(models.PositionStale)
	m.publish()
	m.persist(context.Background(), true)
	RecordStale(m.symbol)

	m.log.Error("exit failed, position is stale", utils.Err(err))
	if !wasStale {
		m.deps.Notify(newNotification(m.deps.Clock(), models.NotificationTypeStale, m.symbol,
			fmt.Sprintf("Position %s could not be closed and needs manual action: %v", m.symbol, err),
			map[string]interface{}{"remaining": m.pos.RemainingSize, "error": err.Error()}))
	}
}

// ============================================================
// Ручное управление и восстановление
// ============================================================

// ForceClose закрывает весь остаток по команде оператора (в том числе STALE)
func (m *PositionManager) ForceClose(ctx context.Context, price float64) error {
	if m.pos == nil || !HasOpenPosition(m.pos.State) {
		return fmt.Errorf("%w: %s", ErrNoLivePosition, m.symbol)
	}
	if price <= 0 {
		if mp, err := m.deps.Exchange.GetMarkPrice(ctx, m.symbol); err == nil {
			price = mp
		}
	}
	return m.exit(ctx, 1, price, models.ReasonManual, nil)
}

// CloseExternal фиксирует закрытие позиции, исчезнувшей с биржи
func (m *PositionManager) CloseExternal(ctx context.Context, price float64) {
	if m.pos == nil || !HasOpenPosition(m.pos.State) {
		return
	}
	m.applyExit(ctx, m.pos.RemainingSize, price, models.ReasonExternal)
}

// Restore принимает снапшот позиции из БД после рестарта
func (m *PositionManager) Restore(p *models.Position) {
	m.pos = p.Clone()
	m.publish()
	m.log.Info("position restored", utils.State(string(p.State)), utils.Float64("remaining", p.RemainingSize))
}

// Adopt берет под управление позицию, найденную на бирже без снапшота.
// Уровни выхода строятся заново от цены входа биржи.
func (m *PositionManager) Adopt(vp *exchange.Position, sizingPercent float64) {
	now := m.deps.Clock()
	m.pos = &models.Position{
		Symbol:        m.symbol,
		Side:          vp.Side,
		State:         models.PositionOpening,
		SizingPercent: sizingPercent,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	m.activate(vp.EntryPrice, vp.Size)
}

// SyncSize подгоняет остаток под размер, который видит биржа
func (m *PositionManager) SyncSize(size float64) {
	if m.pos == nil || size <= 0 || size >= m.pos.RemainingSize {
		return
	}
	m.pos.RemainingSize = size
	m.publish()
}

// persist сохраняет снапшот; force=false ограничен PersistInterval
func (m *PositionManager) persist(ctx context.Context, force bool) {
	if m.deps.Positions == nil || m.pos == nil {
		return
	}
	now := m.deps.Clock()
	if !force && now.Sub(m.lastPersist) < m.cfg.PersistInterval {
		return
	}
	m.lastPersist = now
	if err := m.deps.Positions.SavePosition(ctx, m.pos.Clone()); err != nil {
		m.log.Error("save position snapshot failed", utils.Err(err))
	}
}
