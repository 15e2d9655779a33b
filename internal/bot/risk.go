package bot

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// RejectReason - причина отказа гейта. Отказ - штатный исход, не ошибка.
type RejectReason string

const (
	RejectHalted           RejectReason = "halted"
	RejectExcluded         RejectReason = "excluded"
	RejectSymbolBusy       RejectReason = "symbol_busy"
	RejectDailyTradeCap    RejectReason = "daily_trade_cap"
	RejectCategoryCap      RejectReason = "category_cap"
	RejectTotalExposureCap RejectReason = "total_exposure_cap"
)

// ErrInvariant - нарушение инварианта, признак ошибки в коде
var ErrInvariant = errors.New("invariant violation")

// Decision - результат Approve: либо Approved с размером, либо Rejected
type Decision struct {
	Approved      bool
	SizingPercent float64
	Reason        RejectReason
	Category      string
}

// RiskConfig - лимиты риск-гейта. Все значения в процентах от equity.
type RiskConfig struct {
	MaxDailyTrades          int
	MaxDailyLossPercent     float64
	PerSymbolCapPercent     float64
	CategoryCapPercent      map[string]float64
	TotalExposureCapPercent float64

	// MinSizingPercent - минимальный размер, при котором сделка еще имеет смысл.
	// По умолчанию равен PerSymbolCapPercent: сделка уменьшенного размера не открывается.
	MinSizingPercent float64

	Exclusions []string
	Categories map[string]string // symbol -> category
	Location   *time.Location    // календарь биржи для торгового дня
}

// DefaultRiskConfig возвращает конфигурацию по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyTrades:      10,
		MaxDailyLossPercent: 5,
		PerSymbolCapPercent: 5,
		CategoryCapPercent: map[string]float64{
			models.CategoryMajor: 20,
			models.CategoryOther: 10,
		},
		TotalExposureCapPercent: 25,
		Location:                time.UTC,
	}
}

// RiskGate - арбитр дневных счетчиков и экспозиции.
//
// Все состояние под одним мьютексом; вызовы биржи никогда его не держат.
// После каждой мутации снимок отдается onChange уже без блокировки.
type RiskGate struct {
	mu         sync.Mutex
	cfg        RiskConfig
	excluded   map[string]struct{}
	registry   map[string]struct{} // исключения из реестра символов
	categories map[string]string

	mode         models.GateMode
	haltedReason string
	tradingDay   string
	tradeCount   int
	realizedPnL  float64
	equityBase   float64
	exposures    map[string]*models.Exposure
	seq          uint64

	clock    Clock
	log      *utils.Logger
	onChange func(models.RiskState)
}

// NewRiskGate создает гейт в режиме ACTIVE
func NewRiskGate(cfg RiskConfig, clock Clock, logger *utils.Logger) *RiskGate {
	if cfg.MinSizingPercent <= 0 {
		cfg.MinSizingPercent = cfg.PerSymbolCapPercent
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = utils.L()
	}

	g := &RiskGate{
		cfg:        cfg,
		excluded:   make(map[string]struct{}),
		registry:   make(map[string]struct{}),
		categories: make(map[string]string),
		mode:       models.GateActive,
		exposures:  make(map[string]*models.Exposure),
		clock:      clock,
		log:        logger.WithComponent("risk_gate"),
	}
	for _, s := range cfg.Exclusions {
		g.excluded[utils.NormalizeSymbol(s)] = struct{}{}
	}
	for s, c := range cfg.Categories {
		g.categories[utils.NormalizeSymbol(s)] = c
	}
	g.tradingDay = utils.TradingDay(clock(), cfg.Location)
	return g
}

// OnChange задает получателя снимков состояния (сохранение в БД)
func (g *RiskGate) OnChange(fn func(models.RiskState)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

func (g *RiskGate) onChangeFn() func(models.RiskState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.onChange
}

// publishLocked вызывается с захваченным мьютексом и возвращает функцию,
// которую нужно выполнить после Unlock.
// Номер снимка выдается под мьютексом: получатель отличает устаревший
// снимок, доставленный позже более нового.
func (g *RiskGate) publishLocked() func() {
	g.seq++
	fn := g.onChange
	if fn == nil {
		return func() {}
	}
	snap := g.snapshotLocked()
	return func() { fn(snap) }
}

// Approve проверяет кандидата и при успехе атомарно резервирует слот
func (g *RiskGate) Approve(c *models.TradeCandidate) Decision {
	g.mu.Lock()
	d := g.approveLocked(c.Symbol)
	var after func()
	if d.Approved {
		after = g.publishLocked()
	}
	g.mu.Unlock()

	if after != nil {
		after()
	}
	RecordDecision(c.Symbol, d)
	return d
}

func (g *RiskGate) approveLocked(symbol string) Decision {
	category := g.categoryLocked(symbol)
	d := Decision{Category: category}

	if g.mode == models.GateHalted {
		d.Reason = RejectHalted
		return d
	}
	if g.isExcludedLocked(symbol) {
		d.Reason = RejectExcluded
		return d
	}
	if _, busy := g.exposures[symbol]; busy {
		g.log.Error("approve for symbol with live exposure",
			utils.Symbol(symbol), utils.Err(ErrInvariant))
		d.Reason = RejectSymbolBusy
		return d
	}
	if g.tradeCount >= g.cfg.MaxDailyTrades {
		d.Reason = RejectDailyTradeCap
		return d
	}

	catUsed, total := g.usageLocked(category)
	remainingCat := g.categoryCap(category) - catUsed
	if catUsed+g.cfg.MinSizingPercent > g.categoryCap(category)+utils.PercentEpsilon {
		d.Reason = RejectCategoryCap
		return d
	}
	remainingTotal := g.cfg.TotalExposureCapPercent - total
	if total+g.cfg.MinSizingPercent > g.cfg.TotalExposureCapPercent+utils.PercentEpsilon {
		d.Reason = RejectTotalExposureCap
		return d
	}

	sizing := math.Min(g.cfg.PerSymbolCapPercent, math.Min(remainingCat, remainingTotal))

	g.tradeCount++
	g.exposures[symbol] = &models.Exposure{
		Symbol:        symbol,
		Category:      category,
		SizingPercent: sizing,
		Status:        models.ExposureReserved,
	}

	d.Approved = true
	d.SizingPercent = sizing
	return d
}

func (g *RiskGate) categoryCap(category string) float64 {
	if c, ok := g.cfg.CategoryCapPercent[category]; ok {
		return c
	}
	return g.cfg.TotalExposureCapPercent
}

func (g *RiskGate) categoryLocked(symbol string) string {
	if c, ok := g.categories[symbol]; ok && c != "" {
		return c
	}
	return models.CategoryOther
}

func (g *RiskGate) isExcludedLocked(symbol string) bool {
	if _, ok := g.excluded[symbol]; ok {
		return true
	}
	_, ok := g.registry[symbol]
	return ok
}

func (g *RiskGate) usageLocked(category string) (catUsed, total float64) {
	for _, e := range g.exposures {
		total += e.SizingPercent
		if e.Category == category {
			catUsed += e.SizingPercent
		}
	}
	return catUsed, total
}

// Release - компенсация Approve, когда вход не состоялся
func (g *RiskGate) Release(symbol string) {
	g.mu.Lock()
	e, ok := g.exposures[symbol]
	if !ok {
		g.mu.Unlock()
		return
	}
	if e.Status == models.ExposureReserved && g.tradeCount > 0 {
		g.tradeCount--
	}
	delete(g.exposures, symbol)
	after := g.publishLocked()
	g.mu.Unlock()
	after()
}

// Confirm переводит резерв в открытую экспозицию после исполнения входа
func (g *RiskGate) Confirm(symbol string, sizingPercent float64) error {
	g.mu.Lock()
	e, ok := g.exposures[symbol]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: confirm without reservation for %s", ErrInvariant, symbol)
	}
	e.Status = models.ExposureOpen
	if sizingPercent > 0 && sizingPercent < e.SizingPercent {
		e.SizingPercent = sizingPercent
	}
	after := g.publishLocked()
	g.mu.Unlock()
	after()
	return nil
}

// Reduce уменьшает экспозицию символа после частичного выхода
func (g *RiskGate) Reduce(symbol string, sizingPercent float64) {
	g.mu.Lock()
	e, ok := g.exposures[symbol]
	if !ok {
		g.mu.Unlock()
		return
	}
	e.SizingPercent = math.Max(0, sizingPercent)
	after := g.publishLocked()
	g.mu.Unlock()
	after()
}

// RecordOutcome добавляет доходность закрытой позиции к дневному PnL,
// снимает экспозицию и включает HALTED при достижении дневного лимита убытка.
// Возвращает true, если именно этот вызов остановил торговлю.
func (g *RiskGate) RecordOutcome(symbol string, realizedPnLPercent float64) bool {
	g.mu.Lock()
	delete(g.exposures, symbol)
	g.realizedPnL += realizedPnLPercent

	halted := g.checkLossLocked()
	pnl := g.realizedPnL
	reason := g.haltedReason
	after := g.publishLocked()
	g.mu.Unlock()
	after()

	if halted {
		g.log.Warn("trading halted", utils.Reason(reason), utils.PNL(pnl))
		RecordHalt("daily_loss")
	}
	return halted
}

// checkLossLocked включает HALTED, если дневной убыток достиг лимита.
// true - остановку включил именно этот вызов.
func (g *RiskGate) checkLossLocked() bool {
	if g.mode != models.GateActive || g.cfg.MaxDailyLossPercent <= 0 ||
		g.realizedPnL > -g.cfg.MaxDailyLossPercent+utils.PercentEpsilon {
		return false
	}
	g.mode = models.GateHalted
	g.haltedReason = fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", g.realizedPnL, g.cfg.MaxDailyLossPercent)
	return true
}

// TightenDay ужесточает дневные счетчики по данным, восстановленным
// из журнала сделок и позиций биржи: число сделок только растет,
// PnL только падает. Нужен, когда последний снимок не успел сохраниться.
// Возвращает true, если это включило остановку.
func (g *RiskGate) TightenDay(trades int, realizedPnLPercent float64) bool {
	g.mu.Lock()
	changed := false
	if trades > g.tradeCount {
		g.tradeCount = trades
		changed = true
	}
	if realizedPnLPercent < g.realizedPnL-utils.PercentEpsilon {
		g.realizedPnL = realizedPnLPercent
		changed = true
	}
	if !changed {
		g.mu.Unlock()
		return false
	}
	halted := g.checkLossLocked()
	count, pnl, reason := g.tradeCount, g.realizedPnL, g.haltedReason
	after := g.publishLocked()
	g.mu.Unlock()
	after()

	g.log.Warn("daily counters tightened from trade history",
		utils.Int("trades", count), utils.PNL(pnl))
	if halted {
		g.log.Warn("trading halted", utils.Reason(reason), utils.PNL(pnl))
		RecordHalt("daily_loss")
	}
	return halted
}

// DayStart - начало текущего торгового дня
func (g *RiskGate) DayStart() time.Time {
	return utils.DayStartIn(g.clock(), g.cfg.Location)
}

// Halt останавливает торговлю вручную. false - гейт уже остановлен.
func (g *RiskGate) Halt(reason string) bool {
	g.mu.Lock()
	if g.mode == models.GateHalted {
		g.mu.Unlock()
		return false
	}
	g.mode = models.GateHalted
	g.haltedReason = reason
	after := g.publishLocked()
	g.mu.Unlock()
	after()

	g.log.Warn("trading halted", utils.Reason(reason))
	RecordHalt("manual")
	return true
}

// Resume - единственный выход из HALTED
func (g *RiskGate) Resume() bool {
	g.mu.Lock()
	if g.mode == models.GateActive {
		g.mu.Unlock()
		return false
	}
	g.mode = models.GateActive
	g.haltedReason = ""
	after := g.publishLocked()
	g.mu.Unlock()
	after()

	g.log.Info("trading resumed")
	return true
}

// ResetDay обнуляет дневные счетчики. Остановка и экспозиция сохраняются.
func (g *RiskGate) ResetDay(day string) {
	g.mu.Lock()
	if day == "" {
		day = utils.TradingDay(g.clock(), g.cfg.Location)
	}
	g.tradingDay = day
	g.tradeCount = 0
	g.realizedPnL = 0
	after := g.publishLocked()
	g.mu.Unlock()
	after()

	g.log.Info("trading day reset", utils.String("day", day))
}

// SetEquityBase фиксирует equity на начало дня
func (g *RiskGate) SetEquityBase(equity float64) {
	g.mu.Lock()
	g.equityBase = equity
	after := g.publishLocked()
	g.mu.Unlock()
	after()
}

// SetExclusions заменяет исключения из реестра символов
// (статический список из конфигурации остается)
func (g *RiskGate) SetExclusions(symbols []string) {
	g.mu.Lock()
	g.registry = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		g.registry[utils.NormalizeSymbol(s)] = struct{}{}
	}
	g.mu.Unlock()
}

// SetCategory задает категорию символа
func (g *RiskGate) SetCategory(symbol, category string) {
	g.mu.Lock()
	g.categories[utils.NormalizeSymbol(symbol)] = strings.ToLower(category)
	g.mu.Unlock()
}

// Category возвращает категорию символа
func (g *RiskGate) Category(symbol string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.categoryLocked(symbol)
}

// Halted - остановлена ли торговля
func (g *RiskGate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode == models.GateHalted
}

// Snapshot возвращает копию состояния
func (g *RiskGate) Snapshot() models.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *RiskGate) snapshotLocked() models.RiskState {
	st := models.RiskState{
		Seq:                     g.seq,
		Mode:                    g.mode,
		HaltedReason:            g.haltedReason,
		TradingDay:              g.tradingDay,
		DailyTradeCount:         g.tradeCount,
		DailyRealizedPnLPercent: g.realizedPnL,
		EquityBase:              g.equityBase,
		Exposures:               make([]models.Exposure, 0, len(g.exposures)),
		UpdatedAt:               g.clock(),
	}
	for _, e := range g.exposures {
		st.Exposures = append(st.Exposures, *e)
		st.TotalExposurePercent += e.SizingPercent
	}
	sort.Slice(st.Exposures, func(i, j int) bool {
		return st.Exposures[i].Symbol < st.Exposures[j].Symbol
	})
	return st
}

// Restore загружает сохраненные счетчики после рестарта.
//
// Счетчики берутся только если снимок относится к текущему торговому дню.
// Остановка переживает смену дня: снимается только вручную.
// Экспозиция не восстанавливается: ее источник - сверка с биржей.
func (g *RiskGate) Restore(st models.RiskState) {
	g.mu.Lock()
	today := utils.TradingDay(g.clock(), g.cfg.Location)
	if st.TradingDay == today {
		g.tradeCount = st.DailyTradeCount
		g.realizedPnL = st.DailyRealizedPnLPercent
	}
	g.tradingDay = today
	g.equityBase = st.EquityBase
	if st.Seq > g.seq {
		g.seq = st.Seq
	}
	if st.Mode == models.GateHalted {
		g.mode = models.GateHalted
		g.haltedReason = st.HaltedReason
	}
	g.mu.Unlock()
}

// RestoreExposure регистрирует открытую позицию, найденную при сверке
func (g *RiskGate) RestoreExposure(symbol string, sizingPercent float64) {
	g.mu.Lock()
	g.exposures[symbol] = &models.Exposure{
		Symbol:        symbol,
		Category:      g.categoryLocked(symbol),
		SizingPercent: sizingPercent,
		Status:        models.ExposureOpen,
	}
	after := g.publishLocked()
	g.mu.Unlock()
	after()
}
