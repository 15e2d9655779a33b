package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

var (
	ErrEngineNotStarted = errors.New("engine not started")
	ErrEngineStopped    = errors.New("engine stopped")
)

// EngineConfig - размеры очередей и периодические задачи движка
type EngineConfig struct {
	AlertBuffer        int
	PriceBuffer        int
	TickBuffer         int // очередь цен одного воркера
	CommandBuffer      int
	NotificationBuffer int

	// MarkPricePoll - опрос mark price для открытых позиций (0 - выключен)
	MarkPricePoll time.Duration

	// Location - календарь биржи для сброса дневных счетчиков
	Location *time.Location
}

// DefaultEngineConfig возвращает конфигурацию по умолчанию
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AlertBuffer:        1000,
		PriceBuffer:        4096,
		TickBuffer:         64,
		CommandBuffer:      16,
		NotificationBuffer: 1000,
		MarkPricePoll:      5 * time.Second,
		Location:           time.UTC,
	}
}

// NotificationSink - получатель уведомлений (fire-and-forget)
type NotificationSink interface {
	Notify(ctx context.Context, n *models.Notification)
}

// TickerSource - поток цен биржи
type TickerSource interface {
	SubscribeTicker(symbol string, callback func(*exchange.Ticker)) error
	UnsubscribeTicker(symbol string) error
}

// EquityReader - equity аккаунта для базы дневного PnL
type EquityReader interface {
	Equity(ctx context.Context) (float64, error)
}

// EngineDeps - компоненты, которые связывает движок
type EngineDeps struct {
	Ingestor  *Ingestor
	Matcher   *Matcher
	Gate      *RiskGate
	Exchange  exchange.Futures
	Tickers   TickerSource  // может быть nil: остается опрос mark price
	Equity    EquityReader  // может быть nil
	Positions PositionStore // может быть nil
	Trades    TradeStore    // может быть nil
	Sink      NotificationSink
	Position  PositionConfig
	Clock     Clock
	Logger    *utils.Logger
}

type alertRequest struct {
	alert models.Alert
	reply chan alertReply
}

type alertReply struct {
	res IngestResult
	err error
}

type priceUpdate struct {
	symbol string
	price  float64
}

// symbolWorker владеет позицией одного символа.
// Одобрение кандидата, тики и ручные команды выполняются последовательно.
type symbolWorker struct {
	symbol    string
	ticks     chan float64
	cmds      chan func(context.Context)
	pm        *PositionManager
	lastPrice float64 // только из горутины воркера
}

// Engine связывает прием алертов, риск-гейт и позиции.
//
// Поток данных:
// alerts -> alertDispatcher (Ingestor + Matcher) -> worker[symbol] (Approve + Open)
// tickers -> priceDispatcher -> worker[symbol] (Tick)
type Engine struct {
	cfg  EngineConfig
	deps EngineDeps
	log  *utils.Logger

	alerts        chan alertRequest
	prices        chan priceUpdate
	notifications chan *models.Notification

	workers   map[string]*symbolWorker
	workersMu sync.RWMutex

	subs   map[string]bool
	subsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEngine создает движок. Горутины запускаются в Start.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	def := DefaultEngineConfig()
	if cfg.AlertBuffer <= 0 {
		cfg.AlertBuffer = def.AlertBuffer
	}
	if cfg.PriceBuffer <= 0 {
		cfg.PriceBuffer = def.PriceBuffer
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = def.TickBuffer
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = def.CommandBuffer
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = def.NotificationBuffer
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = utils.L()
	}

	return &Engine{
		cfg:           cfg,
		deps:          deps,
		log:           deps.Logger.WithComponent("engine"),
		alerts:        make(chan alertRequest, cfg.AlertBuffer),
		prices:        make(chan priceUpdate, cfg.PriceBuffer),
		notifications: make(chan *models.Notification, cfg.NotificationBuffer),
		workers:       make(map[string]*symbolWorker),
		subs:          make(map[string]bool),
	}
}

// Start запускает диспетчеры и фоновые задачи
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return errors.New("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.deps.Gate.OnChange(e.chainRiskGauges())

	e.goLoop(e.alertDispatcher)
	e.goLoop(e.priceDispatcher)
	e.goLoop(e.notificationLoop)
	e.goLoop(e.dayResetLoop)
	if e.cfg.MarkPricePoll > 0 {
		e.goLoop(e.markPriceLoop)
	}

	e.log.Info("engine started")
	return nil
}

// chainRiskGauges дописывает обновление метрик к уже заданному получателю снимков
func (e *Engine) chainRiskGauges() func(models.RiskState) {
	prev := e.deps.Gate.onChangeFn()
	return func(st models.RiskState) {
		UpdateRiskGauges(st.Mode == models.GateHalted, st.TotalExposurePercent, st.DailyRealizedPnLPercent)
		if prev != nil {
			prev(st)
		}
	}
}

func (e *Engine) goLoop(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// Stop останавливает все горутины и ждет их завершения
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()

	e.subsMu.Lock()
	subs := make([]string, 0, len(e.subs))
	for s := range e.subs {
		subs = append(subs, s)
	}
	e.subs = make(map[string]bool)
	e.subsMu.Unlock()
	if e.deps.Tickers != nil {
		for _, s := range subs {
			_ = e.deps.Tickers.UnsubscribeTicker(s)
		}
	}
	e.log.Info("engine stopped")
}

// Run - Start и ожидание отмены ctx
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return ctx.Err()
}

func (e *Engine) runCtx() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, ErrEngineNotStarted
	}
	if e.ctx.Err() != nil {
		return nil, ErrEngineStopped
	}
	return e.ctx, nil
}

// Running - движок запущен и еще не остановлен
func (e *Engine) Running() bool {
	_, err := e.runCtx()
	return err == nil
}

// ============================================================
// Алерты
// ============================================================

// SubmitAlert передает алерт диспетчеру и ждет результат приема
func (e *Engine) SubmitAlert(ctx context.Context, alert models.Alert) (IngestResult, error) {
	runCtx, err := e.runCtx()
	if err != nil {
		return IngestResult{}, err
	}

	req := alertRequest{alert: alert, reply: make(chan alertReply, 1)}
	select {
	case e.alerts <- req:
	case <-ctx.Done():
		return IngestResult{}, ctx.Err()
	case <-runCtx.Done():
		return IngestResult{}, ErrEngineStopped
	}

	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return IngestResult{}, ctx.Err()
	case <-runCtx.Done():
		return IngestResult{}, ErrEngineStopped
	}
}

// alertDispatcher - единственная горутина, вызывающая Ingestor
func (e *Engine) alertDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.alerts:
			res, err := e.deps.Ingestor.Ingest(ctx, req.alert)
			req.reply <- alertReply{res: res, err: err}
			if res.Candidate != nil {
				e.dispatchCandidate(ctx, res.Candidate)
			}
		}
	}
}

func (e *Engine) dispatchCandidate(ctx context.Context, cand *models.TradeCandidate) {
	w, err := e.worker(cand.Symbol)
	if err != nil {
		e.deps.Matcher.Release(cand.Symbol)
		return
	}
	select {
	case w.cmds <- func(wctx context.Context) { e.handleCandidate(wctx, w, cand) }:
	case <-ctx.Done():
		e.deps.Matcher.Release(cand.Symbol)
	}
}

// handleCandidate выполняется в воркере символа: одобрение сериализовано с тиками
func (e *Engine) handleCandidate(ctx context.Context, w *symbolWorker, cand *models.TradeCandidate) {
	defer e.deps.Matcher.Release(cand.Symbol)
	log := e.log.WithSymbol(cand.Symbol).With(utils.CandidateID(cand.ID))

	if w.pm.Busy() {
		log.Info("candidate skipped, position in progress")
		e.notify(newNotification(e.deps.Clock(), models.NotificationTypeRejected, cand.Symbol,
			fmt.Sprintf("Candidate %s %s rejected: position already open", cand.Side, cand.Symbol),
			candidateMeta(cand, string(RejectSymbolBusy))))
		return
	}

	d := e.deps.Gate.Approve(cand)
	if !d.Approved {
		log.Info("candidate rejected", utils.Reason(string(d.Reason)))
		e.notify(newNotification(e.deps.Clock(), models.NotificationTypeRejected, cand.Symbol,
			fmt.Sprintf("Candidate %s %s rejected: %s", cand.Side, cand.Symbol, d.Reason),
			candidateMeta(cand, string(d.Reason))))
		return
	}

	log.Info("candidate approved", utils.SizingPercent(d.SizingPercent), utils.Score(cand.Score))
	meta := candidateMeta(cand, "")
	meta["sizing_percent"] = d.SizingPercent
	e.notify(newNotification(e.deps.Clock(), models.NotificationTypeApproved, cand.Symbol,
		fmt.Sprintf("Approved %s %s, score %.2f, size %.2f%%", cand.Side, cand.Symbol, cand.Score, d.SizingPercent),
		meta))

	if err := w.pm.Open(ctx, cand.Side, d.SizingPercent, w.lastPrice, cand.ID); err != nil {
		return
	}
	e.ensureSubscribed(cand.Symbol)
	e.updateOpenPositions()
}

func candidateMeta(c *models.TradeCandidate, reason string) map[string]interface{} {
	meta := map[string]interface{}{
		"candidate_id": c.ID,
		"side":         c.Side,
		"score":        c.Score,
		"proximity":    c.Components.Proximity,
		"intensity":    c.Components.Intensity,
		"freshness":    c.Components.Freshness,
		"primary":      c.PrimaryAlert.ID,
		"secondary":    c.SecondaryAlert.ID,
	}
	if reason != "" {
		meta["reason"] = reason
	}
	return meta
}

// ============================================================
// Цены
// ============================================================

// OnPrice принимает цену из потока биржи. Не блокирует.
func (e *Engine) OnPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	select {
	case e.prices <- priceUpdate{symbol: symbol, price: price}:
	default:
		RecordBufferOverflow("price")
	}
}

// priceDispatcher раздает цены воркерам существующих символов
func (e *Engine) priceDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-e.prices:
			e.workersMu.RLock()
			w := e.workers[u.symbol]
			e.workersMu.RUnlock()
			if w != nil {
				tryEnqueueTick(w.ticks, u.symbol, u.price)
			}
		}
	}
}

func (e *Engine) ensureSubscribed(symbol string) {
	if e.deps.Tickers == nil {
		return
	}
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.subs[symbol] {
		return
	}
	err := e.deps.Tickers.SubscribeTicker(symbol, func(t *exchange.Ticker) {
		e.OnPrice(symbol, t.Price())
	})
	if err != nil {
		// позиция остается под опросом mark price
		e.log.Warn("ticker subscribe failed", utils.Symbol(symbol), utils.Err(err))
		return
	}
	e.subs[symbol] = true
}

func (e *Engine) releaseSubscription(symbol string) {
	if e.deps.Tickers == nil {
		return
	}
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if !e.subs[symbol] {
		return
	}
	delete(e.subs, symbol)
	if err := e.deps.Tickers.UnsubscribeTicker(symbol); err != nil {
		e.log.Warn("ticker unsubscribe failed", utils.Symbol(symbol), utils.Err(err))
	}
}

// ============================================================
// Воркеры символов
// ============================================================

// worker возвращает воркер символа, создавая его при необходимости
func (e *Engine) worker(symbol string) (*symbolWorker, error) {
	e.workersMu.RLock()
	w := e.workers[symbol]
	e.workersMu.RUnlock()
	if w != nil {
		return w, nil
	}

	ctx, err := e.runCtx()
	if err != nil {
		return nil, err
	}

	e.workersMu.Lock()
	defer e.workersMu.Unlock()
	if w = e.workers[symbol]; w != nil {
		return w, nil
	}

	w = &symbolWorker{
		symbol: symbol,
		ticks:  make(chan float64, e.cfg.TickBuffer),
		cmds:   make(chan func(context.Context), e.cfg.CommandBuffer),
		pm: NewPositionManager(symbol, e.deps.Position, PositionDeps{
			Exchange:  e.deps.Exchange,
			Gate:      e.deps.Gate,
			Positions: e.deps.Positions,
			Trades:    e.deps.Trades,
			Notify:    e.notify,
			Clock:     e.deps.Clock,
			Logger:    e.deps.Logger,
		}),
	}
	e.workers[symbol] = w
	Workers.Set(float64(len(e.workers)))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runWorker(ctx, w)
	}()
	return w, nil
}

func (e *Engine) runWorker(ctx context.Context, w *symbolWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			cmd(ctx)
		case price := <-w.ticks:
			w.lastPrice = price
			start := time.Now()
			if err := w.pm.Tick(ctx, price); err != nil {
				e.log.Warn("tick handling failed", utils.Symbol(w.symbol), utils.Err(err))
			}
			RecordTickLatency(time.Since(start))
		}

		if !w.pm.Busy() {
			e.releaseSubscription(w.symbol)
			e.updateOpenPositions()
		}
	}
}

// exec выполняет fn в горутине воркера символа и ждет завершения
func (e *Engine) exec(ctx context.Context, symbol string, fn func(ctx context.Context, w *symbolWorker)) error {
	w, err := e.worker(symbol)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	cmd := func(wctx context.Context) {
		defer close(done)
		fn(wctx, w)
	}

	select {
	case w.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) updateOpenPositions() {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()
	n := 0
	for _, w := range e.workers {
		if p := w.pm.snap.Load(); p != nil && HasOpenPosition(p.State) {
			n++
		}
	}
	OpenPositions.Set(float64(n))
}

// ============================================================
// Уведомления и периодические задачи
// ============================================================

// notify ставит уведомление в очередь; производитель никогда не блокируется
func (e *Engine) notify(n *models.Notification) {
	if !tryEnqueueNotification(e.notifications, n) {
		e.log.Warn("notification dropped", utils.String("type", n.Type), utils.Symbol(n.Symbol))
	}
}

func (e *Engine) notificationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drainNotifications()
			return
		case n := <-e.notifications:
			if e.deps.Sink != nil {
				e.deps.Sink.Notify(ctx, n)
			}
		}
	}
}

// drainNotifications дописывает хвост очереди при остановке
func (e *Engine) drainNotifications() {
	if e.deps.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case n := <-e.notifications:
			e.deps.Sink.Notify(ctx, n)
		default:
			return
		}
	}
}

// dayResetLoop шлет ResetDay в полночь по календарю биржи
func (e *Engine) dayResetLoop(ctx context.Context) {
	for {
		wait := utils.UntilNextDay(e.deps.Clock(), e.cfg.Location)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.ResetDay(ctx)
		}
	}
}

// ResetDay обнуляет дневные счетчики и фиксирует новую базу equity
func (e *Engine) ResetDay(ctx context.Context) {
	day := utils.TradingDay(e.deps.Clock(), e.cfg.Location)
	e.deps.Gate.ResetDay(day)

	if e.deps.Equity != nil {
		if eq, err := e.deps.Equity.Equity(ctx); err == nil {
			e.deps.Gate.SetEquityBase(eq)
		} else {
			e.log.Warn("equity refresh failed", utils.Err(err))
		}
	}

	msg := "Daily counters reset for " + day
	if e.deps.Gate.Halted() {
		msg += "; trading remains halted until manual resume"
	}
	e.notify(newNotification(e.deps.Clock(), models.NotificationTypeDayReset, "", msg,
		map[string]interface{}{"trading_day": day}))
}

// markPriceLoop опрашивает mark price открытых позиций, чтобы выходы
// работали и без потока тикеров
func (e *Engine) markPriceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MarkPricePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.liveSymbols() {
				pctx, cancel := context.WithTimeout(ctx, e.cfg.MarkPricePoll)
				price, err := e.deps.Exchange.GetMarkPrice(pctx, symbol)
				cancel()
				if err != nil {
					e.log.Debug("mark price poll failed", utils.Symbol(symbol), utils.Err(err))
					continue
				}
				e.OnPrice(symbol, price)
			}
		}
	}
}

func (e *Engine) liveSymbols() []string {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for sym, w := range e.workers {
		if p := w.pm.snap.Load(); p != nil && p.State.Live() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// ============================================================
// Управление
// ============================================================

// Halt останавливает торговлю вручную
func (e *Engine) Halt(reason string) bool {
	if reason == "" {
		reason = "manual halt"
	}
	if !e.deps.Gate.Halt(reason) {
		return false
	}
	e.notify(newNotification(e.deps.Clock(), models.NotificationTypeHalted, "",
		"Trading halted: "+reason, map[string]interface{}{"reason": reason}))
	return true
}

// Resume снимает остановку
func (e *Engine) Resume() bool {
	if !e.deps.Gate.Resume() {
		return false
	}
	e.notify(newNotification(e.deps.Clock(), models.NotificationTypeResumed, "",
		"Trading resumed by operator", nil))
	return true
}

// ForceClose закрывает позицию символа по команде оператора
func (e *Engine) ForceClose(ctx context.Context, symbol string) error {
	symbol = utils.NormalizeSymbol(symbol)

	e.workersMu.RLock()
	_, ok := e.workers[symbol]
	e.workersMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLivePosition, symbol)
	}

	var closeErr error
	err := e.exec(ctx, symbol, func(wctx context.Context, w *symbolWorker) {
		closeErr = w.pm.ForceClose(wctx, w.lastPrice)
	})
	if err != nil {
		return err
	}
	return closeErr
}

// Positions возвращает снимки позиций с объемом на бирже
func (e *Engine) Positions() []*models.Position {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()

	out := make([]*models.Position, 0, len(e.workers))
	for _, w := range e.workers {
		if p := w.pm.Snapshot(); p != nil && !p.State.Terminal() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position возвращает снимок позиции символа или nil
func (e *Engine) Position(symbol string) *models.Position {
	e.workersMu.RLock()
	w := e.workers[utils.NormalizeSymbol(symbol)]
	e.workersMu.RUnlock()
	if w == nil {
		return nil
	}
	return w.pm.Snapshot()
}

// RiskState возвращает снимок риск-гейта
func (e *Engine) RiskState() models.RiskState {
	return e.deps.Gate.Snapshot()
}

// MatcherBuffers возвращает размеры буферов матчера
func (e *Engine) MatcherBuffers() map[string]int {
	return e.deps.Matcher.Snapshot()
}

// Gate дает доступ к гейту для реестра символов
func (e *Engine) Gate() *RiskGate {
	return e.deps.Gate
}
