package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"confluencebot/pkg/utils"
)

// PaperConfig - параметры бумажной площадки
type PaperConfig struct {
	InitialBalance float64
	FeePercent     float64 // комиссия тейкера от номинала
	MinOrderQty    float64
	QtyStep        float64

	// Market - источник реальных котировок (обычно публичный WS Bybit).
	// nil - цены задаются только через SetPrice.
	Market Venue
}

// PaperVenue исполняет ордера в памяти по последней известной цене.
// Используется для сухого прогона стратегии и в тестах.
type PaperVenue struct {
	cfg PaperConfig
	log *utils.Logger

	mu        sync.Mutex
	balance   float64
	prices    map[string]*Ticker
	positions map[string]*Position
	orders    map[string]*Order
	callbacks map[string]func(*Ticker)

	seq atomic.Int64
}

// NewPaperVenue создает бумажную площадку
func NewPaperVenue(cfg PaperConfig, logger *utils.Logger) *PaperVenue {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.QtyStep <= 0 {
		cfg.QtyStep = 0.001
	}
	if cfg.MinOrderQty <= 0 {
		cfg.MinOrderQty = cfg.QtyStep
	}
	if logger == nil {
		logger = utils.L()
	}
	return &PaperVenue{
		cfg:       cfg,
		log:       logger.WithComponent("paper_venue"),
		balance:   cfg.InitialBalance,
		prices:    make(map[string]*Ticker),
		positions: make(map[string]*Position),
		orders:    make(map[string]*Order),
		callbacks: make(map[string]func(*Ticker)),
	}
}

// Connect ничего не проверяет: ключи бумажной площадке не нужны,
// а публичные данные Market доступны без авторизации
func (p *PaperVenue) Connect(ctx context.Context, apiKey, secret string) error {
	return nil
}

func (p *PaperVenue) GetName() string {
	return "paper"
}

// GetBalance возвращает equity: кошелек плюс нереализованный PnL
func (p *PaperVenue) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.balance
	for _, pos := range p.positions {
		if t, ok := p.prices[pos.Symbol]; ok {
			equity += utils.CalculatePNL(pos.Side, pos.EntryPrice, t.Price(), pos.Size)
		}
	}
	return equity, nil
}

// SetPrice задает котировку и уведомляет подписчика
func (p *PaperVenue) SetPrice(symbol string, price float64) {
	p.applyTicker(&Ticker{
		Symbol:    symbol,
		BidPrice:  price,
		AskPrice:  price,
		LastPrice: price,
		MarkPrice: price,
		Timestamp: time.Now(),
	})
}

func (p *PaperVenue) applyTicker(t *Ticker) {
	p.mu.Lock()
	p.prices[t.Symbol] = t
	if pos, ok := p.positions[t.Symbol]; ok {
		pos.MarkPrice = t.Price()
		pos.UnrealizedPnl = utils.CalculatePNL(pos.Side, pos.EntryPrice, t.Price(), pos.Size)
		pos.UpdatedAt = t.Timestamp
	}
	p.fillRestingLocked(t)
	cb := p.callbacks[t.Symbol]
	p.mu.Unlock()

	if cb != nil {
		cb(t)
	}
}

func (p *PaperVenue) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.Lock()
	t, ok := p.prices[symbol]
	p.mu.Unlock()
	if ok {
		cp := *t
		return &cp, nil
	}

	if p.cfg.Market != nil {
		t, err := p.cfg.Market.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.prices[symbol] = t
		p.mu.Unlock()
		cp := *t
		return &cp, nil
	}
	return nil, &ExchangeError{Exchange: "paper", Message: "no price for " + symbol, Original: ErrInvalidPrice}
}

func (p *PaperVenue) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	if p.cfg.Market != nil {
		if l, err := p.cfg.Market.GetLimits(ctx, symbol); err == nil {
			return l, nil
		}
	}
	return &Limits{
		Symbol:      symbol,
		MinOrderQty: p.cfg.MinOrderQty,
		QtyStep:     p.cfg.QtyStep,
		MaxLeverage: 100,
	}, nil
}

// PlaceOrder исполняет рыночный ордер сразу, лимитный - если он
// пересекает текущую цену, иначе оставляет его в книге до SetPrice.
func (p *PaperVenue) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, &ExchangeError{Exchange: "paper", Code: "qty", Message: "quantity must be positive", Permanent: true, Original: ErrBelowMinQty}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.prices[req.Symbol]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Message: "no price for " + req.Symbol, Original: ErrInvalidPrice}
	}

	if req.ReduceOnly {
		pos, ok := p.positions[req.Symbol]
		if !ok || ExitSide(pos.Side) != req.Side {
			return nil, &ExchangeError{Exchange: "paper", Code: "reduce_only", Message: "reduce-only order would open position", Permanent: true, Original: ErrNoPosition}
		}
	}

	now := time.Now()
	order := &Order{
		ID:            strconv.FormatInt(p.seq.Add(1), 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Status:        OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.orders[order.ID] = order

	switch {
	case req.Type != OrderTypeLimit:
		p.fillLocked(order, req.ReduceOnly, fillPrice(req.Side, t))
	case marketable(req.Side, req.Price, t):
		p.fillLocked(order, req.ReduceOnly, req.Price)
	}

	cp := *order
	return &cp, nil
}

func fillPrice(side string, t *Ticker) float64 {
	if side == SideBuy && t.AskPrice > 0 {
		return t.AskPrice
	}
	if side == SideSell && t.BidPrice > 0 {
		return t.BidPrice
	}
	return t.Price()
}

func marketable(side string, limit float64, t *Ticker) bool {
	if side == SideBuy {
		return limit >= fillPrice(side, t)
	}
	return limit <= fillPrice(side, t)
}

func (p *PaperVenue) fillRestingLocked(t *Ticker) {
	for _, o := range p.orders {
		if o.Symbol != t.Symbol || o.Status != OrderStatusNew || o.Type != OrderTypeLimit {
			continue
		}
		if marketable(o.Side, o.Price, t) {
			_, hasPos := p.positions[o.Symbol]
			p.fillLocked(o, hasPos, o.Price)
		}
	}
}

// fillLocked применяет исполнение к позиции и кошельку
func (p *PaperVenue) fillLocked(o *Order, reduceOnly bool, price float64) {
	qty := o.Quantity
	pos, hasPos := p.positions[o.Symbol]
	fee := qty * price * p.cfg.FeePercent / 100

	switch {
	case hasPos && ExitSide(pos.Side) == o.Side:
		closeQty := math.Min(qty, pos.Size)
		p.balance += utils.CalculatePNL(pos.Side, pos.EntryPrice, price, closeQty)
		pos.Size -= closeQty
		if pos.Size <= utils.PercentEpsilon {
			delete(p.positions, o.Symbol)
		}
		if reduceOnly {
			qty = closeQty
		} else if rest := qty - closeQty; rest > utils.PercentEpsilon {
			p.positions[o.Symbol] = p.newPosition(o.Symbol, o.Side, rest, price)
		}
	case hasPos:
		total := pos.Size + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / total
		pos.Size = total
	default:
		p.positions[o.Symbol] = p.newPosition(o.Symbol, o.Side, qty, price)
	}

	p.balance -= fee
	o.FilledQty = qty
	o.AvgFillPrice = price
	o.Status = OrderStatusFilled
	o.UpdatedAt = time.Now()

	p.log.Debug("paper fill",
		utils.Symbol(o.Symbol), utils.Side(o.Side),
		utils.Quantity(qty), utils.Price(price), utils.OrderID(o.ID))
}

func (p *PaperVenue) newPosition(symbol, orderSide string, qty, price float64) *Position {
	side := SideLong
	if orderSide == SideSell {
		side = SideShort
	}
	return &Position{
		Symbol:     symbol,
		Side:       side,
		Size:       qty,
		EntryPrice: price,
		MarkPrice:  price,
		Leverage:   1,
		UpdatedAt:  time.Now(),
	}
}

func (p *PaperVenue) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Code: "order", Message: fmt.Sprintf("order %s not found", orderID), Permanent: true}
	}
	cp := *o
	return &cp, nil
}

func (p *PaperVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if o, ok := p.orders[orderID]; ok && o.Status == OrderStatusNew {
		o.Status = OrderStatusCancelled
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (p *PaperVenue) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

// SubscribeTicker регистрирует callback; при наличии Market котировки
// приходят с реальной биржи и сначала применяются к бумажному счету.
func (p *PaperVenue) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	p.mu.Lock()
	p.callbacks[symbol] = callback
	p.mu.Unlock()

	if p.cfg.Market != nil {
		return p.cfg.Market.SubscribeTicker(symbol, p.applyTicker)
	}
	return nil
}

func (p *PaperVenue) UnsubscribeTicker(symbol string) error {
	p.mu.Lock()
	delete(p.callbacks, symbol)
	p.mu.Unlock()

	if p.cfg.Market != nil {
		return p.cfg.Market.UnsubscribeTicker(symbol)
	}
	return nil
}

func (p *PaperVenue) Close() error {
	if p.cfg.Market != nil {
		return p.cfg.Market.Close()
	}
	return nil
}
