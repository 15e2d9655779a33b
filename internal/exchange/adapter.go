package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"confluencebot/pkg/utils"
)

// AdapterConfig - параметры перевода процентов капитала в количество контрактов
type AdapterConfig struct {
	Leverage      float64       // номинал = equity * sizing% * Leverage
	BalanceTTL    time.Duration // кэш equity
	LimitsTTL     time.Duration // кэш торговых лимитов
	FillPoll      time.Duration // интервал опроса статуса ордера
	CancelTimeout time.Duration // таймаут отмены после истечения дедлайна входа
}

// DefaultAdapterConfig возвращает конфигурацию по умолчанию
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Leverage:      1,
		BalanceTTL:    30 * time.Second,
		LimitsTTL:     time.Hour,
		FillPoll:      250 * time.Millisecond,
		CancelTimeout: 5 * time.Second,
	}
}

type cachedLimits struct {
	limits    *Limits
	fetchedAt time.Time
}

// FuturesAdapter реализует Futures поверх Venue.
//
// Количество всегда округляется вниз до шага лота через decimal,
// чтобы не отправлять на биржу 0.30000000000000004.
type FuturesAdapter struct {
	venue Venue
	cfg   AdapterConfig
	log   *utils.Logger
	now   func() time.Time

	mu       sync.Mutex
	equity   float64
	equityAt time.Time
	limits   map[string]cachedLimits
}

// NewFuturesAdapter создает адаптер над площадкой исполнения
func NewFuturesAdapter(venue Venue, cfg AdapterConfig, logger *utils.Logger) *FuturesAdapter {
	def := DefaultAdapterConfig()
	if cfg.Leverage <= 0 {
		cfg.Leverage = def.Leverage
	}
	if cfg.BalanceTTL <= 0 {
		cfg.BalanceTTL = def.BalanceTTL
	}
	if cfg.LimitsTTL <= 0 {
		cfg.LimitsTTL = def.LimitsTTL
	}
	if cfg.FillPoll <= 0 {
		cfg.FillPoll = def.FillPoll
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	return &FuturesAdapter{
		venue:  venue,
		cfg:    cfg,
		log:    logger.WithComponent("futures_adapter").WithExchange(venue.GetName()),
		now:    time.Now,
		limits: make(map[string]cachedLimits),
	}
}

// Venue возвращает нижележащую площадку (подписки на тикеры)
func (a *FuturesAdapter) Venue() Venue {
	return a.venue
}

// Equity возвращает equity аккаунта с кэшированием на BalanceTTL
func (a *FuturesAdapter) Equity(ctx context.Context) (float64, error) {
	a.mu.Lock()
	if !a.equityAt.IsZero() && a.now().Sub(a.equityAt) < a.cfg.BalanceTTL {
		eq := a.equity
		a.mu.Unlock()
		return eq, nil
	}
	a.mu.Unlock()

	eq, err := a.venue.GetBalance(ctx)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.equity = eq
	a.equityAt = a.now()
	a.mu.Unlock()
	return eq, nil
}

func (a *FuturesAdapter) getLimits(ctx context.Context, symbol string) (*Limits, error) {
	a.mu.Lock()
	c, ok := a.limits[symbol]
	a.mu.Unlock()
	if ok && a.now().Sub(c.fetchedAt) < a.cfg.LimitsTTL {
		return c.limits, nil
	}

	l, err := a.venue.GetLimits(ctx, symbol)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.limits[symbol] = cachedLimits{limits: l, fetchedAt: a.now()}
	a.mu.Unlock()
	return l, nil
}

// EntryQuantity переводит sizingPercent в количество контрактов
func EntryQuantity(equity, sizingPercent, leverage, price float64, limits *Limits) (float64, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	notional := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(sizingPercent)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromFloat(leverage))
	qty := notional.Div(decimal.NewFromFloat(price))

	if limits != nil {
		qty = floorToStep(qty, limits.QtyStep)
		if limits.MaxOrderQty > 0 && qty.GreaterThan(decimal.NewFromFloat(limits.MaxOrderQty)) {
			qty = floorToStep(decimal.NewFromFloat(limits.MaxOrderQty), limits.QtyStep)
		}
		if qty.LessThan(decimal.NewFromFloat(limits.MinOrderQty)) || qty.IsZero() {
			return 0, fmt.Errorf("%w: %s < %v", ErrBelowMinQty, qty.String(), limits.MinOrderQty)
		}
		if limits.MinNotional > 0 && qty.Mul(decimal.NewFromFloat(price)).LessThan(decimal.NewFromFloat(limits.MinNotional)) {
			return 0, fmt.Errorf("%w: notional below %v", ErrBelowMinQty, limits.MinNotional)
		}
	}

	f, _ := qty.Float64()
	return f, nil
}

// ExitQuantity возвращает количество для закрытия fraction от остатка size.
// Если после округления остаток меньше минимального лота, закрывается все.
func ExitQuantity(size, fraction float64, limits *Limits) float64 {
	if fraction >= 1-utils.PercentEpsilon {
		return size
	}
	total := decimal.NewFromFloat(size)
	qty := total.Mul(decimal.NewFromFloat(fraction))

	if limits != nil {
		qty = floorToStep(qty, limits.QtyStep)
		minQty := decimal.NewFromFloat(limits.MinOrderQty)
		if qty.LessThan(minQty) {
			qty = decimal.Min(minQty, total)
		}
		if total.Sub(qty).LessThan(minQty) {
			qty = total
		}
	}

	f, _ := qty.Float64()
	return f
}

func floorToStep(qty decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return qty.Div(s).Floor().Mul(s)
}

// PlaceEntryOrder открывает позицию.
//
// Если ордер не исполнен к дедлайну ctx, он отменяется и возвращается
// ErrEntryTimeout. Частичное исполнение к дедлайну считается входом
// на исполненный объем.
func (a *FuturesAdapter) PlaceEntryOrder(ctx context.Context, symbol, side string, sizingPercent float64) (*Fill, error) {
	equity, err := a.Equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("get equity: %w", err)
	}
	ticker, err := a.venue.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}
	limits, err := a.getLimits(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get limits: %w", err)
	}

	qty, err := EntryQuantity(equity, sizingPercent, a.cfg.Leverage, ticker.Price(), limits)
	if err != nil {
		return nil, err
	}

	order, err := a.venue.PlaceOrder(ctx, OrderRequest{
		Symbol:        symbol,
		Side:          EntrySide(side),
		Type:          OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("entry order placed",
		utils.Symbol(symbol), utils.Side(side),
		utils.OrderID(order.ID), utils.Quantity(qty), utils.SizingPercent(sizingPercent))

	return a.awaitFill(ctx, order, ticker.Price(), true)
}

// PlaceExitOrder закрывает долю текущей позиции reduce-only ордером
func (a *FuturesAdapter) PlaceExitOrder(ctx context.Context, symbol string, fraction float64, orderType string) (*Fill, error) {
	if err := utils.ValidateFraction(fraction); err != nil {
		return nil, err
	}

	pos, err := a.findPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	limits, err := a.getLimits(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get limits: %w", err)
	}
	ticker, err := a.venue.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}

	req := OrderRequest{
		Symbol:        symbol,
		Side:          ExitSide(pos.Side),
		Type:          OrderTypeMarket,
		Quantity:      ExitQuantity(pos.Size, fraction, limits),
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	}
	if orderType == OrderTypeLimit {
		req.Type = OrderTypeLimit
		// агрессивная цена по лучшей встречной котировке
		req.Price = ticker.BidPrice
		if req.Side == SideBuy {
			req.Price = ticker.AskPrice
		}
		if req.Price <= 0 {
			req.Price = ticker.Price()
		}
	}

	order, err := a.venue.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.awaitFill(ctx, order, ticker.Price(), false)
}

func (a *FuturesAdapter) findPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := a.venue.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Size > 0 {
			return p, nil
		}
	}
	return nil, &ExchangeError{Exchange: a.venue.GetName(), Message: ErrNoPosition.Error() + ": " + symbol, Permanent: true, Original: ErrNoPosition}
}

// awaitFill опрашивает ордер до исполнения или дедлайна ctx
func (a *FuturesAdapter) awaitFill(ctx context.Context, order *Order, refPrice float64, entry bool) (*Fill, error) {
	ticker := time.NewTicker(a.cfg.FillPoll)
	defer ticker.Stop()

	for {
		if order.Status == OrderStatusFilled || (order.Done() && order.FilledQty > 0) {
			return a.toFill(order, refPrice), nil
		}
		if order.Done() {
			return nil, fmt.Errorf("%w: order %s %s", ErrNotFilled, order.ID, order.Status)
		}

		select {
		case <-ctx.Done():
			return a.onDeadline(order, refPrice, entry, ctx.Err())
		case <-ticker.C:
		}

		latest, err := a.venue.GetOrder(ctx, order.Symbol, order.ID)
		if err != nil {
			if ctx.Err() != nil {
				return a.onDeadline(order, refPrice, entry, ctx.Err())
			}
			a.log.Warn("order status poll failed", utils.OrderID(order.ID), utils.Err(err))
			continue
		}
		latest.Symbol = order.Symbol
		latest.Side = order.Side
		order = latest
	}
}

// onDeadline отменяет неисполненный остаток ордера
func (a *FuturesAdapter) onDeadline(order *Order, refPrice float64, entry bool, cause error) (*Fill, error) {
	cctx, cancel := context.WithTimeout(context.Background(), a.cfg.CancelTimeout)
	defer cancel()

	if err := a.venue.CancelOrder(cctx, order.Symbol, order.ID); err != nil {
		a.log.Warn("cancel after deadline failed", utils.OrderID(order.ID), utils.Err(err))
	}

	if latest, err := a.venue.GetOrder(cctx, order.Symbol, order.ID); err == nil && latest.FilledQty > 0 {
		latest.Symbol = order.Symbol
		latest.Side = order.Side
		return a.toFill(latest, refPrice), nil
	}

	if entry {
		return nil, fmt.Errorf("%w: %v", ErrEntryTimeout, cause)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: exit order %s", ErrNotFilled, order.ID)
	}
	return nil, cause
}

func (a *FuturesAdapter) toFill(o *Order, refPrice float64) *Fill {
	price := o.AvgFillPrice
	if price <= 0 {
		price = refPrice
	}
	qty := o.FilledQty
	if qty <= 0 {
		qty = o.Quantity
	}
	return &Fill{
		OrderID:  o.ID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: qty,
		Price:    price,
		At:       a.now(),
	}
}

// GetMarkPrice возвращает mark price символа
func (a *FuturesAdapter) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := a.venue.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if t.Price() <= 0 {
		return 0, ErrInvalidPrice
	}
	return t.Price(), nil
}

// GetOpenPositions возвращает позиции площадки как есть
func (a *FuturesAdapter) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	return a.venue.GetOpenPositions(ctx)
}
