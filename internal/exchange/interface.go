package exchange

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json - совместимый со стандартной библиотекой jsoniter для горячих путей
// (REST ответы биржи, тикеры из WebSocket)
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Venue - низкоуровневый интерфейс конкретной биржи (линейные фьючерсы USDT)
type Venue interface {
	// Connect проверяет ключи и готовит клиент к работе
	Connect(ctx context.Context, apiKey, secret string) error

	// GetName возвращает имя биржи
	GetName() string

	// GetBalance возвращает equity фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// GetTicker возвращает текущие цены по символу
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetLimits возвращает торговые ограничения символа
	GetLimits(ctx context.Context, symbol string) (*Limits, error)

	// PlaceOrder размещает рыночный или лимитный ордер
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// GetOrder возвращает актуальное состояние ордера
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// CancelOrder отменяет активный ордер
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOpenPositions возвращает открытые позиции аккаунта
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// SubscribeTicker подписывается на обновления цены через WebSocket
	SubscribeTicker(symbol string, callback func(*Ticker)) error

	// UnsubscribeTicker снимает подписку на символ
	UnsubscribeTicker(symbol string) error

	// Close закрывает соединения
	Close() error
}

// Futures - поверхность биржи, которую использует торговое ядро.
// Реализуется FuturesAdapter поверх любой Venue.
type Futures interface {
	// PlaceEntryOrder открывает позицию размером sizingPercent от equity.
	// Дедлайн входа задается через ctx.
	PlaceEntryOrder(ctx context.Context, symbol, side string, sizingPercent float64) (*Fill, error)

	// PlaceExitOrder закрывает fraction (0, 1] от текущего остатка позиции
	PlaceExitOrder(ctx context.Context, symbol string, fraction float64, orderType string) (*Fill, error)

	// GetMarkPrice возвращает mark price символа
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetOpenPositions используется для сверки после рестарта
	GetOpenPositions(ctx context.Context) ([]*Position, error)
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	AskPrice  float64   `json:"ask_price"`
	LastPrice float64   `json:"last_price"`
	MarkPrice float64   `json:"mark_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Price возвращает mark price, а при его отсутствии - последнюю сделку
func (t *Ticker) Price() float64 {
	if t.MarkPrice > 0 {
		return t.MarkPrice
	}
	return t.LastPrice
}

// OrderRequest - параметры нового ордера
type OrderRequest struct {
	Symbol        string
	Side          string // buy / sell
	Type          string // market / limit
	Quantity      float64
	Price         float64 // только для limit
	ReduceOnly    bool
	ClientOrderID string
}

// Order представляет ордер
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	FilledQty     float64   `json:"filled_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Done - ордер больше не будет исполняться
func (o *Order) Done() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Position - открытая позиция, как ее видит биржа
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long / short
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Fill - результат исполнения ордера входа или выхода
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"` // buy / sell
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	At       time.Time `json:"at"`
}

// Limits содержит торговые ограничения биржи
type Limits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"`
	MaxOrderQty float64 `json:"max_order_qty"`
	QtyStep     float64 `json:"qty_step"`
	MinNotional float64 `json:"min_notional"`
	PriceStep   float64 `json:"price_step"`
	MaxLeverage int     `json:"max_leverage"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange  string
	Code      string
	Message   string
	Permanent bool // биржа отклонила запрос по существу, повтор не поможет
	Original  error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable используется pkg/retry для классификации
func (e *ExchangeError) Retryable() bool {
	return !e.Permanent
}

var (
	ErrNotFilled    = errors.New("order not filled")
	ErrEntryTimeout = errors.New("entry order deadline exceeded")
	ErrNoPosition   = errors.New("no open position for symbol")
	ErrBelowMinQty  = errors.New("order quantity below exchange minimum")
	ErrInvalidPrice = errors.New("invalid price")
	ErrNotConnected = errors.New("exchange not connected")
	ErrUnknownVenue = errors.New("unsupported exchange")
)

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Side constants for positions
const (
	SideLong  = "long"
	SideShort = "short"
)

// Order types
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// EntrySide возвращает сторону ордера для открытия позиции
func EntrySide(positionSide string) string {
	if positionSide == SideShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide возвращает сторону ордера для закрытия позиции
func ExitSide(positionSide string) string {
	if positionSide == SideShort {
		return SideBuy
	}
	return SideSell
}
