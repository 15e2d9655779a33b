package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"confluencebot/pkg/utils"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitWSPublic   = "wss://stream.bybit.com/v5/public/linear"
	bybitRecvWindow = "5000"

	// Лимит Bybit на ордерные эндпоинты - 10 req/s на символ, берем с запасом
	bybitDefaultRPS   = 8
	bybitDefaultBurst = 4
)

// Коды ошибок, повтор которых не имеет смысла
var bybitPermanentCodes = map[int]bool{
	10001:  true, // ошибка параметров
	10003:  true, // неверный API ключ
	10004:  true, // ошибка подписи
	10005:  true, // нет прав
	110007: true, // недостаточно средств
	110017: true, // reduce-only увеличил бы позицию
	110043: true, // плечо не изменилось
}

// BybitConfig - адреса и лимиты клиента (переопределяются в тестах и для testnet)
type BybitConfig struct {
	BaseURL     string
	WSPublicURL string
	RPS         float64
	Burst       int
}

// Bybit реализует Venue для линейных USDT фьючерсов Bybit v5
type Bybit struct {
	apiKey    string
	secretKey string

	baseURL     string
	wsPublicURL string

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *utils.Logger

	// WebSocket с автоматическим переподключением
	wsPublic *WSReconnectManager

	tickerCallbacks map[string]func(*Ticker)
	callbackMu      sync.RWMutex
	wsMu            sync.Mutex
}

// NewBybit создает клиент Bybit.
// Использует глобальный HTTP клиент с connection pooling.
func NewBybit(cfg BybitConfig, logger *utils.Logger) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitBaseURL
	}
	if cfg.WSPublicURL == "" {
		cfg.WSPublicURL = bybitWSPublic
	}
	if cfg.RPS <= 0 {
		cfg.RPS = bybitDefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = bybitDefaultBurst
	}
	if logger == nil {
		logger = utils.L()
	}

	return &Bybit{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		wsPublicURL:     cfg.WSPublicURL,
		httpClient:      GetGlobalHTTPClient().GetClient(),
		limiter:         rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:             logger.WithExchange("bybit"),
		tickerCallbacks: make(map[string]func(*Ticker)),
	}
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API и проверяет retCode
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]interface{}, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload, reqURL string
	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, fmt.Sprint(v))
		}
		payload = query.Encode()
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			body, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			payload = string(body)
		}
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, &ExchangeError{Exchange: "bybit", Code: strconv.Itoa(resp.StatusCode), Message: "server error"}
	}

	var base struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "malformed response", Original: err}
	}
	if base.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange:  "bybit",
			Code:      strconv.Itoa(base.RetCode),
			Message:   base.RetMsg,
			Permanent: bybitPermanentCodes[base.RetCode],
		}
	}

	return raw, nil
}

func (b *Bybit) Connect(ctx context.Context, apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}
	b.log.Info("connected")
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) GetBalance(ctx context.Context) (float64, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	for _, acc := range resp.Result.List {
		for _, coin := range acc.Coin {
			if coin.Coin == "USDT" {
				return strconv.ParseFloat(coin.Equity, 64)
			}
		}
	}
	return 0, nil
}

func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []bybitTicker `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("ticker not found for %s", symbol)
	}
	return resp.Result.List[0].toTicker(), nil
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

func (t bybitTicker) toTicker() *Ticker {
	return &Ticker{
		Symbol:    t.Symbol,
		BidPrice:  parseFloat(t.Bid1Price),
		AskPrice:  parseFloat(t.Ask1Price),
		LastPrice: parseFloat(t.LastPrice),
		MarkPrice: parseFloat(t.MarkPrice),
		Timestamp: time.Now(),
	}
}

func (b *Bybit) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				LotSizeFilter struct {
					MinOrderQty      string `json:"minOrderQty"`
					MaxOrderQty      string `json:"maxOrderQty"`
					QtyStep          string `json:"qtyStep"`
					MinNotionalValue string `json:"minNotionalValue"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
				LeverageFilter struct {
					MaxLeverage string `json:"maxLeverage"`
				} `json:"leverageFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, &ExchangeError{Exchange: "bybit", Message: "instrument not found: " + symbol, Permanent: true}
	}

	info := resp.Result.List[0]
	minNotional := parseFloat(info.LotSizeFilter.MinNotionalValue)
	if minNotional == 0 {
		minNotional = 5.0 // Bybit минимум 5 USDT
	}

	return &Limits{
		Symbol:      symbol,
		MinOrderQty: parseFloat(info.LotSizeFilter.MinOrderQty),
		MaxOrderQty: parseFloat(info.LotSizeFilter.MaxOrderQty),
		QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
		MinNotional: minNotional,
		PriceStep:   parseFloat(info.PriceFilter.TickSize),
		MaxLeverage: int(parseFloat(info.LeverageFilter.MaxLeverage)),
	}, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := map[string]interface{}{
		"category":  "linear",
		"symbol":    req.Symbol,
		"side":      bybitSide(req.Side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	if req.Type == OrderTypeLimit {
		params["orderType"] = "Limit"
		params["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	} else {
		params["timeInForce"] = "IOC"
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.ClientOrderID != "" {
		params["orderLinkId"] = req.ClientOrderID
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &Order{
		ID:            resp.Result.OrderID,
		ClientOrderID: resp.Result.OrderLinkID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Status:        OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Рыночный IOC исполняется сразу, подтягиваем факт исполнения
	if latest, err := b.GetOrder(ctx, req.Symbol, order.ID); err == nil {
		order.FilledQty = latest.FilledQty
		order.AvgFillPrice = latest.AvgFillPrice
		order.Status = latest.Status
	} else {
		b.log.Warn("order status lookup failed", utils.OrderID(order.ID), utils.Err(err))
	}

	return order, nil
}

func (b *Bybit) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderLinkID string `json:"orderLinkId"`
				Side        string `json:"side"`
				OrderType   string `json:"orderType"`
				Qty         string `json:"qty"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				OrderStatus string `json:"orderStatus"`
				UpdatedTime string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	o := resp.Result.List[0]
	updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return &Order{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        symbol,
		Side:          strings.ToLower(o.Side),
		Type:          strings.ToLower(o.OrderType),
		Quantity:      parseFloat(o.Qty),
		FilledQty:     parseFloat(o.CumExecQty),
		AvgFillPrice:  parseFloat(o.AvgPrice),
		Status:        bybitOrderStatus(o.OrderStatus),
		UpdatedAt:     utils.FromUnixMillis(updated),
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}, true)
	return err
}

func (b *Bybit) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", map[string]interface{}{
		"category":   "linear",
		"settleCoin": "USDT",
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      int(parseFloat(p.Leverage)),
			UnrealizedPnl: parseFloat(p.UnrealisedPnl),
			UpdatedAt:     utils.FromUnixMillis(updated),
		})
	}
	return positions, nil
}

func (b *Bybit) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	b.callbackMu.Lock()
	b.tickerCallbacks[symbol] = callback
	b.callbackMu.Unlock()

	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsPublic == nil {
		m := NewWSReconnectManager("bybit-public", b.wsPublicURL, DefaultWSReconnectConfig(), b.log)
		m.SetOnMessage(b.handlePublicMessage)
		if err := m.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WebSocket: %w", err)
		}
		b.wsPublic = m
	}

	sub := map[string]interface{}{"op": "subscribe", "args": []string{"tickers." + symbol}}
	b.wsPublic.AddSubscription("tickers."+symbol, sub)
	return b.wsPublic.Send(sub)
}

func (b *Bybit) UnsubscribeTicker(symbol string) error {
	b.callbackMu.Lock()
	delete(b.tickerCallbacks, symbol)
	b.callbackMu.Unlock()

	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsPublic == nil {
		return nil
	}
	b.wsPublic.RemoveSubscription("tickers." + symbol)
	return b.wsPublic.Send(map[string]interface{}{"op": "unsubscribe", "args": []string{"tickers." + symbol}})
}

// handlePublicMessage разбирает сообщения публичного стрима.
// Bybit шлет delta-обновления: отсутствующие поля приходят пустыми строками.
func (b *Bybit) handlePublicMessage(message []byte) {
	var msg struct {
		Topic string      `json:"topic"`
		Ts    int64       `json:"ts"`
		Data  bybitTicker `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}

	b.callbackMu.RLock()
	callback := b.tickerCallbacks[msg.Data.Symbol]
	b.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	t := msg.Data.toTicker()
	if msg.Ts > 0 {
		t.Timestamp = utils.FromUnixMillis(msg.Ts)
	}
	if t.Price() > 0 {
		callback(t)
	}
}

func (b *Bybit) Close() error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsPublic != nil {
		b.wsPublic.Close()
		b.wsPublic = nil
	}
	return nil
}

func bybitSide(side string) string {
	if side == SideSell || side == SideShort {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderStatus(status string) string {
	switch status {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusNew
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
