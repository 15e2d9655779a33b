package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"confluencebot/pkg/utils"
)

func newTestBybit(t *testing.T, handler http.HandlerFunc) *Bybit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBybit(BybitConfig{BaseURL: srv.URL, RPS: 1000, Burst: 100}, utils.NewNopLogger())
	b.apiKey = "key"
	b.secretKey = "secret"
	return b
}

func TestBybitGetTicker(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/tickers" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("unexpected request %s", r.URL)
		}
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","bid1Price":"99.5","ask1Price":"100.5","lastPrice":"100","markPrice":"100.2"}]}}`)
	})

	ticker, err := b.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker() error = %v", err)
	}
	if ticker.Price() != 100.2 || ticker.BidPrice != 99.5 || ticker.AskPrice != 100.5 {
		t.Errorf("GetTicker() = %+v", ticker)
	}
}

func TestBybitPlaceOrderSignsAndFetchesFill(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			if r.Header.Get("X-BAPI-SIGN") == "" || r.Header.Get("X-BAPI-API-KEY") != "key" {
				t.Error("order request is not signed")
			}
			body, _ := io.ReadAll(r.Body)
			var req map[string]interface{}
			_ = json.Unmarshal(body, &req)
			if req["side"] != "Sell" || req["reduceOnly"] != true || req["timeInForce"] != "IOC" {
				t.Errorf("unexpected order body %s", body)
			}
			io.WriteString(w, `{"retCode":0,"result":{"orderId":"o-1","orderLinkId":"c-1"}}`)
		case "/v5/order/realtime":
			io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderId":"o-1","side":"Sell","orderType":"Market","qty":"2","cumExecQty":"2","avgPrice":"101","orderStatus":"Filled","updatedTime":"1700000000000"}]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	order, err := b.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeMarket, Quantity: 2, ReduceOnly: true, ClientOrderID: "c-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if order.Status != OrderStatusFilled || order.FilledQty != 2 || order.AvgFillPrice != 101 {
		t.Errorf("PlaceOrder() = %+v", order)
	}
}

func TestBybitErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
	}{
		{"недостаточно средств", 200, `{"retCode":110007,"retMsg":"insufficient balance"}`, false},
		{"лимит запросов", 200, `{"retCode":10006,"retMsg":"too many visits"}`, true},
		{"ошибка сервера", 502, `bad gateway`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := b.GetBalance(context.Background())
			var exErr *ExchangeError
			if !errors.As(err, &exErr) {
				t.Fatalf("GetBalance() error = %v, want *ExchangeError", err)
			}
			if exErr.Retryable() != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", exErr.Retryable(), tt.wantRetryable)
			}
		})
	}
}

func TestBybitOpenPositionsSkipsEmpty(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"result":{"list":[
			{"symbol":"BTCUSDT","side":"Sell","size":"0.5","avgPrice":"100","markPrice":"99","leverage":"3"},
			{"symbol":"ETHUSDT","side":"","size":"0","avgPrice":"0"}]}}`)
	})

	positions, err := b.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("GetOpenPositions() error = %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	if p := positions[0]; p.Side != SideShort || p.Size != 0.5 || p.Leverage != 3 {
		t.Errorf("position = %+v", p)
	}
}
