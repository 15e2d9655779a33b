package exchange

import (
	"context"
	"testing"

	"confluencebot/pkg/utils"
)

func TestPaperVenueRealizesPnL(t *testing.T) {
	p := NewPaperVenue(PaperConfig{InitialBalance: 1000}, utils.NewNopLogger())
	ctx := context.Background()
	p.SetPrice("ETHUSDT", 200)

	if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideSell, Type: OrderTypeMarket, Quantity: 2}); err != nil {
		t.Fatalf("open short: %v", err)
	}

	p.SetPrice("ETHUSDT", 190)
	eq, _ := p.GetBalance(ctx)
	if eq != 1020 {
		t.Errorf("equity with unrealized = %v, want 1020", eq)
	}

	if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: 5, ReduceOnly: true}); err != nil {
		t.Fatalf("close short: %v", err)
	}

	positions, _ := p.GetOpenPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("reduce-only must not flip position, got %+v", positions[0])
	}
	eq, _ = p.GetBalance(ctx)
	if eq != 1020 {
		t.Errorf("equity after close = %v, want 1020", eq)
	}
}

func TestPaperVenueExitLargerThanPosition(t *testing.T) {
	tests := []struct {
		name       string
		reduceOnly bool
		wantFilled float64
		wantSide   string // пусто - позиции нет
		wantSize   float64
	}{
		{"reduce-only закрывает только позицию", true, 1.5, "", 0},
		{"обычный ордер переворачивает позицию", false, 4, SideShort, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPaperVenue(PaperConfig{InitialBalance: 1000}, utils.NewNopLogger())
			ctx := context.Background()
			p.SetPrice("SOLUSDT", 20)

			if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "SOLUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: 1.5}); err != nil {
				t.Fatalf("open long: %v", err)
			}
			o, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "SOLUSDT", Side: SideSell, Type: OrderTypeMarket, Quantity: 4, ReduceOnly: tt.reduceOnly})
			if err != nil {
				t.Fatalf("exit: %v", err)
			}
			if o.FilledQty != tt.wantFilled {
				t.Errorf("FilledQty = %v, want %v", o.FilledQty, tt.wantFilled)
			}

			positions, _ := p.GetOpenPositions(ctx)
			if tt.wantSide == "" {
				if len(positions) != 0 {
					t.Fatalf("positions = %+v, want none", positions[0])
				}
				return
			}
			if len(positions) != 1 {
				t.Fatalf("len(positions) = %d, want 1", len(positions))
			}
			if positions[0].Side != tt.wantSide || positions[0].Size != tt.wantSize {
				t.Errorf("position = %s %v, want %s %v", positions[0].Side, positions[0].Size, tt.wantSide, tt.wantSize)
			}
		})
	}
}

func TestPaperVenueReduceOnlyWithoutPosition(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, utils.NewNopLogger())
	p.SetPrice("BTCUSDT", 100)

	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Quantity: 1, ReduceOnly: true})
	if err == nil {
		t.Fatal("reduce-only order without position should be rejected")
	}
}

func TestPaperVenueRestingLimit(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, utils.NewNopLogger())
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 100)

	o, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeLimit, Quantity: 1, Price: 95})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if o.Status != OrderStatusNew {
		t.Fatalf("limit below market status = %s, want new", o.Status)
	}

	p.SetPrice("BTCUSDT", 94)
	got, _ := p.GetOrder(ctx, "BTCUSDT", o.ID)
	if got.Status != OrderStatusFilled || got.AvgFillPrice != 95 {
		t.Errorf("resting order = %+v, want filled at 95", got)
	}
}

func TestPaperVenueTickerCallback(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, utils.NewNopLogger())

	var last float64
	if err := p.SubscribeTicker("SOLUSDT", func(t *Ticker) { last = t.Price() }); err != nil {
		t.Fatalf("SubscribeTicker() error = %v", err)
	}
	p.SetPrice("SOLUSDT", 42)
	if last != 42 {
		t.Errorf("callback price = %v, want 42", last)
	}

	_ = p.UnsubscribeTicker("SOLUSDT")
	p.SetPrice("SOLUSDT", 43)
	if last != 42 {
		t.Errorf("callback fired after unsubscribe")
	}
}

func TestNewVenue(t *testing.T) {
	if _, err := NewVenue(VenueConfig{Name: "paper"}, utils.NewNopLogger()); err != nil {
		t.Errorf("NewVenue(paper) error = %v", err)
	}
	if v, err := NewVenue(VenueConfig{Name: "Bybit"}, utils.NewNopLogger()); err != nil || v.GetName() != "bybit" {
		t.Errorf("NewVenue(Bybit) = %v, %v", v, err)
	}
	if _, err := NewVenue(VenueConfig{Name: "okx"}, utils.NewNopLogger()); err == nil {
		t.Error("NewVenue(okx) should fail")
	}
}
