package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"confluencebot/internal/bot"
	"confluencebot/internal/models"
)

func TestControlHandler_HaltResume(t *testing.T) {
	control := newMockControl()
	h := NewControlHandler(control)

	// остановка с причиной
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/halt", strings.NewReader(`{"reason":"news"}`))
	w := httptest.NewRecorder()
	h.Halt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Halt status = %d, want %d", w.Code, http.StatusOK)
	}
	var state models.RiskState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Mode != models.GateHalted || state.HaltedReason != "news" {
		t.Errorf("state = %s/%q, want HALTED/news", state.Mode, state.HaltedReason)
	}

	// повторная остановка
	w = httptest.NewRecorder()
	h.Halt(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/halt", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("second Halt status = %d, want %d", w.Code, http.StatusConflict)
	}

	// возобновление
	w = httptest.NewRecorder()
	h.Resume(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/resume", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Resume status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	h.Resume(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/resume", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("second Resume status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestControlHandler_HaltWithoutBody(t *testing.T) {
	control := newMockControl()
	h := NewControlHandler(control)

	w := httptest.NewRecorder()
	h.Halt(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/halt", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := control.RiskState().HaltedReason; got != "manual" {
		t.Errorf("HaltedReason = %q, want manual", got)
	}
}

func TestControlHandler_HaltInvalidJSON(t *testing.T) {
	h := NewControlHandler(newMockControl())

	w := httptest.NewRecorder()
	h.Halt(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/halt", strings.NewReader(`{"reason":`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestControlHandler_GetRiskAndPositions(t *testing.T) {
	control := newMockControl()
	control.state.DailyTradeCount = 3
	control.positions = []*models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, State: models.PositionOpen},
		{Symbol: "ETHUSDT", Side: models.SideShort, State: models.PositionPartialExit},
	}
	h := NewControlHandler(control)

	w := httptest.NewRecorder()
	h.GetRisk(w, httptest.NewRequest(http.MethodGet, "/api/v1/risk", nil))
	var state models.RiskState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode risk: %v", err)
	}
	if state.DailyTradeCount != 3 {
		t.Errorf("daily_trade_count = %d, want 3", state.DailyTradeCount)
	}

	w = httptest.NewRecorder()
	h.GetPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	var resp PositionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode positions: %v", err)
	}
	if resp.Total != 2 || resp.Positions[1].Symbol != "ETHUSDT" {
		t.Errorf("positions = %+v, want BTCUSDT and ETHUSDT", resp.Positions)
	}
}

func TestControlHandler_ClosePosition(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		closeErr   error
		wantStatus int
	}{
		{"живая позиция", "btcusdt", nil, http.StatusOK},
		{"нет позиции", "SOLUSDT", nil, http.StatusNotFound},
		{"пустой символ", " ", nil, http.StatusBadRequest},
		{"движок остановлен", "BTCUSDT", bot.ErrEngineStopped, http.StatusServiceUnavailable},
		{"биржа отклонила", "BTCUSDT", errors.New("reduce-only rejected"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control := newMockControl()
			control.positions = []*models.Position{{Symbol: "BTCUSDT", State: models.PositionOpen}}
			control.closeErr = tt.closeErr
			h := NewControlHandler(control)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/positions/x/close", nil)
			req = mux.SetURLVars(req, map[string]string{"symbol": tt.symbol})
			w := httptest.NewRecorder()

			h.ClosePosition(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
