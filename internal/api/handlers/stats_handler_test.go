package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"confluencebot/internal/models"
	"confluencebot/internal/service"
)

func TestStatsHandler_GetStats(t *testing.T) {
	stats := &mockStats{resp: &service.StatsResponse{
		TradingDay:   "2026-03-10",
		Today:        &models.TradeSummary{Trades: 4, Wins: 3, Losses: 1, WinRate: 75},
		Week:         &models.TradeSummary{Trades: 10},
		Month:        &models.TradeSummary{Trades: 30},
		RecentTrades: []*models.TradeRecord{},
	}}
	h := NewStatsHandler(stats)

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp service.StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TradingDay != "2026-03-10" || resp.Today.WinRate != 75 || resp.Month.Trades != 30 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestStatsHandler_Error(t *testing.T) {
	h := NewStatsHandler(&mockStats{err: errDatabase})

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		wantBody   string
	}{
		{"без проверок", nil, http.StatusOK, "ok"},
		{
			"все проверки прошли",
			map[string]HealthCheck{"database": func(context.Context) error { return nil }},
			http.StatusOK, "ok",
		},
		{
			"одна проверка упала",
			map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"engine":   func(context.Context) error { return errors.New("engine stopped") },
			},
			http.StatusServiceUnavailable, "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks)

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantBody)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %v, want %d entries", resp.Checks, len(tt.checks))
			}
		})
	}
}
