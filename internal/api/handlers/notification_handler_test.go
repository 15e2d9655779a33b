package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"confluencebot/internal/models"
)

// ============ NotificationHandler Tests ============

func TestNotificationHandler_GetNotifications(t *testing.T) {
	t.Run("returns empty list when no notifications", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotifications{})

		w := httptest.NewRecorder()
		handler.GetNotifications(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 0 || response.Notifications == nil {
			t.Errorf("expected empty non-nil list, got %+v", response)
		}
	})

	t.Run("filters by normalized types", func(t *testing.T) {
		svc := &mockNotifications{}
		svc.add(models.NotificationTypeOpened, models.SeverityInfo, "opened BTCUSDT")
		svc.add(models.NotificationTypeStopLoss, models.SeverityWarn, "stop BTCUSDT")
		svc.add(models.NotificationTypeRejected, models.SeverityInfo, "rejected ETHUSDT")
		handler := NewNotificationHandler(svc)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?types=opened,%20stop_loss,", nil)
		w := httptest.NewRecorder()
		handler.GetNotifications(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 2 {
			t.Errorf("expected total 2 (filtered), got %d", response.Total)
		}
		wantTypes := []string{"OPENED", "STOP_LOSS"}
		if !reflect.DeepEqual(svc.lastTypes, wantTypes) {
			t.Errorf("types = %v, want %v", svc.lastTypes, wantTypes)
		}
	})

	t.Run("limit parameter", func(t *testing.T) {
		tests := []struct {
			query string
			want  int
		}{
			{"", 100},
			{"?limit=5", 5},
			{"?limit=abc", 100},
			{"?limit=-3", 100},
		}
		for _, tt := range tests {
			svc := &mockNotifications{}
			handler := NewNotificationHandler(svc)
			handler.GetNotifications(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/notifications"+tt.query, nil))
			if svc.lastLimit != tt.want {
				t.Errorf("query %q: limit = %d, want %d", tt.query, svc.lastLimit, tt.want)
			}
		}
	})

	t.Run("service error", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotifications{err: errDatabase})

		w := httptest.NewRecorder()
		handler.GetNotifications(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestNotificationHandler_ClearNotifications(t *testing.T) {
	svc := &mockNotifications{}
	svc.add(models.NotificationTypeClosed, models.SeverityInfo, "closed")
	handler := NewNotificationHandler(svc)

	w := httptest.NewRecorder()
	handler.ClearNotifications(w, httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if len(svc.notifications) != 0 {
		t.Errorf("expected journal cleared, got %d", len(svc.notifications))
	}

	svc.err = errDatabase
	w = httptest.NewRecorder()
	handler.ClearNotifications(w, httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
