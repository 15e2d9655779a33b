package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"confluencebot/internal/bot"
	"confluencebot/internal/models"
)

// maxAlertsPerRequest - сколько алертов принимается одним запросом
const maxAlertsPerRequest = 100

// AlertSubmitter - прием алертов движком
type AlertSubmitter interface {
	SubmitAlert(ctx context.Context, alert models.Alert) (bot.IngestResult, error)
}

// AlertHandler принимает алерты по HTTP (вебхук upstream-фида).
//
// Endpoints:
// - POST /api/v1/alerts - один алерт или массив
type AlertHandler struct {
	submitter AlertSubmitter
}

// NewAlertHandler создает новый AlertHandler
func NewAlertHandler(submitter AlertSubmitter) *AlertHandler {
	return &AlertHandler{submitter: submitter}
}

// AlertResult - итог приема одного алерта
type AlertResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	CandidateID string `json:"candidate_id,omitempty"`
}

// SubmitAlertsResponse - ответ на POST /alerts
type SubmitAlertsResponse struct {
	Results []AlertResult `json:"results"`
}

// SubmitAlerts принимает алерты
//
// POST /api/v1/alerts
//
// Тело: объект {id, type, symbol, timestamp, payload} или массив таких объектов.
// Каждый алерт получает свой статус: accepted, duplicate, expired, invalid.
// Невалидный алерт не ломает остальные в пакете.
//
// HTTP коды:
// - 200 OK: все алерты обработаны (статусы в теле)
// - 400 Bad Request: тело не разбирается или пустое
// - 413 Request Entity Too Large: слишком много алертов в запросе
// - 503 Service Unavailable: движок не запущен или остановлен
func (h *AlertHandler) SubmitAlerts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Failed to read body", err.Error())
		return
	}

	alerts, err := decodeAlerts(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if len(alerts) == 0 {
		respondWithError(w, http.StatusBadRequest, "empty_request", "No alerts in request", "")
		return
	}
	if len(alerts) > maxAlertsPerRequest {
		respondWithError(w, http.StatusRequestEntityTooLarge, "too_many_alerts", "Too many alerts in one request", "")
		return
	}

	resp := SubmitAlertsResponse{Results: make([]AlertResult, 0, len(alerts))}
	for _, alert := range alerts {
		res, err := h.submitter.SubmitAlert(r.Context(), alert)
		if err != nil {
			if errors.Is(err, bot.ErrEngineNotStarted) || errors.Is(err, bot.ErrEngineStopped) {
				respondWithError(w, http.StatusServiceUnavailable, "engine_unavailable", "Engine is not running", err.Error())
				return
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			resp.Results = append(resp.Results, AlertResult{ID: alert.ID, Status: "error", Reason: err.Error()})
			continue
		}

		result := AlertResult{ID: res.Alert.ID, Status: string(res.Status), Reason: res.Reason}
		if result.ID == "" {
			result.ID = alert.ID
		}
		if res.Candidate != nil {
			result.CandidateID = res.Candidate.ID
		}
		resp.Results = append(resp.Results, result)
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// decodeAlerts разбирает объект или массив алертов
func decodeAlerts(raw []byte) ([]models.Alert, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var alerts []models.Alert
		if err := json.Unmarshal(raw, &alerts); err != nil {
			return nil, err
		}
		return alerts, nil
	}
	var alert models.Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return nil, err
	}
	return []models.Alert{alert}, nil
}
