package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"confluencebot/internal/bot"
	"confluencebot/internal/models"
	"confluencebot/internal/service"
)

// ControlHandler - операторское управление риск-гейтом и позициями
//
// Endpoints:
// - GET /api/v1/risk - снимок гейта
// - POST /api/v1/risk/halt - ручная остановка {reason}
// - POST /api/v1/risk/resume - возобновление
// - GET /api/v1/positions - живые позиции
// - POST /api/v1/positions/{symbol}/close - закрыть позицию по рынку
type ControlHandler struct {
	control service.ControlServiceInterface
}

// NewControlHandler создает новый ControlHandler
func NewControlHandler(control service.ControlServiceInterface) *ControlHandler {
	return &ControlHandler{control: control}
}

// HaltRequest - тело POST /risk/halt
type HaltRequest struct {
	Reason string `json:"reason"`
}

// PositionsResponse - список живых позиций
type PositionsResponse struct {
	Positions []*models.Position `json:"positions"`
	Total     int                `json:"total"`
}

// GetRisk возвращает снимок дневных счетчиков и экспозиции
// GET /api/v1/risk
func (h *ControlHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.control.RiskState())
}

// Halt останавливает одобрение новых сделок
//
// POST /api/v1/risk/halt
//
// Тело необязательно; без причины сохраняется "manual".
//
// HTTP коды:
// - 200 OK: торговля остановлена, в ответе новый снимок
// - 400 Bad Request: невалидный JSON
// - 409 Conflict: торговля уже остановлена
func (h *ControlHandler) Halt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if _, err := h.control.Halt(req.Reason); err != nil {
		if errors.Is(err, service.ErrAlreadyHalted) {
			respondWithError(w, http.StatusConflict, "already_halted", "Trading is already halted", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to halt trading", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, h.control.RiskState())
}

// Resume снимает остановку
//
// POST /api/v1/risk/resume
//
// HTTP коды:
// - 200 OK: торговля возобновлена
// - 409 Conflict: торговля не была остановлена
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.control.Resume() {
		respondWithError(w, http.StatusConflict, "not_halted", "Trading is not halted", "")
		return
	}
	respondWithJSON(w, http.StatusOK, h.control.RiskState())
}

// GetPositions возвращает живые позиции
// GET /api/v1/positions
func (h *ControlHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.control.Positions()
	respondWithJSON(w, http.StatusOK, PositionsResponse{Positions: positions, Total: len(positions)})
}

// ClosePosition закрывает позицию символа по рынку
//
// POST /api/v1/positions/{symbol}/close
//
// HTTP коды:
// - 200 OK: позиция закрыта
// - 400 Bad Request: пустой символ
// - 404 Not Found: по символу нет живой позиции
// - 503 Service Unavailable: движок не запущен
// - 502 Bad Gateway: биржа отклонила выход
func (h *ControlHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	err := h.control.ClosePosition(r.Context(), symbol)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Position closed"})
	case errors.Is(err, service.ErrSymbolEmpty):
		respondWithError(w, http.StatusBadRequest, "invalid_symbol", "Symbol is required", "")
	case errors.Is(err, service.ErrNoOpenPosition):
		respondWithError(w, http.StatusNotFound, "position_not_found", "No open position for symbol", "")
	case errors.Is(err, bot.ErrEngineNotStarted), errors.Is(err, bot.ErrEngineStopped):
		respondWithError(w, http.StatusServiceUnavailable, "engine_unavailable", "Engine is not running", err.Error())
	default:
		respondWithError(w, http.StatusBadGateway, "close_failed", "Failed to close position", err.Error())
	}
}
