package handlers

import (
	"net/http"

	"confluencebot/internal/service"
)

// StatsHandler - сводка по закрытым сделкам
//
// Endpoints:
// - GET /api/v1/stats - сегодня, 7 и 30 дней, состояние гейта, последние сделки
type StatsHandler struct {
	statsService service.StatsServiceInterface
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(statsService service.StatsServiceInterface) *StatsHandler {
	return &StatsHandler{statsService: statsService}
}

// GetStats возвращает сводку
// GET /api/v1/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsService.GetStats(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to get stats", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
