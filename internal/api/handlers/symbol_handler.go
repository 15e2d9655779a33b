package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"confluencebot/internal/models"
	"confluencebot/internal/service"
)

// SymbolHandler - реестр символов: категория для лимитов и исключение из торговли
//
// Endpoints:
// - GET /api/v1/symbols
// - PUT /api/v1/symbols/{symbol}
// - DELETE /api/v1/symbols/{symbol}
type SymbolHandler struct {
	symbols service.SymbolServiceInterface
}

// NewSymbolHandler создает новый SymbolHandler
func NewSymbolHandler(symbols service.SymbolServiceInterface) *SymbolHandler {
	return &SymbolHandler{symbols: symbols}
}

// SymbolsResponse - содержимое реестра
type SymbolsResponse struct {
	Symbols []*models.SymbolEntry `json:"symbols"`
	Total   int                   `json:"total"`
}

// UpsertSymbolBody - тело PUT /symbols/{symbol}
type UpsertSymbolBody struct {
	Category string `json:"category"`
	Excluded bool   `json:"excluded"`
	Reason   string `json:"reason"`
}

// GetSymbols возвращает реестр
// GET /api/v1/symbols
func (h *SymbolHandler) GetSymbols(w http.ResponseWriter, r *http.Request) {
	entries, err := h.symbols.List(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to list symbols", err.Error())
		return
	}
	if entries == nil {
		entries = []*models.SymbolEntry{}
	}
	respondWithJSON(w, http.StatusOK, SymbolsResponse{Symbols: entries, Total: len(entries)})
}

// UpsertSymbol создает или меняет запись реестра
//
// PUT /api/v1/symbols/{symbol}
//
// Тело: {"category": "major", "excluded": true, "reason": "delisting"}
// Изменение сразу применяется к риск-гейту.
func (h *SymbolHandler) UpsertSymbol(w http.ResponseWriter, r *http.Request) {
	var body UpsertSymbolBody
	if err := decodeBody(w, r, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	entry, err := h.symbols.Upsert(r.Context(), service.UpsertSymbolRequest{
		Symbol:   mux.Vars(r)["symbol"],
		Category: body.Category,
		Excluded: body.Excluded,
		Reason:   body.Reason,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// RemoveSymbol удаляет запись; категория возвращается к значению из конфига
// DELETE /api/v1/symbols/{symbol}
func (h *SymbolHandler) RemoveSymbol(w http.ResponseWriter, r *http.Request) {
	if err := h.symbols.Remove(r.Context(), mux.Vars(r)["symbol"]); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SymbolHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSymbolEmpty):
		respondWithError(w, http.StatusBadRequest, "invalid_symbol", "Symbol is required", "")
	case errors.Is(err, service.ErrSymbolNotFound):
		respondWithError(w, http.StatusNotFound, "symbol_not_found", "Symbol not found", "")
	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
