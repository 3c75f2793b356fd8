package handlers

import (
	"context"
	"net/http"

	"statarb/internal/models"
)

// DeadLetterReader - чтение dead letter записей (repository.DeadLetterRepository)
type DeadLetterReader interface {
	GetRecent(ctx context.Context, limit int) ([]*models.DeadLetter, error)
}

// DeadLetterHandler отдает запросы к брокеру, исчерпавшие попытки.
// Доступен только при DEAD_LETTER_SINK=db.
//
// GET /api/v1/dead-letters?limit=50
type DeadLetterHandler struct {
	deadLetters DeadLetterReader
}

// NewDeadLetterHandler создает DeadLetterHandler
func NewDeadLetterHandler(deadLetters DeadLetterReader) *DeadLetterHandler {
	return &DeadLetterHandler{deadLetters: deadLetters}
}

// GetDeadLettersResponse - ответ списка dead letter
type GetDeadLettersResponse struct {
	DeadLetters []*models.DeadLetter `json:"dead_letters"`
	Total       int                  `json:"total"`
}

// GetDeadLetters возвращает последние записи, новые первыми
func (h *DeadLetterHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := h.deadLetters.GetRecent(r.Context(), parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get dead letters: "+err.Error())
		return
	}
	if items == nil {
		items = []*models.DeadLetter{}
	}

	respondWithJSON(w, http.StatusOK, GetDeadLettersResponse{DeadLetters: items, Total: len(items)})
}
