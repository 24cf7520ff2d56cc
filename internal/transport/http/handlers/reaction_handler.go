package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/service"
	"github.com/velickovic/clubchat/internal/transport/http/middleware"
	"github.com/velickovic/clubchat/pkg/validator"
)

type ReactionHandler struct {
	reactionService *service.ReactionService
}

func NewReactionHandler(reactionService *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactionService: reactionService}
}

type toggleReactionInput struct {
	Emoji string `json:"emoji"`
}

func (h *ReactionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	var input toggleReactionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateEmoji(input.Emoji); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	added, err := h.reactionService.Toggle(r.Context(), userID, messageID, input.Emoji)
	if err != nil {
		writeReactionError(w, "toggle reaction", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (h *ReactionHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	if err := h.reactionService.MarkRead(r.Context(), userID, messageID); err != nil {
		writeReactionError(w, "mark read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeReactionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrNotMember):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this conversation")
	default:
		log.Printf("ERROR %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
