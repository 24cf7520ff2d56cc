package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/repository"
	"github.com/velickovic/clubchat/internal/service"
)

type UserHandler struct {
	userRepo repository.UserRepository
	presence service.Presence
}

func NewUserHandler(userRepo repository.UserRepository, presence service.Presence) *UserHandler {
	return &UserHandler{userRepo: userRepo, presence: presence}
}

type userProfileResponse struct {
	User       *domain.User `json:"user"`
	LastActive *time.Time   `json:"last_active,omitempty"`
	Activity   string       `json:"activity"`
}

// Lookup resolves a username to a profile, decorated with presence. Used to
// start direct conversations.
func (h *UserHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USERNAME", "username query parameter is required")
		return
	}

	user, err := h.userRepo.GetByUsername(r.Context(), username)
	if err != nil {
		log.Printf("ERROR lookup user: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		return
	}

	lastActive, err := h.presence.LastActive(r.Context(), user.ID)
	if err != nil {
		log.Printf("ERROR lookup presence: %v", err)
	}
	_, activity := domain.Activity(lastActive, time.Now())

	writeJSON(w, http.StatusOK, userProfileResponse{
		User:       user,
		LastActive: lastActive,
		Activity:   activity,
	})
}
