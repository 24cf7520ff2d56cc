package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// Toucher records that a user was just active.
type Toucher interface {
	TouchLastActive(ctx context.Context, userID uuid.UUID) error
}

// Activity refreshes the user's last-active timestamp on every authenticated
// request. Must sit inside Auth in the middleware chain.
func Activity(toucher Toucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if err := toucher.TouchLastActive(r.Context(), userID); err != nil {
				log.Printf("activity: touch %s: %v", userID, err)
			}
			next.ServeHTTP(w, r)
		})
	}
}
