package handlers

import (
	"context"
	"net/http"
	"time"

	"marketplace-settlement/http/response"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports whether the database answers.
// GET /health
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			response.SendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
			return
		}
		response.SendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
