package middleware

import (
	"net/http"

	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionRateLimit bounds requests per session. Limiter failures let the
// request through.
func SessionRateLimit(limiter ratelimit.Limiter, errs *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), sessionID)
			if err != nil {
				logger.Warn("Rate limiter unavailable", zap.String("sessionID", sessionID), zap.Error(err))
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				errs.Handle(w, r, pkgerrors.NewUnavailableError("ingestion").
					WithCode("RATE_LIMITED").
					WithDetail("sessionId", sessionID).
					WithSuggestedAction("slow down and retry after the indicated delay").
					WithStatus(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
