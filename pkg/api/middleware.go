package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/grasshopper/pkg/api/store"
	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	runContextKey  contextKey = "testrun"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAuth validates the bearer token and injects the user into the
// request context.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		token := strings.TrimSpace(authHeader[len("Bearer "):])

		session, err := s.store.GetSessionByToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid or expired token"})

			return
		}

		if s.now().UTC().After(session.ExpiresAt) {
			_ = s.store.DeleteSession(r.Context(), token)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"token expired"})

			return
		}

		user, err := s.store.GetUserByID(r.Context(), session.UserID)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"user not found"})

			return
		}

		// Throttle LastActiveAt updates to every 5 minutes.
		if session.LastActiveAt == nil ||
			time.Since(*session.LastActiveAt) > 5*time.Minute {
			s.wg.Add(1)

			go func() {
				defer s.wg.Done()

				if err := s.store.UpdateSessionLastActive(
					context.Background(), session.ID, time.Now().UTC(),
				); err != nil {
					s.log.WithError(err).
						Warn("Failed to update session last active")
				}
			}()
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRunOwner loads the {id} test run and rejects callers that do not
// own it.
func (s *server) requireRunOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if user == nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		run, err := s.store.GetTestRun(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"test run not found"})

			return
		}

		if err != nil {
			s.log.WithError(err).Error("Failed to load test run")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		if run.UserID != user.ID {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"test run belongs to another user"})

			return
		}

		ctx := context.WithValue(r.Context(), runContextKey, run)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)

	return user
}

// runFromContext extracts the owned test run from the request context.
func runFromContext(ctx context.Context) *store.TestRun {
	run, _ := ctx.Value(runContextKey).(*store.TestRun)

	return run
}
