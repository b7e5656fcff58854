package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/core/auth"
	"labelpanel/logger"
	"labelpanel/model"
)

type actorKey struct{}

// AuthMiddleware verifies the session token (cookie or Bearer header) and
// stores the caller as a model.Actor in the request context.
func (h *APIHandler) AuthMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.Authenticate(r)
			if err != nil {
				logger.Debug("authentication failed",
					logger.String("path", r.URL.Path),
					logger.ErrorField(err))
				h.writeError(w, r, apperr.Unauthorized())
				return
			}

			actor := model.Actor{ID: id.ID, Name: id.Name, Role: id.Role, IP: clientIP(r)}
			ctx := auth.WithIdentity(r.Context(), id)
			ctx = context.WithValue(ctx, actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the caller stored by AuthMiddleware.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(model.Actor)
	return actor, ok
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
