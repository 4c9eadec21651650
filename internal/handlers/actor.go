package handlers

import (
	"net/http"
	"strings"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/httpx"
	"github.com/yomnaalset/bookstore/internal/platform/requestctx"
)

// Headers set by the authenticating gateway in front of this service.
const (
	actorIDHeader        = "X-Actor-ID"
	actorRoleHeader      = "X-Actor-Role"
	actorSignatureHeader = "X-Actor-Signature"
	actorTimestampHeader = "X-Actor-Timestamp"
)

// ActorSignatureVerifier checks the gateway signature over the actor headers.
type ActorSignatureVerifier interface {
	Verify(id, role, timestamp, signature string) error
}

// ActorMiddleware stores the caller identity asserted by the gateway without checking a signature.
// Requests without a role pass through anonymous; handlers that need a role reject them.
func ActorMiddleware(next http.Handler) http.Handler {
	return actorMiddleware(nil)(next)
}

// NewActorMiddleware is ActorMiddleware that also requires a valid X-Actor-Signature whenever a
// role is asserted.
func NewActorMiddleware(verifier ActorSignatureVerifier) func(http.Handler) http.Handler {
	return actorMiddleware(verifier)
}

func actorMiddleware(verifier ActorSignatureVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawRole := strings.TrimSpace(r.Header.Get(actorRoleHeader))
			if rawRole == "" {
				next.ServeHTTP(w, r)
				return
			}
			id := strings.TrimSpace(r.Header.Get(actorIDHeader))
			if verifier != nil {
				err := verifier.Verify(id, rawRole, r.Header.Get(actorTimestampHeader), r.Header.Get(actorSignatureHeader))
				if err != nil {
					httpx.WriteError(r.Context(), w, httpx.NewError("invalid_actor_signature", "actor headers are not signed by the gateway", http.StatusUnauthorized).
						WithMessageKey("auth.invalid_actor_signature"))
					return
				}
			}
			role, err := domain.ParseRole(rawRole)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_actor", err.Error(), http.StatusBadRequest))
				return
			}
			actor := requestctx.Actor{ID: id, Role: role}
			next.ServeHTTP(w, r.WithContext(requestctx.WithActor(r.Context(), actor)))
		})
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (requestctx.Actor, bool) {
	actor, ok := requestctx.ActorFromContext(r.Context())
	if !ok || actor.Role == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "actor role is required", http.StatusUnauthorized).
			WithMessageKey("auth.actor_required"))
		return requestctx.Actor{}, false
	}
	return actor, true
}
