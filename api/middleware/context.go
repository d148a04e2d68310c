package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

type actorKey struct{}

// WithActor seeds the context the way Auth does.
func WithActor(ctx context.Context, userID uuid.UUID, role enums.ActorRole) context.Context {
	return context.WithValue(ctx, actorKey{}, orders.Actor{UserID: userID, Role: role})
}

// ActorFromContext returns the authenticated caller. ok is false when the
// request did not pass through Auth.
func ActorFromContext(ctx context.Context) (orders.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(orders.Actor)
	if !ok || actor.UserID == uuid.Nil || !actor.Role.IsValid() {
		return orders.Actor{}, false
	}
	return actor, true
}

// UserIDFromContext is the caller's id as a string, or "" for anonymous
// requests.
func UserIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.UserID.String()
	}
	return ""
}
