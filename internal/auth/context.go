package auth

import (
	"context"

	"github.com/google/uuid"
)

type actorIDKey struct{}

func ContextWithActorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorIDKey{}, id)
}

func ActorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorIDKey{}).(uuid.UUID)
	return id, ok
}
