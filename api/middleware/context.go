package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/pkg/enums"
)

type contextKey string

const (
	ctxUserID     contextKey = "user_id"
	ctxRole       contextKey = "actor_role"
	ctxBusinessID contextKey = "business_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func BusinessIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxBusinessID).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the authenticated actor. ok is false when the
// request carried no valid identity.
func ActorFromContext(ctx context.Context) (lifecycle.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return lifecycle.Actor{}, false
	}
	role, err := enums.ParseActorRole(RoleFromContext(ctx))
	if err != nil || role == enums.ActorRoleSystem {
		return lifecycle.Actor{}, false
	}
	actor := lifecycle.Actor{Role: role, UserID: &userID}
	if raw := BusinessIDFromContext(ctx); raw != "" {
		if businessID, err := uuid.Parse(raw); err == nil {
			actor.BusinessID = &businessID
		}
	}
	return actor, true
}

// WithActor injects identity values into the context.
func WithActor(ctx context.Context, actor lifecycle.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if actor.UserID != nil {
		ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	}
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	if actor.BusinessID != nil {
		ctx = context.WithValue(ctx, ctxBusinessID, actor.BusinessID.String())
	}
	return ctx
}
