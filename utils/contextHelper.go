package utils

import (
	"context"

	"github.com/mmdatafocus/bills_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyOwnerId       = appctx.ContextKeyOwnerId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetOwnerIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyOwnerId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetOwnerIdInContext(ctx context.Context, ownerId string) context.Context {
	return appctx.Set(ctx, ContextKeyOwnerId, ownerId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// WithoutOwnerScope lets maintenance code touch every owner's rows.
func WithoutOwnerScope(ctx context.Context) context.Context {
	return appctx.Set(ctx, appctx.ContextKeySkipOwnerScope, true)
}
