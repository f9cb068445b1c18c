package userctx

import (
	"context"

	"github.com/nkiryanov/gophauth/internal/models"
)

type ctxKey string

const authKey ctxKey = "auth"

// Create a new context with verified access token claims
func New(ctx context.Context, ac models.AuthContext) context.Context {
	return context.WithValue(ctx, authKey, ac)
}

// Extract verified claims from the context
func FromContext(ctx context.Context) (models.AuthContext, bool) {
	ac, ok := ctx.Value(authKey).(models.AuthContext)
	return ac, ok
}
