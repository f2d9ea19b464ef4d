package api

import (
	"context"
)

type contextKey string

const sessionContextKey contextKey = "admin_session"

// SessionFromContext extracts the admin session from context
func SessionFromContext(ctx context.Context) *adminSession {
	session, ok := ctx.Value(sessionContextKey).(*adminSession)
	if !ok {
		return nil
	}
	return session
}

// ContextWithSession adds the admin session to context
func ContextWithSession(ctx context.Context, session *adminSession) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
