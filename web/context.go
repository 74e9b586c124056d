package web

import "context"

type ctxKey string

const userIDKey ctxKey = "user_id"

// contextWithUserID stores the authenticated user ID in the context.
func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userIDFromContext retrieves the user ID placed by requireUser.
func userIDFromContext(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
