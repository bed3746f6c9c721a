package tenancy

import "context"

type ctxKey string

const callerKey ctxKey = "voxlane.caller_id"

// WithCallerID stores the authenticated caller id in context.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey, callerID)
}

// CallerIDFromContext extracts the caller id if present.
func CallerIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(callerKey)
	if val == nil {
		return "", false
	}
	callerID, ok := val.(string)
	return callerID, ok && callerID != ""
}
