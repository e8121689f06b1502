// Shared context keys for the API layer. Extracted to a leaf package to
// avoid import cycles between api and api/handlers.
package ctxkeys

import "context"

// Key is the unexported named type for all API context keys. A named type
// keeps context.Value lookups from colliding with string keys elsewhere.
type Key string

const (
	// ClientID is the context key for the authenticated API client.
	// Injected by AuthMiddleware from JWT claims.
	ClientID Key = "client_id"

	// RequestID is the context key for the per-request identifier.
	RequestID Key = "request_id"
)

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// Value reads a ctxkeys.Key string from the context, empty when absent.
func Value(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
