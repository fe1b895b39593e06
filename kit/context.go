package kit

import "context"

// Transport names recorded on the request context.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
	pageIDKey
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to TransportHTTP for contexts built outside kit.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithPageID scopes a command to one attached page.
func WithPageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pageIDKey, id)
}

func GetPageID(ctx context.Context) string {
	v, _ := ctx.Value(pageIDKey).(string)
	return v
}
