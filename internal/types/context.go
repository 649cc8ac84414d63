package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	producerKey  contextKey = "producer"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithProducer records the name of the authenticated event producer.
func WithProducer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, producerKey, name)
}

// GetProducer returns the authenticated producer name, or "" when the
// request was not authenticated.
func GetProducer(ctx context.Context) string {
	name, _ := ctx.Value(producerKey).(string)
	return name
}
