package core

import "context"

type contextKey string

const ctxKeyClient contextKey = "import_client"

// Client identifies the caller that started an import. It is logged with the
// import; both fields may be empty for CLI and background imports.
type Client struct {
	IP        string
	UserAgent string
}

// ContextWithClient attaches the caller to ctx.
func ContextWithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, ctxKeyClient, c)
}

// ClientFromContext returns the caller attached by ContextWithClient.
func ClientFromContext(ctx context.Context) Client {
	if c, ok := ctx.Value(ctxKeyClient).(Client); ok {
		return c
	}
	return Client{}
}
