package audit

import (
	"context"
	"time"
)

type ctxKey int

const clientCtxKey ctxKey = 1

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientCtxKey, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	v := ctx.Value(clientCtxKey)
	c, _ := v.(*Client)
	return c
}

// EmitBestEffortCtx sends one audit event with a short detached timeout.
// Errors are discarded; auditing never fails the caller.
func EmitBestEffortCtx(ctx context.Context, action, level string, details map[string]any) {
	c := ClientFromContext(ctx)
	if c == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.CreateEvent(ctx2, CreateEventRequest{
		Agent:    c.agentName(),
		Action:   action,
		Level:    level,
		Details:  details,
		Wallet:   "",
		Metadata: map[string]any{},
	})
}
