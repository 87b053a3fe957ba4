package audit

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

func InjectClientMiddleware(c *Client) gin.HandlerFunc {
	return func(gc *gin.Context) {
		if c != nil && gc.Request != nil {
			gc.Request = gc.Request.WithContext(WithClient(gc.Request.Context(), c))
		}
		gc.Next()
	}
}

func ClientFromGin(gc *gin.Context) *Client {
	if gc == nil {
		return nil
	}
	if gc.Request == nil {
		return nil
	}
	return ClientFromContext(gc.Request.Context())
}

// EmitBestEffort sends one audit event for a handler, detached from the
// request context so a slow audit backend cannot hold the response.
func EmitBestEffort(gc *gin.Context, action, level string, details map[string]any) {
	c := ClientFromGin(gc)
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.CreateEvent(ctx, CreateEventRequest{
		Agent:    c.agentName(),
		Action:   action,
		Level:    level,
		Details:  details,
		Wallet:   "",
		Metadata: map[string]any{},
	})
}
