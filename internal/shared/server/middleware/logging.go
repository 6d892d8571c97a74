package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"label-decoder/internal/shared/telemetry"
)

// Context keys handlers set so the request log can carry pipeline details.
const (
	ImageIDKey       = "imageId"
	PipelineStateKey = "pipelineState"
)

// Logging emits one structured line per request once the handler returns.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"bytes_out":   c.Writer.Size(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
		}
		if id := c.GetString(ImageIDKey); id != "" {
			fields["image_id"] = id
		}
		if state := c.GetString(PipelineStateKey); state != "" {
			fields["pipeline_state"] = state
		}
		telemetry.Info("request.complete", fields)
	}
}
