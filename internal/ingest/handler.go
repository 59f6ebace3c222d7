package ingest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes is the default HTTP body limit (5 MiB) per the
// MAX_BODY_BYTES environment option.
const DefaultMaxBodyBytes = 5 * 1024 * 1024

// RegisterRoutes mounts POST /events on the given router group.
func RegisterRoutes(r gin.IRouter, svc *Service, maxBodyBytes int64) {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	r.POST("/events", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body exceeds size limit"})
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")
		status, resp := svc.Ingest(c.Request.Context(), body, idempotencyKey)
		c.JSON(status, resp)
	})
}
