package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/books_reconcile/appctx"
)

// CorrelationMiddleware attaches one correlation id per request, reusing the caller's
// x-correlation-id when present. The backend client forwards it on every call.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(appctx.WithCorrelationId(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	}
}
