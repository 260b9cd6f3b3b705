package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/appctx"
	"github.com/sirupsen/logrus"
)

// ErrorLogger logs only requests that recorded errors on the gin context.
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": appctx.CorrelationId(c.Request.Context()),
			}).Error(c.Errors.String())
		}
	}
}
