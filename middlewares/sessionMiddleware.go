package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/appctx"
	"github.com/mmdatafocus/books_reconcile/models"
)

const sessionKey = "session"

// SessionMiddleware reads the caller's backend session from the `token` and `x-business-id`
// headers. The token is passed through to the backend untouched.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("token"))
		businessId := strings.TrimSpace(c.GetHeader("x-business-id"))
		if token == "" || businessId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token and x-business-id headers are required"})
			return
		}
		userId, _ := strconv.Atoi(c.GetHeader("x-user-id"))

		session := models.Session{BusinessId: businessId, Token: token, UserId: userId}
		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyToken, token)
		ctx = appctx.Set(ctx, appctx.ContextKeyBusinessId, businessId)
		ctx = appctx.Set(ctx, appctx.ContextKeyUserId, userId)
		c.Request = c.Request.WithContext(ctx)
		c.Set(sessionKey, session)
		c.Next()
	}
}

// GetSession returns the session stored by SessionMiddleware.
func GetSession(c *gin.Context) (models.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return models.Session{}, false
	}
	session, ok := v.(models.Session)
	return session, ok
}
