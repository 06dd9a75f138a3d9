package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/utils"
)

// RequireSession rejects requests that SessionMiddleware left anonymous.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ownerId, ok := utils.GetOwnerIdFromContext(c.Request.Context()); !ok || ownerId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		c.Next()
	}
}

// OwnerId returns the session owner placed in the request context.
func OwnerId(c *gin.Context) string {
	ownerId, _ := utils.GetOwnerIdFromContext(c.Request.Context())
	return ownerId
}

// Token returns the session token placed in the request context.
func Token(c *gin.Context) string {
	token, _ := utils.GetTokenFromContext(c.Request.Context())
	return token
}
