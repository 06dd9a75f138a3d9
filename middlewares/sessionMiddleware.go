package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/utils"
	"github.com/sirupsen/logrus"
)

// SessionResolver maps a session token to its owner id.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, bool, error)
}

// SessionMiddleware reads the session token from the cookie, or from the
// "token" header legacy clients send, and puts the token and owner id in the
// request context. Unknown or expired tokens leave the request anonymous.
func SessionMiddleware(resolver SessionResolver, cfg config.SessionConfig) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		cookieToken, _ := c.Cookie(cfg.CookieName)
		token := utils.FirstNonEmpty(cookieToken, c.Request.Header.Get("token"))
		if token == "" {
			c.Next()
			return
		}
		ownerId, exists, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "SessionMiddleware",
				"path":  c.Request.URL.Path,
			}).Warn("resolving session: " + err.Error())
			c.Next()
			return
		}
		if !exists {
			c.Next()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetOwnerIdInContext(ctx, ownerId)
		c.Request = c.Request.WithContext(ctx)
		if cookieToken != "" {
			// rolling expiry
			SetSessionCookie(c, cfg, token)
		}
		c.Next()
	}
}

func SetSessionCookie(c *gin.Context, cfg config.SessionConfig, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, token, int(cfg.IdleTimeout.Seconds()), "/", "", cfg.Secure, true)
}

func ClearSessionCookie(c *gin.Context, cfg config.SessionConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, "", -1, "/", "", cfg.Secure, true)
}
