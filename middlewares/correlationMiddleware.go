package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/bills_backend/utils"
	"github.com/sirupsen/logrus"
)

const CorrelationIdHeader = "x-correlation-id"

// CorrelationMiddleware generates a correlation id once per request (or
// keeps the caller's) and attaches it to the context and the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIdHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(CorrelationIdHeader, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// ErrorLogger logs only requests that recorded gin errors.
func ErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithField("correlation_id", cid).Error(c.Errors.String())
		}
	}
}
