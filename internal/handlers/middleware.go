package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailwatch-go/internal/models"
)

// TriggerSecretHeader carries the shared secret on trigger requests.
const TriggerSecretHeader = "X-Trigger-Secret"

// RequireTriggerSecret authenticates trigger requests with a shared
// secret header. A missing server-side secret is a misconfiguration
// (500), not a client error; a mismatch is 401.
func RequireTriggerSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			logrus.Error("Trigger secret is not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "misconfigured",
				Message: "Trigger secret is not configured",
				Code:    http.StatusInternalServerError,
			})
			return
		}

		provided := c.GetHeader(TriggerSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or missing trigger secret",
				Code:    http.StatusUnauthorized,
			})
			return
		}

		c.Next()
	}
}
