package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func triggerRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/trigger", RequireTriggerSecret(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRequireTriggerSecretAccepts(t *testing.T) {
	router := triggerRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set(TriggerSecretHeader, "s3cret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireTriggerSecretRejectsMismatch(t *testing.T) {
	router := triggerRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set(TriggerSecretHeader, "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestRequireTriggerSecretRejectsMissingHeader(t *testing.T) {
	router := triggerRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireTriggerSecretUnconfigured(t *testing.T) {
	router := triggerRouter("")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set(TriggerSecretHeader, "anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// A missing server-side secret is a server problem, not a client one.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "misconfigured")
}
