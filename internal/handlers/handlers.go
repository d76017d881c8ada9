package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailwatch-go/internal/models"
	"mailwatch-go/internal/scheduler"
	"mailwatch-go/internal/spam"
	"mailwatch-go/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	store     store.Store
	scheduler *scheduler.Scheduler
	blacklist *spam.Blacklist
	secret    string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, st store.Store, sched *scheduler.Scheduler, blacklist *spam.Blacklist, secret string) *Handlers {
	return &Handlers{
		db:        db,
		store:     st,
		scheduler: sched,
		blacklist: blacklist,
		secret:    secret,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(RequireTriggerSecret(h.secret))
	{
		// Trigger surface: the cron webhook and the manual/admin path
		// share these entry points.
		api.POST("/ingest/run", h.RunAll)
		api.POST("/ingest/run/:tenant_id", h.RunTenant)
		api.POST("/notifications/retry", h.RetryNotifications)

		api.GET("/status", h.GetStatus)
		api.GET("/messages", h.GetMessages)
		api.GET("/attempts", h.GetAttempts)

		api.GET("/blacklist", h.GetBlacklist)
		api.POST("/blacklist", h.AddBlacklistEntry)
		api.DELETE("/blacklist/:domain", h.RemoveBlacklistEntry)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// RunAll triggers an ingestion pass across all eligible tenants. The
// response is always a structured summary with HTTP success status;
// individual tenant failures are reported inside it, never as an HTTP
// error.
func (h *Handlers) RunAll(c *gin.Context) {
	summary, err := h.scheduler.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
	})
}

// RunTenant triggers an ingestion pass for a single tenant
func (h *Handlers) RunTenant(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	result := h.scheduler.RunTenant(c.Request.Context(), tenantID)
	c.JSON(http.StatusOK, result)
}

// RetryNotifications triggers the pending-notification retry sweep
func (h *Handlers) RetryNotifications(c *gin.Context) {
	if err := h.scheduler.RetrySweeper().RetryPending(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "dispatch_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Retry sweep completed"})
}

// GetStatus returns the operational status consumed by the dashboard
func (h *Handlers) GetStatus(c *gin.Context) {
	lastChecked := make(map[string]*time.Time)
	mailboxes, err := h.store.ListEnabledMailboxes()
	if err != nil {
		logrus.Errorf("Failed to list mailboxes for status: %v", err)
	} else {
		for _, mb := range mailboxes {
			lastChecked[mb.TenantID] = mb.LastCheckedAt
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"is_running":                 h.scheduler.IsRunning(),
		"last_run":                   h.scheduler.GetLastRun(),
		"next_run":                   h.scheduler.GetNextRun(),
		"last_summary":               h.scheduler.LastSummary(),
		"last_check_time_per_tenant": lastChecked,
	})
}

// GetMessages returns ingested messages with pagination
func (h *Handlers) GetMessages(c *gin.Context) {
	page, limit := pagination(c)
	messages, total, err := h.store.ListMessages(c.Query("tenant_id"), (page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch messages",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetAttempts returns notification attempts with pagination
func (h *Handlers) GetAttempts(c *gin.Context) {
	page, limit := pagination(c)
	attempts, total, err := h.store.ListAttempts(c.Query("tenant_id"), (page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch attempts",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetBlacklist returns the current spam blacklist entries
func (h *Handlers) GetBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"domains": h.blacklist.Entries()})
}

// AddBlacklistEntry adds a domain to the spam blacklist
func (h *Handlers) AddBlacklistEntry(c *gin.Context) {
	var req struct {
		Domain string `json:"domain" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	h.blacklist.Add(req.Domain)
	c.JSON(http.StatusCreated, gin.H{"domains": h.blacklist.Entries()})
}

// RemoveBlacklistEntry removes a domain from the spam blacklist
func (h *Handlers) RemoveBlacklistEntry(c *gin.Context) {
	h.blacklist.Remove(c.Param("domain"))
	c.Status(http.StatusNoContent)
}

// StartScheduler starts the ingestion scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the ingestion scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// pagination parses page/limit query parameters with sane bounds
func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit
}
