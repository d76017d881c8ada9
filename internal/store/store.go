package store

import (
	"errors"
	"time"

	"mailwatch-go/internal/models"
)

// ErrDuplicate is returned by CreateMessage when the dedupe key already
// exists. Callers treat it as already-known, not as a failure.
var ErrDuplicate = errors.New("duplicate message")

// Store is the persistence boundary shared by the ingestion engine, the
// notification dispatcher and the scheduler.
type Store interface {
	// Mailboxes and checkpoints.
	GetMailbox(tenantID string) (*models.TenantMailbox, error)
	ListEnabledMailboxes() ([]models.TenantMailbox, error)
	// AdvanceCheckpoint moves the tenant's checkpoint to uid. The
	// checkpoint never moves backward; a stale uid is a no-op.
	AdvanceCheckpoint(tenantID string, uid uint32, checkedAt time.Time) error
	TouchLastChecked(tenantID string, checkedAt time.Time) error
	MarkAuthFailed(tenantID string) error

	// Ingested messages.
	FindMessage(tenantID, dedupeKey, messageID string) (*models.IngestedMessage, error)
	GetMessage(id uint) (*models.IngestedMessage, error)
	CreateMessage(msg *models.IngestedMessage) error
	SetMessageNotifySkipped(id uint, reason string) error
	ListMessages(tenantID string, offset, limit int) ([]models.IngestedMessage, int64, error)

	// Notification targets and attempts.
	ListTargets(tenantID string) ([]models.NotificationTarget, error)
	CreateAttempt(attempt *models.NotificationAttempt) error
	UpdateAttempt(attempt *models.NotificationAttempt) error
	ListDueAttempts(now time.Time, limit int) ([]models.NotificationAttempt, error)
	ListAttempts(tenantID string, offset, limit int) ([]models.NotificationAttempt, int64, error)
}
