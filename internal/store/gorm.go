package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mailwatch-go/internal/models"
)

// GormStore implements Store on top of a gorm database connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new gorm-backed store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetMailbox returns the tenant's mailbox configuration, or nil when
// the tenant has no mailbox configured.
func (s *GormStore) GetMailbox(tenantID string) (*models.TenantMailbox, error) {
	var mailbox models.TenantMailbox
	result := s.db.Where("tenant_id = ?", tenantID).First(&mailbox)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mailbox for tenant %s: %w", tenantID, result.Error)
	}
	return &mailbox, nil
}

// ListEnabledMailboxes returns all mailboxes eligible for polling.
// Mailboxes flagged with an authentication failure are excluded until
// an operator fixes the configuration.
func (s *GormStore) ListEnabledMailboxes() ([]models.TenantMailbox, error) {
	var mailboxes []models.TenantMailbox
	result := s.db.Where("enabled = ? AND auth_failed = ?", true, false).Find(&mailboxes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list enabled mailboxes: %w", result.Error)
	}
	return mailboxes, nil
}

// AdvanceCheckpoint moves the checkpoint forward to uid. The guard on
// last_uid keeps the checkpoint monotonic even if two writers race.
func (s *GormStore) AdvanceCheckpoint(tenantID string, uid uint32, checkedAt time.Time) error {
	result := s.db.Model(&models.TenantMailbox{}).
		Where("tenant_id = ? AND last_uid < ?", tenantID, uid).
		Updates(map[string]interface{}{"last_uid": uid, "last_checked_at": checkedAt})
	if result.Error != nil {
		return fmt.Errorf("failed to advance checkpoint for tenant %s: %w", tenantID, result.Error)
	}
	return nil
}

// TouchLastChecked records a completed poll that found nothing new.
func (s *GormStore) TouchLastChecked(tenantID string, checkedAt time.Time) error {
	result := s.db.Model(&models.TenantMailbox{}).
		Where("tenant_id = ?", tenantID).
		Update("last_checked_at", checkedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to update last checked time for tenant %s: %w", tenantID, result.Error)
	}
	return nil
}

// MarkAuthFailed flags the mailbox so the scheduler stops retrying it
// until the tenant updates credentials.
func (s *GormStore) MarkAuthFailed(tenantID string) error {
	result := s.db.Model(&models.TenantMailbox{}).
		Where("tenant_id = ?", tenantID).
		Update("auth_failed", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark auth failure for tenant %s: %w", tenantID, result.Error)
	}
	return nil
}

// FindMessage looks a message up by either of its identities: the
// dedupe key, or the normalized Message-ID within the tenant. The
// second path catches servers that renumber UIDs across sessions.
func (s *GormStore) FindMessage(tenantID, dedupeKey, messageID string) (*models.IngestedMessage, error) {
	var msg models.IngestedMessage
	query := s.db.Where("dedupe_key = ?", dedupeKey)
	if messageID != "" {
		query = s.db.Where("dedupe_key = ? OR (tenant_id = ? AND message_id = ?)", dedupeKey, tenantID, messageID)
	}
	result := query.First(&msg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up message: %w", result.Error)
	}
	return &msg, nil
}

// GetMessage returns a message by primary key, or nil when absent.
func (s *GormStore) GetMessage(id uint) (*models.IngestedMessage, error) {
	var msg models.IngestedMessage
	result := s.db.First(&msg, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %d: %w", id, result.Error)
	}
	return &msg, nil
}

// CreateMessage persists an ingested message. A unique-key violation on
// the dedupe key maps to ErrDuplicate.
func (s *GormStore) CreateMessage(msg *models.IngestedMessage) error {
	result := s.db.Create(msg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create ingested message: %w", result.Error)
	}
	return nil
}

// SetMessageNotifySkipped records why no notification was created for
// a message, e.g. an exhausted quota.
func (s *GormStore) SetMessageNotifySkipped(id uint, reason string) error {
	result := s.db.Model(&models.IngestedMessage{}).
		Where("id = ?", id).
		Update("notify_skipped", reason)
	if result.Error != nil {
		return fmt.Errorf("failed to flag message %d: %w", id, result.Error)
	}
	return nil
}

// ListMessages returns the tenant's messages, newest first, with the
// total count for pagination.
func (s *GormStore) ListMessages(tenantID string, offset, limit int) ([]models.IngestedMessage, int64, error) {
	var messages []models.IngestedMessage
	var total int64

	query := s.db.Model(&models.IngestedMessage{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// ListTargets returns the tenant's enabled notification recipients.
func (s *GormStore) ListTargets(tenantID string) ([]models.NotificationTarget, error) {
	var targets []models.NotificationTarget
	result := s.db.Where("tenant_id = ? AND enabled = ?", tenantID, true).Find(&targets)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list notification targets for tenant %s: %w", tenantID, result.Error)
	}
	return targets, nil
}

// CreateAttempt persists a new notification attempt.
func (s *GormStore) CreateAttempt(attempt *models.NotificationAttempt) error {
	result := s.db.Create(attempt)
	if result.Error != nil {
		return fmt.Errorf("failed to create notification attempt: %w", result.Error)
	}
	return nil
}

// UpdateAttempt saves a status transition made by the dispatcher.
func (s *GormStore) UpdateAttempt(attempt *models.NotificationAttempt) error {
	result := s.db.Save(attempt)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification attempt %d: %w", attempt.ID, result.Error)
	}
	return nil
}

// ListDueAttempts returns pending attempts whose retry time has passed,
// oldest first.
func (s *GormStore) ListDueAttempts(now time.Time, limit int) ([]models.NotificationAttempt, error) {
	var attempts []models.NotificationAttempt
	result := s.db.Where("status = ? AND next_retry_at <= ?", models.StatusPending, now).
		Order("next_retry_at ASC").Limit(limit).Find(&attempts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due attempts: %w", result.Error)
	}
	return attempts, nil
}

// ListAttempts returns notification attempts, newest first, with the
// total count for pagination.
func (s *GormStore) ListAttempts(tenantID string, offset, limit int) ([]models.NotificationAttempt, int64, error) {
	var attempts []models.NotificationAttempt
	var total int64

	query := s.db.Model(&models.NotificationAttempt{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	if err := query.Preload("Message").Order("created_at DESC").Offset(offset).Limit(limit).Find(&attempts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, total, nil
}
