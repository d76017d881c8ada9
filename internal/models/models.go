package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification channels.
const (
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
)

// Notification attempt statuses. One canonical vocabulary for all channels.
const (
	StatusPending = "PENDING"
	StatusSending = "SENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// TenantMailbox holds one tenant's mailbox configuration plus the
// ingestion checkpoint. Configuration fields are managed by the tenant
// service; this pipeline only advances the checkpoint and sets AuthFailed.
type TenantMailbox struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID   string `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Host       string `json:"host" gorm:"type:varchar(255);not null"`
	Port       int    `json:"port" gorm:"not null;default:993"`
	Username   string `json:"username" gorm:"type:varchar(255);not null"`
	Password   string `json:"-" gorm:"type:varchar(255);not null"`
	UseTLS     bool   `json:"use_tls" gorm:"default:true"`
	Enabled    bool   `json:"enabled" gorm:"default:true"`
	AuthFailed bool   `json:"auth_failed" gorm:"default:false"`

	// Checkpoint: last successfully persisted UID and the fallback
	// discovery window. Never moves backward.
	LastUID       uint32     `json:"last_uid" gorm:"default:0"`
	LastCheckedAt *time.Time `json:"last_checked_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for TenantMailbox
func (TenantMailbox) TableName() string {
	return "tenant_mailboxes"
}

// IngestedMessage is the durable record of one discovered mail message.
// DedupeKey hashes the server-assigned UID together with the mailbox
// identity; MessageID is the normalized Message-ID header, kept as a
// second identity so a server that renumbers UIDs across sessions still
// cannot produce a duplicate row.
type IngestedMessage struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID      string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	DedupeKey     string    `json:"dedupe_key" gorm:"type:varchar(64);not null;uniqueIndex"`
	MessageID     string    `json:"message_id" gorm:"type:varchar(255);index:idx_tenant_message_id"`
	UID           uint32    `json:"uid" gorm:"not null"`
	Sender        string    `json:"sender" gorm:"type:varchar(255)"`
	SenderName    string    `json:"sender_name" gorm:"type:varchar(255)"`
	Subject       string    `json:"subject" gorm:"type:varchar(998)"`
	ReceivedAt    time.Time `json:"received_at"`
	SpamScore     int       `json:"spam_score" gorm:"default:0"`
	SpamVerdict   bool      `json:"spam_verdict" gorm:"default:false"`
	SpamReasons   string    `json:"spam_reasons" gorm:"type:text"`
	BodyRef       string    `json:"body_ref" gorm:"type:varchar(255)"`
	NotifySkipped string    `json:"notify_skipped" gorm:"type:varchar(64)"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for IngestedMessage
func (IngestedMessage) TableName() string {
	return "ingested_messages"
}

// NotificationTarget is a configured recipient for one tenant and
// channel. Managed by the tenant service; read-only here.
type NotificationTarget struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Channel   string    `json:"channel" gorm:"type:varchar(32);not null"`
	Recipient string    `json:"recipient" gorm:"type:varchar(255);not null"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for NotificationTarget
func (NotificationTarget) TableName() string {
	return "notification_targets"
}

// NotificationAttempt tracks one outbound notification through its
// delivery state machine. MessageID is nullable because some
// notifications are not email-triggered. Only the dispatcher mutates an
// attempt after creation.
type NotificationAttempt struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID    string     `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	MessageID   *uint      `json:"message_id" gorm:"index"`
	Channel     string     `json:"channel" gorm:"type:varchar(32);not null"`
	Recipient   string     `json:"recipient" gorm:"type:varchar(255);not null"`
	Status      string     `json:"status" gorm:"type:varchar(16);not null;index"`
	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	MaxRetries  int        `json:"max_retries" gorm:"default:3"`
	LastError   string     `json:"last_error" gorm:"type:text"`
	NextRetryAt time.Time  `json:"next_retry_at" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at"`

	Message *IngestedMessage `json:"message,omitempty" gorm:"foreignKey:MessageID"`
}

// TableName specifies the table name for NotificationAttempt
func (NotificationAttempt) TableName() string {
	return "notification_attempts"
}

// TenantLock backs the cross-process advisory lock. One row per key,
// held via SELECT ... FOR UPDATE NOWAIT inside a transaction.
type TenantLock struct {
	Key       string    `json:"key" gorm:"type:varchar(128);primaryKey;column:lock_key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for TenantLock
func (TenantLock) TableName() string {
	return "tenant_locks"
}

// RunResult summarizes one tenant's ingestion pass. Ephemeral: consumed
// by the scheduler summary and the trigger response, never persisted.
type RunResult struct {
	TenantID   string `json:"tenant_id"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	NewMails   int    `json:"new_mails_count"`
	Processed  int    `json:"processed_count"`
	Failed     int    `json:"failed_count"`
	Error      string `json:"error,omitempty"`
}

// RunSummary aggregates the RunResults of one scheduler pass.
type RunSummary struct {
	RunID     string               `json:"run_id"`
	StartedAt time.Time            `json:"started_at"`
	Duration  string               `json:"duration"`
	Tenants   int                  `json:"tenants"`
	NewMails  int                  `json:"new_mails_count"`
	Processed int                  `json:"processed_count"`
	Failed    int                  `json:"failed_count"`
	Results   map[string]RunResult `json:"results"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}
