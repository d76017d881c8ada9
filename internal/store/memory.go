package store

import (
	"sort"
	"sync"
	"time"

	"mailwatch-go/internal/models"
)

// Memory is an in-memory Store used by tests and local development. It
// mirrors the uniqueness and monotonicity guarantees of the SQL schema.
type Memory struct {
	mu        sync.Mutex
	mailboxes map[string]*models.TenantMailbox
	messages  []*models.IngestedMessage
	targets   []models.NotificationTarget
	attempts  []*models.NotificationAttempt
	nextID    uint
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		mailboxes: make(map[string]*models.TenantMailbox),
		nextID:    1,
	}
}

// AddMailbox seeds a tenant mailbox.
func (m *Memory) AddMailbox(mailbox models.TenantMailbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailboxes[mailbox.TenantID] = &mailbox
}

// AddTarget seeds a notification target.
func (m *Memory) AddTarget(target models.NotificationTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, target)
}

func (m *Memory) GetMailbox(tenantID string) (*models.TenantMailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mailbox, ok := m.mailboxes[tenantID]
	if !ok {
		return nil, nil
	}
	copied := *mailbox
	return &copied, nil
}

func (m *Memory) ListEnabledMailboxes() ([]models.TenantMailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mailboxes []models.TenantMailbox
	for _, mailbox := range m.mailboxes {
		if mailbox.Enabled && !mailbox.AuthFailed {
			mailboxes = append(mailboxes, *mailbox)
		}
	}
	sort.Slice(mailboxes, func(i, j int) bool { return mailboxes[i].TenantID < mailboxes[j].TenantID })
	return mailboxes, nil
}

func (m *Memory) AdvanceCheckpoint(tenantID string, uid uint32, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mailbox, ok := m.mailboxes[tenantID]
	if !ok {
		return nil
	}
	if uid > mailbox.LastUID {
		mailbox.LastUID = uid
		t := checkedAt
		mailbox.LastCheckedAt = &t
	}
	return nil
}

func (m *Memory) TouchLastChecked(tenantID string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mailbox, ok := m.mailboxes[tenantID]; ok {
		t := checkedAt
		mailbox.LastCheckedAt = &t
	}
	return nil
}

func (m *Memory) MarkAuthFailed(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mailbox, ok := m.mailboxes[tenantID]; ok {
		mailbox.AuthFailed = true
	}
	return nil
}

func (m *Memory) FindMessage(tenantID, dedupeKey, messageID string) (*models.IngestedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.DedupeKey == dedupeKey {
			copied := *msg
			return &copied, nil
		}
		if messageID != "" && msg.TenantID == tenantID && msg.MessageID == messageID {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetMessage(id uint) (*models.IngestedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateMessage(msg *models.IngestedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages {
		if existing.DedupeKey == msg.DedupeKey {
			return ErrDuplicate
		}
	}
	msg.ID = m.nextID
	m.nextID++
	msg.CreatedAt = time.Now()
	copied := *msg
	m.messages = append(m.messages, &copied)
	return nil
}

func (m *Memory) SetMessageNotifySkipped(id uint, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			msg.NotifySkipped = reason
		}
	}
	return nil
}

func (m *Memory) ListMessages(tenantID string, offset, limit int) ([]models.IngestedMessage, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages []models.IngestedMessage
	for _, msg := range m.messages {
		if tenantID == "" || msg.TenantID == tenantID {
			messages = append(messages, *msg)
		}
	}
	total := int64(len(messages))
	if offset >= len(messages) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(messages) {
		end = len(messages)
	}
	return messages[offset:end], total, nil
}

func (m *Memory) ListTargets(tenantID string) ([]models.NotificationTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var targets []models.NotificationTarget
	for _, target := range m.targets {
		if target.TenantID == tenantID && target.Enabled {
			targets = append(targets, target)
		}
	}
	return targets, nil
}

func (m *Memory) CreateAttempt(attempt *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt.ID = m.nextID
	m.nextID++
	attempt.CreatedAt = time.Now()
	copied := *attempt
	m.attempts = append(m.attempts, &copied)
	return nil
}

func (m *Memory) UpdateAttempt(attempt *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.attempts {
		if existing.ID == attempt.ID {
			copied := *attempt
			m.attempts[i] = &copied
			return nil
		}
	}
	return nil
}

func (m *Memory) ListDueAttempts(now time.Time, limit int) ([]models.NotificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.NotificationAttempt
	for _, attempt := range m.attempts {
		if attempt.Status == models.StatusPending && !attempt.NextRetryAt.After(now) {
			due = append(due, *attempt)
			if len(due) == limit {
				break
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	return due, nil
}

func (m *Memory) ListAttempts(tenantID string, offset, limit int) ([]models.NotificationAttempt, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attempts []models.NotificationAttempt
	for _, attempt := range m.attempts {
		if tenantID == "" || attempt.TenantID == tenantID {
			attempts = append(attempts, *attempt)
		}
	}
	total := int64(len(attempts))
	if offset >= len(attempts) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(attempts) {
		end = len(attempts)
	}
	return attempts[offset:end], total, nil
}
