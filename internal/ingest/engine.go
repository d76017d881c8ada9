package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailwatch-go/internal/mailbox"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/models"
	"mailwatch-go/internal/spam"
	"mailwatch-go/internal/store"
)

// Dialer opens mailbox sessions. Satisfied by mailbox.Dialer.
type Dialer interface {
	Connect(cfg mailbox.Config) (mailbox.Session, error)
}

// Dispatcher hands persisted messages to the notification pipeline.
// Satisfied by notify.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *models.IngestedMessage) ([]models.NotificationAttempt, error)
}

// Engine ingests one tenant's mailbox: discover messages past the
// checkpoint, deduplicate, score, persist, advance the checkpoint and
// trigger notifications.
type Engine struct {
	store          store.Store
	dialer         Dialer
	scorer         *spam.Scorer
	dispatcher     Dispatcher
	metrics        *metrics.Metrics
	fallbackWindow time.Duration
}

// NewEngine creates an ingestion engine
func NewEngine(st store.Store, dialer Dialer, scorer *spam.Scorer, dispatcher Dispatcher, m *metrics.Metrics, fallbackWindow time.Duration) *Engine {
	return &Engine{
		store:          st,
		dialer:         dialer,
		scorer:         scorer,
		dispatcher:     dispatcher,
		metrics:        m,
		fallbackWindow: fallbackWindow,
	}
}

// IngestTenant runs one ingestion pass for a tenant. Failures are
// captured in the returned RunResult and never propagate; sibling
// tenants in the same scheduler pass are unaffected.
func (e *Engine) IngestTenant(ctx context.Context, tenantID string) models.RunResult {
	result := models.RunResult{TenantID: tenantID}

	mb, err := e.store.GetMailbox(tenantID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if mb == nil || !mb.Enabled {
		result.Success = true
		result.Skipped = true
		result.SkipReason = "mailbox disabled or not configured"
		return result
	}
	if mb.AuthFailed {
		result.Success = true
		result.Skipped = true
		result.SkipReason = "authentication failed, awaiting configuration change"
		return result
	}

	session, err := e.dialer.Connect(mailbox.Config{
		Host:     mb.Host,
		Port:     mb.Port,
		Username: mb.Username,
		Password: mb.Password,
		UseTLS:   mb.UseTLS,
	})
	if err != nil {
		if errors.Is(err, mailbox.ErrAuthFailed) {
			// Terminal for this tenant until an operator fixes the
			// credentials; the flag suppresses further scheduled runs.
			if markErr := e.store.MarkAuthFailed(tenantID); markErr != nil {
				logrus.Errorf("Failed to flag auth failure for tenant %s: %v", tenantID, markErr)
			}
			logrus.Errorf("Mailbox authentication failed for tenant %s: %v", tenantID, err)
		} else {
			logrus.Warnf("Transient mailbox connect failure for tenant %s: %v", tenantID, err)
		}
		result.Error = err.Error()
		return result
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logrus.Warnf("Failed to close mailbox session for tenant %s: %v", tenantID, closeErr)
		}
	}()

	checkpoint := mailbox.Checkpoint{LastUID: mb.LastUID, Since: time.Now().Add(-e.fallbackWindow)}
	refs, err := session.ListNewSince(checkpoint)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.NewMails = len(refs)
	if len(refs) == 0 {
		if err := e.store.TouchLastChecked(tenantID, time.Now()); err != nil {
			logrus.Errorf("Failed to update last checked time for tenant %s: %v", tenantID, err)
		}
		result.Success = true
		return result
	}

	logrus.Infof("Tenant %s: %d new message(s) since UID %d", tenantID, len(refs), mb.LastUID)

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			result.TimedOut = true
			result.Error = ctx.Err().Error()
			return result
		default:
		}

		if err := e.processMessage(ctx, mb, session, ref, &result); err != nil {
			result.Failed++
			result.Error = err.Error()
			return result
		}
	}

	if err := e.store.TouchLastChecked(tenantID, time.Now()); err != nil {
		logrus.Errorf("Failed to update last checked time for tenant %s: %v", tenantID, err)
	}

	result.Success = true
	return result
}

// processMessage handles one discovered message: fetch, dedupe, score,
// persist, advance the checkpoint, dispatch. The checkpoint moves per
// message, so a mid-batch failure never forces reprocessing of already
// persisted messages.
func (e *Engine) processMessage(ctx context.Context, mb *models.TenantMailbox, session mailbox.Session, ref mailbox.MessageRef, result *models.RunResult) error {
	msg, err := session.Fetch(ref)
	if err != nil {
		return fmt.Errorf("failed to fetch message %d: %w", ref.UID, err)
	}

	dedupeKey := mailbox.DedupeKey(mb.Host, mb.Username, ref.UID)

	existing, err := e.store.FindMessage(mb.TenantID, dedupeKey, msg.MessageID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Already known, possibly under a renumbered UID. Not an
		// error; still advance so the next search skips it.
		logrus.Debugf("Tenant %s: message UID %d already ingested, skipping", mb.TenantID, ref.UID)
		e.metrics.MessagesDuplicate.Inc()
		return e.store.AdvanceCheckpoint(mb.TenantID, ref.UID, time.Now())
	}

	verdict := e.scorer.Score(spam.Input{
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Subject:    msg.Subject,
		Body:       msg.Body,
	})

	record := models.IngestedMessage{
		TenantID:    mb.TenantID,
		DedupeKey:   dedupeKey,
		MessageID:   msg.MessageID,
		UID:         ref.UID,
		Sender:      msg.Sender,
		SenderName:  msg.SenderName,
		Subject:     msg.Subject,
		ReceivedAt:  msg.ReceivedAt,
		SpamScore:   verdict.Score,
		SpamVerdict: verdict.Spam,
		SpamReasons: strings.Join(verdict.Reasons, "; "),
		BodyRef:     fmt.Sprintf("imap://%s/INBOX;UID=%d", mb.Host, ref.UID),
	}

	if err := e.store.CreateMessage(&record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with another writer; the row exists, so the
			// checkpoint may still advance.
			e.metrics.MessagesDuplicate.Inc()
			return e.store.AdvanceCheckpoint(mb.TenantID, ref.UID, time.Now())
		}
		return err
	}

	e.metrics.MessagesIngested.Inc()
	result.Processed++

	if err := e.store.AdvanceCheckpoint(mb.TenantID, ref.UID, time.Now()); err != nil {
		return err
	}

	if verdict.Spam {
		e.metrics.SpamDetected.Inc()
		logrus.Infof("Tenant %s: message UID %d classified as spam (score %d), notifications suppressed",
			mb.TenantID, ref.UID, verdict.Score)
		return nil
	}

	if _, err := e.dispatcher.Dispatch(ctx, &record); err != nil {
		// Notification failures are recorded on the attempt rows and
		// retried by the sweep; they do not fail the ingestion pass.
		logrus.Errorf("Tenant %s: failed to dispatch notifications for message %d: %v", mb.TenantID, record.ID, err)
	}

	return nil
}
