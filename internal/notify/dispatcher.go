package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mailwatch-go/internal/config"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/models"
	"mailwatch-go/internal/quota"
	"mailwatch-go/internal/store"
)

// SkipReasonQuota flags messages that produced no attempts because the
// tenant's notification quota was exhausted.
const SkipReasonQuota = "quota_exhausted"

const retryBatchSize = 100

// Dispatcher turns persisted messages into notification attempts and
// drives each attempt through its state machine:
//
//	PENDING -> SENDING -> SENT
//	                   -> PENDING (retryable failure, retry count +1)
//	                   -> FAILED  (non-retryable, or retries exhausted)
//
// It owns status transitions, retry counting, backoff scheduling and
// error capture; the wire protocols live in the providers.
type Dispatcher struct {
	store     store.Store
	quota     quota.Service
	providers map[string]Provider
	metrics   *metrics.Metrics

	maxRetries     int
	backoffBase    time.Duration
	backoffCeiling time.Duration

	now func() time.Time
}

// NewDispatcher creates a dispatcher for the given providers
func NewDispatcher(st store.Store, quotaSvc quota.Service, providers []Provider, m *metrics.Metrics, cfg config.NotifyConfig) *Dispatcher {
	byChannel := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	return &Dispatcher{
		store:          st,
		quota:          quotaSvc,
		providers:      byChannel,
		metrics:        m,
		maxRetries:     cfg.MaxRetries,
		backoffBase:    cfg.BackoffBase,
		backoffCeiling: cfg.BackoffCeiling,
		now:            time.Now,
	}
}

// Dispatch creates and runs notification attempts for a persisted
// message across all of the tenant's configured channels.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.IngestedMessage) ([]models.NotificationAttempt, error) {
	targets, err := d.store.ListTargets(msg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification targets: %w", err)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	decision, err := d.quota.Check(ctx, msg.TenantID, quota.ResourceNotifications)
	if err != nil {
		// Quota service outage fails open: availability over billing.
		logrus.Warnf("Quota check failed for tenant %s, proceeding: %v", msg.TenantID, err)
		decision = quota.Decision{Allowed: true}
	}
	if !decision.Allowed {
		logrus.Infof("Notification quota exhausted for tenant %s, flagging message %d", msg.TenantID, msg.ID)
		if err := d.store.SetMessageNotifySkipped(msg.ID, SkipReasonQuota); err != nil {
			return nil, err
		}
		return nil, nil
	}

	n := Notification{
		TenantID: msg.TenantID,
		Subject:  msg.Subject,
		Sender:   msg.Sender,
		Body:     msg.BodyRef,
	}

	var attempts []models.NotificationAttempt
	for _, target := range targets {
		messageID := msg.ID
		attempt := models.NotificationAttempt{
			TenantID:    msg.TenantID,
			MessageID:   &messageID,
			Channel:     target.Channel,
			Recipient:   target.Recipient,
			Status:      models.StatusPending,
			MaxRetries:  d.maxRetries,
			NextRetryAt: d.now(),
		}
		if err := d.store.CreateAttempt(&attempt); err != nil {
			return attempts, err
		}

		d.runAttempt(ctx, &attempt, n)
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

// RetryPending sweeps pending attempts whose retry time has passed and
// runs one send cycle for each. Safe to run concurrently with
// ingestion: it only touches attempt rows, never checkpoints.
func (d *Dispatcher) RetryPending(ctx context.Context) error {
	attempts, err := d.store.ListDueAttempts(d.now(), retryBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load due attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil
	}

	logrus.Infof("Retrying %d pending notification attempt(s)", len(attempts))
	for i := range attempts {
		attempt := &attempts[i]
		n, err := d.notificationFor(attempt)
		if err != nil {
			logrus.Errorf("Failed to build notification for attempt %d: %v", attempt.ID, err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendDeadline)
		d.runAttempt(sendCtx, attempt, n)
		cancel()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// notificationFor rebuilds the payload for a stored attempt. Attempts
// without a message reference get a generic payload.
func (d *Dispatcher) notificationFor(attempt *models.NotificationAttempt) (Notification, error) {
	if attempt.MessageID == nil {
		return Notification{TenantID: attempt.TenantID, Subject: "notification", Sender: "system"}, nil
	}
	msg, err := d.store.GetMessage(*attempt.MessageID)
	if err != nil {
		return Notification{}, err
	}
	if msg == nil {
		return Notification{}, fmt.Errorf("message %d not found", *attempt.MessageID)
	}
	return Notification{TenantID: msg.TenantID, Subject: msg.Subject, Sender: msg.Sender, Body: msg.BodyRef}, nil
}

// runAttempt performs one send cycle: PENDING -> SENDING -> terminal or
// back to PENDING with the next retry scheduled.
func (d *Dispatcher) runAttempt(ctx context.Context, attempt *models.NotificationAttempt, n Notification) {
	provider, ok := d.providers[attempt.Channel]
	if !ok {
		d.fail(attempt, fmt.Sprintf("no provider configured for channel %s", attempt.Channel))
		return
	}

	attempt.Status = models.StatusSending
	if err := d.store.UpdateAttempt(attempt); err != nil {
		logrus.Errorf("Failed to mark attempt %d as sending: %v", attempt.ID, err)
		return
	}

	err := provider.Send(ctx, attempt.Recipient, n)
	if err == nil {
		now := d.now()
		attempt.Status = models.StatusSent
		attempt.SentAt = &now
		attempt.LastError = ""
		if err := d.store.UpdateAttempt(attempt); err != nil {
			logrus.Errorf("Failed to mark attempt %d as sent: %v", attempt.ID, err)
		}
		d.metrics.NotificationsSent.Inc()
		logrus.Infof("Sent %s notification to %s for tenant %s", attempt.Channel, attempt.Recipient, attempt.TenantID)
		return
	}

	if errors.Is(err, ErrNonRetryable) {
		d.fail(attempt, err.Error())
		return
	}

	if attempt.RetryCount >= attempt.MaxRetries {
		d.fail(attempt, fmt.Sprintf("retries exhausted: %v", err))
		return
	}

	attempt.RetryCount++
	attempt.Status = models.StatusPending
	attempt.LastError = err.Error()
	attempt.NextRetryAt = d.now().Add(d.backoff(attempt.RetryCount))
	if updateErr := d.store.UpdateAttempt(attempt); updateErr != nil {
		logrus.Errorf("Failed to reschedule attempt %d: %v", attempt.ID, updateErr)
		return
	}
	d.metrics.NotificationsRetried.Inc()
	logrus.Warnf("Retryable failure sending %s notification (attempt %d/%d), next retry at %s: %v",
		attempt.Channel, attempt.RetryCount, attempt.MaxRetries, attempt.NextRetryAt.Format(time.RFC3339), err)
}

// fail moves an attempt to its terminal FAILED state.
func (d *Dispatcher) fail(attempt *models.NotificationAttempt, detail string) {
	attempt.Status = models.StatusFailed
	attempt.LastError = detail
	if err := d.store.UpdateAttempt(attempt); err != nil {
		logrus.Errorf("Failed to mark attempt %d as failed: %v", attempt.ID, err)
		return
	}
	d.metrics.NotificationsFailed.Inc()
	logrus.Errorf("Notification attempt %d failed terminally: %s", attempt.ID, detail)
}

// backoff is exponential in the retry count with a fixed ceiling.
func (d *Dispatcher) backoff(retryCount int) time.Duration {
	wait := d.backoffBase
	for i := 1; i < retryCount; i++ {
		wait *= 2
		if wait >= d.backoffCeiling {
			return d.backoffCeiling
		}
	}
	if wait > d.backoffCeiling {
		return d.backoffCeiling
	}
	return wait
}
