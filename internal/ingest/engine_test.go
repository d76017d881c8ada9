package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailwatch-go/internal/mailbox"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/models"
	"mailwatch-go/internal/spam"
	"mailwatch-go/internal/store"
)

// fakeSession serves a scripted set of messages keyed by UID
type fakeSession struct {
	messages map[uint32]*mailbox.Message
	closed   bool
	listErr  error
}

func (f *fakeSession) ListNewSince(checkpoint mailbox.Checkpoint) ([]mailbox.MessageRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var refs []mailbox.MessageRef
	for uid := range f.messages {
		if uid > checkpoint.LastUID {
			refs = append(refs, mailbox.MessageRef{UID: uid})
		}
	}
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			if refs[j].UID < refs[i].UID {
				refs[i], refs[j] = refs[j], refs[i]
			}
		}
	}
	return refs, nil
}

func (f *fakeSession) Fetch(ref mailbox.MessageRef) (*mailbox.Message, error) {
	msg, ok := f.messages[ref.UID]
	if !ok {
		return nil, fmt.Errorf("message %d not found on server", ref.UID)
	}
	return msg, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// fakeDialer hands out a fixed session or a connect error
type fakeDialer struct {
	session *fakeSession
	err     error
}

func (f *fakeDialer) Connect(cfg mailbox.Config) (mailbox.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeDispatcher records which messages reached the notification pipeline
type fakeDispatcher struct {
	dispatched []uint32
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg *models.IngestedMessage) ([]models.NotificationAttempt, error) {
	f.dispatched = append(f.dispatched, msg.UID)
	return nil, f.err
}

func testMessage(uid uint32, sender, subject string) *mailbox.Message {
	return &mailbox.Message{
		UID:        uid,
		MessageID:  fmt.Sprintf("msg-%d@example.com", uid),
		Sender:     sender,
		SenderName: "Sender",
		Subject:    subject,
		ReceivedAt: time.Now(),
		Body:       "body",
	}
}

func newTestEngine(st store.Store, dialer Dialer, dispatcher Dispatcher) *Engine {
	scorer := spam.NewScorer(spam.NewBlacklist("spam.example.com"))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewEngine(st, dialer, scorer, dispatcher, m, 24*time.Hour)
}

func seedMailbox(st *store.Memory, tenantID string, lastUID uint32) {
	st.AddMailbox(models.TenantMailbox{
		TenantID: tenantID,
		Host:     "imap.example.com",
		Port:     993,
		Username: tenantID + "@example.com",
		Password: "secret",
		UseTLS:   true,
		Enabled:  true,
		LastUID:  lastUID,
	})
}

func TestIngestPersistsScoresAndNotifies(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 100)

	session := &fakeSession{messages: map[uint32]*mailbox.Message{
		101: testMessage(101, "alice@corp.example", "weekly report"),
		102: testMessage(102, "deals@spam.example.com", "hot offer"),
		103: testMessage(103, "bob@corp.example", "lunch?"),
	}}
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(st, &fakeDialer{session: session}, dispatcher)

	result := engine.IngestTenant(context.Background(), "t1")

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.NewMails)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, session.closed)

	// All three are persisted, including the spam one.
	messages, total, err := st.ListMessages("t1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	var spamScore int
	for _, msg := range messages {
		if msg.UID == 102 {
			spamScore = msg.SpamScore
			assert.True(t, msg.SpamVerdict)
			assert.Contains(t, msg.SpamReasons, "blacklisted")
		}
	}
	assert.GreaterOrEqual(t, spamScore, spam.Threshold)

	// The spam message is suppressed from the notification pipeline.
	assert.Equal(t, []uint32{101, 103}, dispatcher.dispatched)

	mb, err := st.GetMailbox("t1")
	require.NoError(t, err)
	assert.Equal(t, uint32(103), mb.LastUID)
	assert.NotNil(t, mb.LastCheckedAt)
}

func TestIngestIsIdempotentAcrossRuns(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)

	session := &fakeSession{messages: map[uint32]*mailbox.Message{
		5: testMessage(5, "alice@corp.example", "hello"),
	}}
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(st, &fakeDialer{session: session}, dispatcher)

	first := engine.IngestTenant(context.Background(), "t1")
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Processed)

	second := engine.IngestTenant(context.Background(), "t1")
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.NewMails)
	assert.Equal(t, 0, second.Processed)

	_, total, err := st.ListMessages("t1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestIngestDedupesRenumberedUIDByMessageID(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)

	msg := testMessage(7, "alice@corp.example", "hello")
	session := &fakeSession{messages: map[uint32]*mailbox.Message{7: msg}}
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(st, &fakeDialer{session: session}, dispatcher)

	first := engine.IngestTenant(context.Background(), "t1")
	require.True(t, first.Success)

	// Same logical message resurfaces under a new server-assigned UID.
	renumbered := *msg
	renumbered.UID = 42
	session.messages = map[uint32]*mailbox.Message{42: &renumbered}

	second := engine.IngestTenant(context.Background(), "t1")
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.Processed)

	_, total, err := st.ListMessages("t1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, dispatcher.dispatched, 1)

	// The checkpoint still advances past the renumbered UID.
	mb, _ := st.GetMailbox("t1")
	assert.Equal(t, uint32(42), mb.LastUID)
}

func TestIngestSkipsDisabledMailbox(t *testing.T) {
	st := store.NewMemory()
	st.AddMailbox(models.TenantMailbox{TenantID: "t1", Enabled: false})
	engine := newTestEngine(st, &fakeDialer{}, &fakeDispatcher{})

	result := engine.IngestTenant(context.Background(), "t1")

	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Contains(t, result.SkipReason, "disabled")
}

func TestIngestSkipsUnknownTenant(t *testing.T) {
	engine := newTestEngine(store.NewMemory(), &fakeDialer{}, &fakeDispatcher{})

	result := engine.IngestTenant(context.Background(), "nobody")

	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
}

func TestIngestTransientConnectFailure(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)
	engine := newTestEngine(st, &fakeDialer{err: errors.New("connection refused")}, &fakeDispatcher{})

	result := engine.IngestTenant(context.Background(), "t1")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")

	// Transient failures do not disable the mailbox.
	mb, _ := st.GetMailbox("t1")
	assert.False(t, mb.AuthFailed)
}

func TestIngestAuthFailureFlagsMailbox(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)
	engine := newTestEngine(st, &fakeDialer{err: fmt.Errorf("%w: invalid credentials", mailbox.ErrAuthFailed)}, &fakeDispatcher{})

	result := engine.IngestTenant(context.Background(), "t1")
	assert.False(t, result.Success)

	mb, _ := st.GetMailbox("t1")
	assert.True(t, mb.AuthFailed)

	// The flag suppresses subsequent scheduled runs.
	second := engine.IngestTenant(context.Background(), "t1")
	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Contains(t, second.SkipReason, "authentication")
}

func TestIngestStopsOnDeadlineKeepingProgress(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)

	session := &fakeSession{messages: map[uint32]*mailbox.Message{
		1: testMessage(1, "alice@corp.example", "one"),
		2: testMessage(2, "alice@corp.example", "two"),
	}}
	engine := newTestEngine(st, &fakeDialer{session: session}, &fakeDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := engine.IngestTenant(ctx, "t1")

	assert.False(t, result.Success)
	assert.True(t, result.TimedOut)
	assert.Equal(t, 0, result.Processed)
	assert.True(t, session.closed)
}

func TestIngestNotificationFailureDoesNotFailRun(t *testing.T) {
	st := store.NewMemory()
	seedMailbox(st, "t1", 0)

	session := &fakeSession{messages: map[uint32]*mailbox.Message{
		1: testMessage(1, "alice@corp.example", "hello"),
	}}
	engine := newTestEngine(st, &fakeDialer{session: session}, &fakeDispatcher{err: errors.New("all providers down")})

	result := engine.IngestTenant(context.Background(), "t1")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Processed)

	mb, _ := st.GetMailbox("t1")
	assert.Equal(t, uint32(1), mb.LastUID)
}
