package mailbox

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"
)

// ErrAuthFailed marks a login rejection. Unlike a connect failure it is
// terminal for the tenant until credentials change, so callers must not
// schedule automatic retries for it.
var ErrAuthFailed = errors.New("mailbox authentication failed")

// Config identifies one tenant's mailbox endpoint.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Checkpoint is the discovery cursor: the last persisted UID, with a
// time window as fallback for mailboxes that have never been polled.
type Checkpoint struct {
	LastUID uint32
	Since   time.Time
}

// MessageRef identifies a discovered message by its server-assigned UID.
type MessageRef struct {
	UID uint32
}

// Message is a fetched mail message.
type Message struct {
	UID        uint32
	MessageID  string
	Sender     string
	SenderName string
	Subject    string
	ReceivedAt time.Time
	Body       string
	HTMLBody   string
}

// Session is an authenticated protocol session against one mailbox.
// Close must run on every exit path.
type Session interface {
	ListNewSince(checkpoint Checkpoint) ([]MessageRef, error)
	Fetch(ref MessageRef) (*Message, error)
	Close() error
}

// Dialer opens mailbox sessions with a bounded connect timeout.
type Dialer struct {
	timeout time.Duration
}

// NewDialer creates a new mailbox dialer
func NewDialer(timeout time.Duration) *Dialer {
	return &Dialer{timeout: timeout}
}

// Connect dials and authenticates a mailbox session. Dial errors are
// transient; a rejected login returns an error wrapping ErrAuthFailed.
func (d *Dialer) Connect(cfg Config) (Session, error) {
	netDialer := &net.Dialer{Timeout: d.timeout}

	var c *client.Client
	var err error
	if cfg.UseTLS {
		c, err = client.DialWithDialerTLS(netDialer, cfg.Addr(), &tls.Config{ServerName: cfg.Host})
	} else {
		c, err = client.DialWithDialer(netDialer, cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mailbox server %s: %w", cfg.Addr(), err)
	}

	c.Timeout = d.timeout

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return &imapSession{client: c, cfg: cfg}, nil
}

// imapSession implements Session over go-imap
type imapSession struct {
	client *client.Client
	cfg    Config
	closed bool
}

// ListNewSince searches for messages past the checkpoint and returns
// them ordered ascending by UID. When no UID checkpoint exists yet the
// search falls back to the coarse SINCE window; results are always
// filtered client-side against the checkpoint so a window search never
// resurfaces already-processed UIDs.
func (s *imapSession) ListNewSince(checkpoint Checkpoint) ([]MessageRef, error) {
	if _, err := s.client.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if checkpoint.LastUID > 0 {
		seqset := new(imap.SeqSet)
		seqset.AddRange(checkpoint.LastUID+1, 0)
		criteria.Uid = seqset
	} else {
		criteria.Since = checkpoint.Since
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	var refs []MessageRef
	for _, uid := range uids {
		if uid <= checkpoint.LastUID {
			continue
		}
		refs = append(refs, MessageRef{UID: uid})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].UID < refs[j].UID })
	return refs, nil
}

// Fetch retrieves one message's envelope and body by UID.
func (s *imapSession) Fetch(ref MessageRef) (*Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ref.UID)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", ref.UID, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("message %d not found on server", ref.UID)
	}

	return s.parseMessage(ref.UID, fetched, section)
}

// Close logs the session out. Idempotent, safe on every exit path.
func (s *imapSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.client.Logout(); err != nil {
		return fmt.Errorf("failed to log out of mailbox session: %w", err)
	}
	return nil
}

// parseMessage converts an IMAP message into a Message
func (s *imapSession) parseMessage(uid uint32, msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	parsed := &Message{UID: uid}

	if msg.Envelope != nil {
		parsed.MessageID = NormalizeMessageID(msg.Envelope.MessageId)
		parsed.Subject = msg.Envelope.Subject
		parsed.ReceivedAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			parsed.Sender = msg.Envelope.From[0].Address()
			parsed.SenderName = msg.Envelope.From[0].PersonalName
		}
	}
	if parsed.ReceivedAt.IsZero() {
		parsed.ReceivedAt = time.Now()
	}

	if err := s.parseBody(msg, section, parsed); err != nil {
		// An unreadable body is a data error on this message only;
		// envelope data is still worth persisting.
		logrus.Warnf("Failed to parse body of message %d: %v", uid, err)
	}

	return parsed, nil
}

// parseBody extracts text and HTML parts via go-message
func (s *imapSession) parseBody(msg *imap.Message, section *imap.BodySectionName, parsed *Message) error {
	r := msg.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				parsed.Body = string(content)
			} else if strings.Contains(contentType, "text/html") {
				parsed.HTMLBody = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		parsed.HTMLBody = string(content)
	} else {
		parsed.Body = string(content)
	}
	return nil
}

// DedupeKey hashes the server-assigned UID together with the mailbox
// identity into the primary duplicate-detection key.
func DedupeKey(host, username string, uid uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", host, username, uid)))
	return hex.EncodeToString(sum[:])
}

// NormalizeMessageID strips angle brackets and whitespace from a
// Message-ID header so the same logical id compares equal across
// sessions even if the server renumbers UIDs.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}
