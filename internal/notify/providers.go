package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"mailwatch-go/internal/config"
	"mailwatch-go/internal/models"
)

// ErrNonRetryable marks a send failure that must not be retried, such
// as a malformed recipient or a provider rejecting the request itself.
var ErrNonRetryable = errors.New("non-retryable send failure")

// Notification is the channel-independent payload handed to providers.
type Notification struct {
	TenantID string
	Subject  string
	Sender   string
	Body     string
}

// Text renders the notification as a short plain-text line.
func (n Notification) Text() string {
	return fmt.Sprintf("New mail from %s: %s", n.Sender, n.Subject)
}

// Provider delivers a notification over one channel. Providers own the
// wire protocol; retry decisions stay with the dispatcher and are
// driven by whether the returned error wraps ErrNonRetryable.
type Provider interface {
	Channel() string
	Send(ctx context.Context, recipient string, n Notification) error
}

// NewProviders builds the providers enabled by configuration.
func NewProviders(cfg config.NotifyConfig) []Provider {
	httpClient := &http.Client{Timeout: cfg.SendTimeout}

	var providers []Provider
	if cfg.SMSGatewayURL != "" {
		providers = append(providers, &SMSProvider{gatewayURL: cfg.SMSGatewayURL, apiKey: cfg.SMSGatewayKey, client: httpClient})
	}
	if cfg.TelegramToken != "" {
		providers = append(providers, &TelegramProvider{token: cfg.TelegramToken, client: httpClient})
	}
	if cfg.SlackWebhookURL != "" {
		providers = append(providers, &SlackProvider{webhookURL: cfg.SlackWebhookURL, client: httpClient})
	}
	return providers
}

// classifyStatus maps a provider HTTP status to the retry taxonomy:
// 5xx and throttling are transient, other client errors are not.
func classifyStatus(status int) error {
	if status < 300 {
		return nil
	}
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return fmt.Errorf("provider returned status %d", status)
	}
	return fmt.Errorf("%w: provider returned status %d", ErrNonRetryable, status)
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// SMSProvider posts messages to an HTTP SMS gateway.
type SMSProvider struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

// Channel returns the provider's channel name
func (p *SMSProvider) Channel() string { return models.ChannelSMS }

// Send delivers the notification as an SMS
func (p *SMSProvider) Send(ctx context.Context, recipient string, n Notification) error {
	if !phonePattern.MatchString(recipient) {
		return fmt.Errorf("%w: malformed phone number %q", ErrNonRetryable, recipient)
	}

	payload, err := json.Marshal(map[string]string{
		"to":      recipient,
		"message": n.Text(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode SMS payload: %v", ErrNonRetryable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build SMS request: %v", ErrNonRetryable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call SMS gateway: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

var chatIDPattern = regexp.MustCompile(`^-?[0-9]+$`)

// TelegramProvider sends messages through the Telegram bot API.
type TelegramProvider struct {
	token  string
	client *http.Client
}

// Channel returns the provider's channel name
func (p *TelegramProvider) Channel() string { return models.ChannelTelegram }

// Send delivers the notification as a Telegram bot message
func (p *TelegramProvider) Send(ctx context.Context, recipient string, n Notification) error {
	if !chatIDPattern.MatchString(recipient) {
		return fmt.Errorf("%w: malformed Telegram chat id %q", ErrNonRetryable, recipient)
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id": recipient,
		"text":    n.Text(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode Telegram payload: %v", ErrNonRetryable, err)
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build Telegram request: %v", ErrNonRetryable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Telegram API: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// SlackProvider posts messages to a Slack incoming webhook. The
// configured webhook is the default; a recipient that is itself a
// webhook URL overrides it per target.
type SlackProvider struct {
	webhookURL string
	client     *http.Client
}

// Channel returns the provider's channel name
func (p *SlackProvider) Channel() string { return models.ChannelSlack }

// Send delivers the notification to a Slack channel
func (p *SlackProvider) Send(ctx context.Context, recipient string, n Notification) error {
	webhook := p.webhookURL
	channel := ""
	switch {
	case strings.HasPrefix(recipient, "https://"):
		webhook = recipient
	case strings.HasPrefix(recipient, "#"):
		channel = recipient
	default:
		return fmt.Errorf("%w: malformed Slack recipient %q", ErrNonRetryable, recipient)
	}

	body := map[string]string{"text": n.Text()}
	if channel != "" {
		body["channel"] = channel
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to encode Slack payload: %v", ErrNonRetryable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to build Slack request: %v", ErrNonRetryable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Slack webhook: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// sendDeadline bounds a single provider call when the caller did not
// already set one.
const sendDeadline = 15 * time.Second
