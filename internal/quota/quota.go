package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// ResourceNotifications is the quota resource consulted before creating
// notification attempts.
const ResourceNotifications = "notifications"

// Decision is the quota service's answer for one tenant and resource.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// Service is the usage-quota collaborator, consulted before any
// notification attempt is created.
type Service interface {
	Check(ctx context.Context, tenantID, resource string) (Decision, error)
}

// HTTPClient calls the external quota service over JSON HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a quota client for the given base URL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Check asks the quota service whether the tenant may consume one unit
// of the resource in the current billing period.
func (c *HTTPClient) Check(ctx context.Context, tenantID, resource string) (Decision, error) {
	endpoint := fmt.Sprintf("%s/quota/%s?resource=%s", c.baseURL, url.PathEscape(tenantID), url.QueryEscape(resource))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to build quota request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to call quota service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("quota service returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode quota response: %w", err)
	}

	logrus.Debugf("Quota check for tenant %s: allowed=%v remaining=%d", tenantID, decision.Allowed, decision.Remaining)
	return decision, nil
}

// Static always answers with a fixed decision. Used when quota checks
// are disabled and as a test double.
type Static struct {
	Allowed   bool
	Remaining int
}

// Check returns the fixed decision
func (s Static) Check(ctx context.Context, tenantID, resource string) (Decision, error) {
	return Decision{Allowed: s.Allowed, Remaining: s.Remaining}, nil
}
