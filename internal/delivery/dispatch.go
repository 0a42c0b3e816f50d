package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/routing"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body,
// keyed by the per-route secret.
const SignatureHeader = "X-Pulse-Signature"

// Dispatcher executes one destination kind. A returned error means the
// attempt failed and the job may be retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

// WebhookDispatcher posts the payload to the route's URL with an HMAC
// signature. Any non-2xx response is a failure.
type WebhookDispatcher struct {
	client *http.Client
}

// NewWebhookDispatcher creates a webhook dispatcher with a bounded
// per-request timeout.
func NewWebhookDispatcher(timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch posts the job payload to the webhook URL.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, job *Job) error {
	cfg := job.Destination.Webhook
	if cfg == nil {
		return fmt.Errorf("job %s: webhook destination without config", job.JobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(cfg.Secret, job.Payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under the secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RepublishDispatcher publishes the payload to an outbound broker topic
// expanded from the route's template.
type RepublishDispatcher struct {
	publisher mqtt.Publisher
}

// NewRepublishDispatcher creates a republish dispatcher over the broker
// connection pool.
func NewRepublishDispatcher(publisher mqtt.Publisher) *RepublishDispatcher {
	return &RepublishDispatcher{publisher: publisher}
}

// Dispatch expands the topic template and publishes the payload.
func (d *RepublishDispatcher) Dispatch(ctx context.Context, job *Job) error {
	cfg := job.Destination.Republish
	if cfg == nil {
		return fmt.Errorf("job %s: republish destination without config", job.JobID)
	}
	topic := ExpandTemplate(cfg.TopicTemplate, job.TenantID, job.DeviceID)
	return d.publisher.Publish(ctx, topic, job.Payload)
}

// ExpandTemplate substitutes {tenant_id} and {device_id} placeholders.
func ExpandTemplate(template, tenantID, deviceID string) string {
	expanded := strings.ReplaceAll(template, "{tenant_id}", tenantID)
	return strings.ReplaceAll(expanded, "{device_id}", deviceID)
}

// StorageDispatcher acknowledges storage routes without side effects;
// the record was already persisted by the ingest stage.
type StorageDispatcher struct{}

// Dispatch is a no-op success.
func (d *StorageDispatcher) Dispatch(_ context.Context, _ *Job) error {
	return nil
}

// Dispatchers selects a dispatcher per destination type.
type Dispatchers map[routing.DestinationType]Dispatcher

// For returns the dispatcher for the job's destination type.
func (d Dispatchers) For(job *Job) (Dispatcher, error) {
	dispatcher, ok := d[job.Destination.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", routing.ErrUnknownDestination, job.Destination.Type)
	}
	return dispatcher, nil
}
