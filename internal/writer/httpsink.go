package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/pkg/jsonenc"
)

// HTTPSink posts tenant batches to the storage engine's bulk endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink against the bulk write endpoint.
func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// WriteBatch posts one tenant's records as a single bulk document.
func (s *HTTPSink) WriteBatch(ctx context.Context, tenantID string, records [][]byte) error {
	body := encodeBulk(tenantID, records)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bulk write returned status %d", resp.StatusCode)
	}
	return nil
}

// encodeBulk builds {"tenant_id": ..., "records": [...]} without
// re-marshaling the already encoded records.
func encodeBulk(tenantID string, records [][]byte) []byte {
	size := 64
	for _, r := range records {
		size += len(r) + 1
	}

	b := jsonenc.New(size)
	b.BeginObject()
	b.String("tenant_id", tenantID)

	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	b.RawJSON("records", buf.Bytes())
	b.EndObject()

	out := make([]byte, len(b.Bytes()))
	copy(out, b.Bytes())
	return out
}
