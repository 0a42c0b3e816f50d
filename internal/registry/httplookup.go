package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewHTTPLookup builds a Lookup against the device registry's resolve
// endpoint. The endpoint answers 200 with the device identity, 401 for
// an unknown or invalid credential, and 403 for a revoked device; any
// other answer is treated as a transient registry failure.
func NewHTTPLookup(endpoint string, timeout time.Duration) Lookup {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, credentialToken string) (Identity, error) {
		body, err := json.Marshal(map[string]string{"token": credentialToken})
		if err != nil {
			return Identity{}, fmt.Errorf("encode resolve request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return Identity{}, fmt.Errorf("build resolve request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Identity{}, fmt.Errorf("registry unreachable: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch resp.StatusCode {
		case http.StatusOK:
			var identity Identity
			if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&identity); err != nil {
				return Identity{}, fmt.Errorf("decode resolve response: %w", err)
			}
			if identity.TenantID == "" || identity.DeviceID == "" {
				return Identity{}, fmt.Errorf("registry returned incomplete identity")
			}
			return identity, nil
		case http.StatusUnauthorized, http.StatusNotFound:
			return Identity{}, ErrInvalidCredential
		case http.StatusForbidden:
			return Identity{}, ErrDeviceRevoked
		default:
			return Identity{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
		}
	}
}
