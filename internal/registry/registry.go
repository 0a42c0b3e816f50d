// Package registry resolves device credentials against the device
// registry, with a per-process TTL cache in front of the lookup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
)

// Permanent resolution failures. Anything else returned by a Lookup is
// treated as a transient registry problem.
var (
	ErrInvalidCredential = errors.New("credential is not known to the registry")
	ErrDeviceRevoked     = errors.New("device has been revoked")
)

// Identity is the device identity behind a credential token.
type Identity struct {
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`
}

// Lookup performs the real registry resolution for a credential token.
// Implementations return ErrInvalidCredential or ErrDeviceRevoked for
// permanent rejections.
type Lookup func(ctx context.Context, credentialToken string) (Identity, error)

type cacheEntry struct {
	identity   Identity
	validUntil time.Time
}

// AuthCache caches successful credential resolutions for a TTL, avoiding
// a registry round trip per message. The TTL is the staleness bound: a
// revoked device keeps being admitted until its entry expires. The cache
// is per process; no cross-process coordination.
type AuthCache struct {
	lookup  Lookup
	ttl     time.Duration
	timeout time.Duration
	log     *log.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewAuthCache creates a cache over the given registry lookup.
func NewAuthCache(cfg *config.RegistryConfig, lookup Lookup, logger *log.Logger) *AuthCache {
	return &AuthCache{
		lookup:  lookup,
		ttl:     cfg.CacheTTL,
		timeout: cfg.LookupTimeout,
		log:     logger,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *AuthCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Resolve returns the device identity for a credential token. Permanent
// rejections surface as ErrInvalidCredential or ErrDeviceRevoked; other
// errors mean the registry was unreachable and the caller should retry.
func (c *AuthCache) Resolve(ctx context.Context, credentialToken string) (Identity, error) {
	c.mu.Lock()
	if e, ok := c.entries[credentialToken]; ok {
		if e.validUntil.After(c.now()) {
			c.mu.Unlock()
			return e.identity, nil
		}
		delete(c.entries, credentialToken)
	}
	c.mu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	identity, err := c.lookup(lookupCtx, credentialToken)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrDeviceRevoked) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("registry lookup failed: %w", err)
	}

	c.mu.Lock()
	c.entries[credentialToken] = cacheEntry{
		identity:   identity,
		validUntil: c.now().Add(c.ttl),
	}
	c.mu.Unlock()

	return identity, nil
}

// Len reports the number of cached entries, expired or not.
func (c *AuthCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops expired entries. Called opportunistically by the owner.
func (c *AuthCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for token, e := range c.entries {
		if !e.validUntil.After(now) {
			delete(c.entries, token)
		}
	}
}

// IsPermanent reports whether a resolution error is a permanent
// rejection rather than a transient registry failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrDeviceRevoked)
}
