package stream

import (
	"context"
	"fmt"
	"time"
)

// maintenanceLoop periodically rediscovers partition streams, enforces
// retention limits and removes consumers that went away.
func (s *RedisStore) maintenanceLoop() {
	defer close(s.maintDone)

	ticker := time.NewTicker(s.maintInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopMaint:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.maintInterval)
			if err := s.discoverAll(ctx); err != nil {
				s.log.Error("Stream discovery failed: %v", err)
			}
			if err := s.enforceRetention(ctx); err != nil {
				s.log.Error("Retention trim failed: %v", err)
			}
			if err := s.cleanupDeadConsumers(ctx); err != nil {
				s.log.Error("Dead consumer cleanup failed: %v", err)
			}
			cancel()
		}
	}
}

// discoverAll scans for partition streams of every class. New tenants
// publish to new keys, existing consumers pick them up here.
func (s *RedisStore) discoverAll(ctx context.Context) error {
	for class := range s.classes {
		if err := s.discoverClass(ctx, class); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) discoverClass(ctx context.Context, class string) error {
	pattern := s.prefix + ":" + class + ":*"
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to list streams for %s: %w", class, err)
	}

	for _, key := range keys {
		s.rememberStream(class, key)
	}
	return nil
}

// enforceRetention trims age/size-bounded streams. Entries past the window
// are dropped even if unacknowledged; work-queue classes are never trimmed.
func (s *RedisStore) enforceRetention(ctx context.Context) error {
	for class, cfg := range s.classes {
		if cfg.Retention != RetentionLimits {
			continue
		}
		for _, key := range s.classStreams(class) {
			if cfg.MaxLen > 0 {
				if err := s.rdb.XTrimMaxLenApprox(ctx, key, cfg.MaxLen, 0).Err(); err != nil {
					return fmt.Errorf("xtrim maxlen on %s failed: %w", key, err)
				}
			}
			if cfg.MaxAge > 0 {
				// Stream ids are millisecond timestamps, so the age cutoff
				// translates directly to a MINID bound.
				minID := fmt.Sprintf("%d-0", time.Now().Add(-cfg.MaxAge).UnixMilli())
				if err := s.rdb.XTrimMinIDApprox(ctx, key, minID, 0).Err(); err != nil {
					return fmt.Errorf("xtrim minid on %s failed: %w", key, err)
				}
			}
		}
	}
	return nil
}

// cleanupDeadConsumers removes group members idle past the configured
// timeout. Their pending entries become claimable by live members.
func (s *RedisStore) cleanupDeadConsumers(ctx context.Context) error {
	removed := 0
	for class := range s.classes {
		for _, key := range s.classStreams(class) {
			s.mu.Lock()
			groups := make([]string, 0, len(s.groups[key]))
			for g := range s.groups[key] {
				groups = append(groups, g)
			}
			s.mu.Unlock()

			for _, group := range groups {
				n, err := s.cleanupGroup(ctx, key, group)
				if err != nil {
					s.log.Warn("failed to cleanup consumers on %s group %s: %v", key, group, err)
					continue
				}
				removed += n
			}
		}
	}
	if removed > 0 {
		s.log.Info("Removed %d idle consumers", removed)
	}
	return nil
}

func (s *RedisStore) cleanupGroup(ctx context.Context, key, group string) (int, error) {
	consumers, err := s.rdb.XInfoConsumers(ctx, key, group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get consumers info: %w", err)
	}

	removed := 0
	for _, c := range consumers {
		if c.Name == s.consumer || c.Idle <= s.idleTimeout {
			continue
		}
		// Pending entries of a deleted consumer are dropped by Redis, so
		// only remove members with nothing in flight; stuck entries get
		// claimed by the idle-claim path instead.
		if c.Pending > 0 {
			continue
		}
		if err := s.rdb.XGroupDelConsumer(ctx, key, group, c.Name).Err(); err != nil {
			s.log.Error("Failed to delete consumer %s on %s: %v", c.Name, key, err)
			continue
		}
		s.log.Info("Removed idle consumer %s from %s (idle %s)", c.Name, key, c.Idle)
		removed++
	}
	return removed, nil
}
