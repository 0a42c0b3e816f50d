package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same delivery semantics as
// the durable backends: competing consumers per durable group name,
// ack-wait based redelivery, monotonic delivery counts and both retention
// policies. It backs unit tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	ackWait time.Duration
	classes map[string]*memClass
	nextSeq uint64
	closed  bool
	now     func() time.Time
}

type memClass struct {
	cfg     ClassConfig
	entries []*memEntry
	notify  chan struct{}
}

type memEntry struct {
	id        string
	partition string
	payload   []byte
	appended  time.Time
	groups    map[string]*groupState
}

type groupState struct {
	deliveries   int
	pendingUntil time.Time
	done         bool // acked or terminated, never redelivered
}

// NewMemoryStore creates a memory store for the given classes. ackWait is
// the redelivery floor for pulled-but-unacknowledged messages.
func NewMemoryStore(classes []ClassConfig, ackWait time.Duration) *MemoryStore {
	s := &MemoryStore{
		ackWait: ackWait,
		classes: make(map[string]*memClass, len(classes)),
		now:     time.Now,
	}
	for _, cfg := range classes {
		s.classes[cfg.Class] = &memClass{cfg: cfg, notify: make(chan struct{})}
	}
	return s
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Publish appends a payload to the class stream.
func (s *MemoryStore) Publish(_ context.Context, class, partitionKey string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("memory store is closed")
	}
	c, ok := s.classes[class]
	if !ok {
		return "", fmt.Errorf("unknown stream class %q", class)
	}

	s.nextSeq++
	e := &memEntry{
		id:        strconv.FormatUint(s.nextSeq, 10),
		partition: partitionKey,
		payload:   append([]byte(nil), payload...),
		appended:  s.now(),
		groups:    make(map[string]*groupState),
	}
	c.entries = append(c.entries, e)
	s.enforceRetention(c)

	// Wake blocked pullers
	close(c.notify)
	c.notify = make(chan struct{})

	return e.id, nil
}

// enforceRetention drops aged and excess messages on limits streams, even
// unacknowledged ones. Work-queue streams are never trimmed.
func (s *MemoryStore) enforceRetention(c *memClass) {
	if c.cfg.Retention != RetentionLimits {
		return
	}
	cutoff := s.now().Add(-c.cfg.MaxAge)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if c.cfg.MaxAge > 0 && e.appended.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	if c.cfg.MaxLen > 0 && int64(len(c.entries)) > c.cfg.MaxLen {
		c.entries = c.entries[int64(len(c.entries))-c.cfg.MaxLen:]
	}
}

// Pull fetches up to batch deliverable messages for the group, blocking up
// to wait when none are available.
func (s *MemoryStore) Pull(ctx context.Context, group, class string, batch int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs, notify, err := s.tryPull(group, class, batch)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

func (s *MemoryStore) tryPull(group, class string, batch int) ([]Message, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, fmt.Errorf("memory store is closed")
	}
	c, ok := s.classes[class]
	if !ok {
		return nil, nil, fmt.Errorf("unknown stream class %q", class)
	}

	now := s.now()
	var msgs []Message
	for _, e := range c.entries {
		if len(msgs) >= batch {
			break
		}
		gs := e.groups[group]
		if gs == nil {
			gs = &groupState{}
			e.groups[group] = gs
		}
		if gs.done || gs.pendingUntil.After(now) {
			continue
		}
		gs.deliveries++
		gs.pendingUntil = now.Add(s.ackWait)
		msgs = append(msgs, &memMessage{
			store:      s,
			class:      class,
			group:      group,
			entry:      e,
			deliveries: gs.deliveries,
		})
	}
	return msgs, c.notify, nil
}

// Stats reports stream depth and the group's unacknowledged count.
func (s *MemoryStore) Stats(_ context.Context, class, group string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[class]
	if !ok {
		return Stats{}, fmt.Errorf("unknown stream class %q", class)
	}

	now := s.now()
	st := Stats{Depth: int64(len(c.entries))}
	for _, e := range c.entries {
		if gs := e.groups[group]; gs != nil && !gs.done && gs.pendingUntil.After(now) {
			st.Pending++
		}
	}
	return st, nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// settle finalizes a message for the group: work-queue streams drop the
// entry immediately, limits streams keep it for retention but never
// redeliver it to this group.
func (s *MemoryStore) settle(class, group, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[class]
	if !ok {
		return fmt.Errorf("unknown stream class %q", class)
	}
	for i, e := range c.entries {
		if e.id != id {
			continue
		}
		if c.cfg.Retention == RetentionWorkQueue {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return nil
		}
		gs := e.groups[group]
		if gs == nil {
			gs = &groupState{}
			e.groups[group] = gs
		}
		gs.done = true
		return nil
	}
	// Already trimmed by retention; settling is a no-op.
	return nil
}

type memMessage struct {
	store      *MemoryStore
	class      string
	group      string
	entry      *memEntry
	deliveries int
}

func (m *memMessage) ID() string         { return m.entry.id }
func (m *memMessage) Data() []byte       { return m.entry.payload }
func (m *memMessage) DeliveryCount() int { return m.deliveries }

func (m *memMessage) Ack(context.Context) error {
	return m.store.settle(m.class, m.group, m.entry.id)
}

// Nak leaves the in-flight reservation in place; the message becomes
// redeliverable when the ack wait expires, the same backoff floor the
// durable backends apply. A failing consumer therefore cannot spin on
// immediate redeliveries.
func (m *memMessage) Nak(context.Context) error {
	return nil
}

func (m *memMessage) Term(context.Context) error {
	return m.store.settle(m.class, m.group, m.entry.id)
}
