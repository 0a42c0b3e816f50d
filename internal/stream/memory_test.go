package stream

import (
	"context"
	"testing"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
)

func newTestStore(t *testing.T, ackWait time.Duration) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(Classes(time.Hour, 1000), ackWait)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_PublishPullAck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	id, err := s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("a"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	msgs, err := s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Data()) != "a" {
		t.Errorf("payload mismatch: %s", msgs[0].Data())
	}
	if msgs[0].DeliveryCount() != 1 {
		t.Errorf("expected delivery count 1, got %d", msgs[0].DeliveryCount())
	}

	if err := msgs[0].Ack(ctx); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	// Acked messages are never redelivered
	msgs, err = s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no redelivery after ack, got %d", len(msgs))
	}
}

func TestMemoryStore_SingleFlightPerMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("a"))

	first, err := s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("first Pull = %d msgs, err %v", len(first), err)
	}

	// A second group member must not see the in-flight message
	second, err := s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("message delivered to two members at once")
	}
}

func TestMemoryStore_NakRedeliversAfterAckWait(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 20*time.Millisecond)

	_, _ = s.Publish(ctx, envelope.ClassDeliveryJob, "t1", []byte("job"))

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 1 {
		t.Fatal("expected one message")
	}
	if err := msgs[0].Nak(ctx); err != nil {
		t.Fatalf("Nak failed: %v", err)
	}

	// A nak'd message stays reserved until the ack wait expires, so a
	// failing consumer cannot pull it back in a hot loop
	msgs, _ = s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 0 {
		t.Fatal("nak made the message immediately redeliverable")
	}

	time.Sleep(30 * time.Millisecond)
	msgs, _ = s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 1 {
		t.Fatal("expected redelivery after the ack wait")
	}
	if msgs[0].DeliveryCount() != 2 {
		t.Errorf("expected delivery count 2, got %d", msgs[0].DeliveryCount())
	}
}

func TestMemoryStore_TermStopsRedelivery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Millisecond)

	_, _ = s.Publish(ctx, envelope.ClassDeliveryJob, "t1", []byte("job"))

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 1 {
		t.Fatal("expected one message")
	}
	if err := msgs[0].Term(ctx); err != nil {
		t.Fatalf("Term failed: %v", err)
	}

	// Even after the ack wait expires, a terminated message stays gone
	time.Sleep(5 * time.Millisecond)
	msgs, _ = s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 0 {
		t.Error("terminated message was redelivered")
	}
}

func TestMemoryStore_AckWaitRedelivery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 5*time.Millisecond)

	_, _ = s.Publish(ctx, envelope.ClassDeliveryJob, "t1", []byte("job"))

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 1 {
		t.Fatal("expected one message")
	}
	// Simulate a crashed worker: no ack, no nak

	time.Sleep(10 * time.Millisecond)
	msgs, _ = s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	if len(msgs) != 1 {
		t.Fatal("expected redelivery after ack wait expired")
	}
	if msgs[0].DeliveryCount() != 2 {
		t.Errorf("expected delivery count 2, got %d", msgs[0].DeliveryCount())
	}
}

func TestMemoryStore_WorkQueueAckRemoves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	_, _ = s.Publish(ctx, envelope.ClassDeliveryJob, "t1", []byte("job"))

	st, _ := s.Stats(ctx, envelope.ClassDeliveryJob, "g1")
	if st.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", st.Depth)
	}

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassDeliveryJob, 1, time.Millisecond)
	_ = msgs[0].Ack(ctx)

	st, _ = s.Stats(ctx, envelope.ClassDeliveryJob, "g1")
	if st.Depth != 0 {
		t.Errorf("work-queue stream should drop acked message, depth %d", st.Depth)
	}
}

func TestMemoryStore_LimitsRetentionDropsAged(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore([]ClassConfig{
		{Class: envelope.ClassTelemetry, Retention: RetentionLimits, MaxAge: time.Hour, MaxLen: 100},
	}, time.Minute)
	defer func() { _ = s.Close() }()

	now := time.Now()
	s.SetClock(func() time.Time { return now })
	_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("old"))

	// Advance past the retention window; the next publish trims the old
	// message even though it was never acknowledged.
	now = now.Add(2 * time.Hour)
	_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("new"))

	st, _ := s.Stats(ctx, envelope.ClassTelemetry, "g1")
	if st.Depth != 1 {
		t.Errorf("expected aged message dropped, depth %d", st.Depth)
	}

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if len(msgs) != 1 || string(msgs[0].Data()) != "new" {
		t.Errorf("expected only the new message to survive")
	}
}

func TestMemoryStore_LimitsRetentionSizeBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore([]ClassConfig{
		{Class: envelope.ClassTelemetry, Retention: RetentionLimits, MaxAge: time.Hour, MaxLen: 2},
	}, time.Minute)
	defer func() { _ = s.Close() }()

	for _, p := range []string{"a", "b", "c"} {
		_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte(p))
	}

	st, _ := s.Stats(ctx, envelope.ClassTelemetry, "g1")
	if st.Depth != 2 {
		t.Fatalf("expected size bound to hold depth at 2, got %d", st.Depth)
	}

	msgs, _ := s.Pull(ctx, "g1", envelope.ClassTelemetry, 10, time.Millisecond)
	if len(msgs) != 2 || string(msgs[0].Data()) != "b" {
		t.Errorf("expected oldest message dropped first")
	}
}

func TestMemoryStore_StatsWithoutGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	_, _ = s.Publish(ctx, envelope.ClassQuarantine, "t1", []byte("bad"))
	_, _ = s.Publish(ctx, envelope.ClassDeadLetter, "t1", []byte("dead"))

	for _, class := range []string{envelope.ClassQuarantine, envelope.ClassDeadLetter} {
		st, err := s.Stats(ctx, class, "")
		if err != nil {
			t.Fatalf("Stats for %s failed: %v", class, err)
		}
		if st.Depth != 1 {
			t.Errorf("expected depth 1 for %s, got %d", class, st.Depth)
		}
		if st.Pending != 0 {
			t.Errorf("expected no pending for %s without a group, got %d", class, st.Pending)
		}
	}
}

func TestMemoryStore_PullBlocksUntilPublish(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	done := make(chan []Message, 1)
	go func() {
		msgs, _ := s.Pull(ctx, "g1", envelope.ClassTelemetry, 1, time.Second)
		done <- msgs
	}()

	time.Sleep(10 * time.Millisecond)
	_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("late"))

	select {
	case msgs := <-done:
		if len(msgs) != 1 {
			t.Fatalf("expected blocked pull to pick up the publish, got %d", len(msgs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pull did not return")
	}
}

func TestMemoryStore_SeparateGroupsEachReceive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	_, _ = s.Publish(ctx, envelope.ClassTelemetry, "t1", []byte("a"))

	m1, _ := s.Pull(ctx, "g1", envelope.ClassTelemetry, 1, time.Millisecond)
	m2, _ := s.Pull(ctx, "g2", envelope.ClassTelemetry, 1, time.Millisecond)
	if len(m1) != 1 || len(m2) != 1 {
		t.Errorf("limits stream should deliver to each durable group, got %d and %d", len(m1), len(m2))
	}
}

func TestMemoryStore_UnknownClass(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Minute)

	if _, err := s.Publish(ctx, "nope", "t1", []byte("a")); err == nil {
		t.Error("expected error for unknown class")
	}
	if _, err := s.Pull(ctx, "g1", "nope", 1, time.Millisecond); err == nil {
		t.Error("expected error for unknown class")
	}
}
