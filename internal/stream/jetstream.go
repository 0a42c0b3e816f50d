package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
)

// JetStreamStore implements Store on NATS JetStream. Every class is one
// stream (work-queue or limits retention); partition keys map to subject
// tokens, and durable pull consumers provide the competing-consumer
// groups with native ack/nak/term and delivery counts.
type JetStreamStore struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	ackWait time.Duration
	classes map[string]ClassConfig
	log     *log.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

var _ Store = (*JetStreamStore)(nil)

// NewJetStreamStore connects to NATS and ensures one stream per class.
func NewJetStreamStore(cfg *config.NATSConfig, classes []ClassConfig, ackWait time.Duration, logger *log.Logger) (*JetStreamStore, error) {
	opts := []nats.Option{
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &JetStreamStore{
		conn:    nc,
		js:      js,
		ackWait: ackWait,
		classes: make(map[string]ClassConfig, len(classes)),
		log:     logger,
		subs:    make(map[string]*nats.Subscription),
	}
	for _, c := range classes {
		s.classes[c.Class] = c
		if err := s.ensureStream(c); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return s, nil
}

func streamName(class string) string {
	return "PULSE_" + strings.ToUpper(strings.ReplaceAll(class, "-", "_"))
}

func subjectRoot(class string) string {
	return "pulse." + class
}

func subjectToken(partitionKey string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(partitionKey)
}

func (s *JetStreamStore) ensureStream(c ClassConfig) error {
	sc := &nats.StreamConfig{
		Name:     streamName(c.Class),
		Subjects: []string{subjectRoot(c.Class) + ".>"},
		Storage:  nats.FileStorage,
	}
	switch c.Retention {
	case RetentionWorkQueue:
		sc.Retention = nats.WorkQueuePolicy
	default:
		sc.Retention = nats.LimitsPolicy
		sc.MaxAge = c.MaxAge
		sc.MaxMsgs = c.MaxLen
		sc.Discard = nats.DiscardOld
	}

	if _, err := s.js.AddStream(sc); err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
	}
	s.log.Info("Created stream %s (%s retention)", sc.Name, sc.Retention)
	return nil
}

// Publish appends the payload under the partition subject.
func (s *JetStreamStore) Publish(ctx context.Context, class, partitionKey string, payload []byte) (string, error) {
	if _, ok := s.classes[class]; !ok {
		return "", fmt.Errorf("unknown stream class %q", class)
	}

	subject := subjectRoot(class) + "." + subjectToken(partitionKey)
	ack, err := s.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("jetstream publish to %s failed: %w", subject, err)
	}
	return fmt.Sprintf("%d", ack.Sequence), nil
}

func (s *JetStreamStore) subscription(group, class string) (*nats.Subscription, error) {
	key := group + "/" + class
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[key]; ok {
		return sub, nil
	}

	sub, err := s.js.PullSubscribe(
		subjectRoot(class)+".>",
		group,
		nats.AckWait(s.ackWait),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer %s on %s: %w", group, class, err)
	}
	s.subs[key] = sub
	return sub, nil
}

// Pull fetches up to batch messages for the durable group.
func (s *JetStreamStore) Pull(ctx context.Context, group, class string, batch int, wait time.Duration) ([]Message, error) {
	if _, ok := s.classes[class]; !ok {
		return nil, fmt.Errorf("unknown stream class %q", class)
	}

	sub, err := s.subscription(group, class)
	if err != nil {
		return nil, err
	}

	raw, err := sub.Fetch(batch, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch from %s failed: %w", class, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		deliveries := 1
		id := ""
		if meta, err := m.Metadata(); err == nil {
			deliveries = int(meta.NumDelivered)
			id = fmt.Sprintf("%d", meta.Sequence.Stream)
		}
		msgs = append(msgs, &jsMessage{msg: m, id: id, deliveries: deliveries})
	}
	return msgs, nil
}

// Stats reports stream depth and the group's ack-pending count.
func (s *JetStreamStore) Stats(_ context.Context, class, group string) (Stats, error) {
	info, err := s.js.StreamInfo(streamName(class))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stream info for %s: %w", class, err)
	}
	st := Stats{Depth: int64(info.State.Msgs)} // #nosec G115
	if group == "" {
		return st, nil
	}

	ci, err := s.js.ConsumerInfo(streamName(class), group)
	if err != nil {
		if errors.Is(err, nats.ErrConsumerNotFound) {
			return st, nil
		}
		return Stats{}, fmt.Errorf("failed to get consumer info for %s on %s: %w", group, class, err)
	}
	st.Pending = int64(ci.NumAckPending)
	return st, nil
}

// Close disconnects. The durable consumers stay on the server:
// Unsubscribe on a subscription that created its durable deletes the
// server-side consumer, and with it the group's cursor and delivery
// counts for every member.
func (s *JetStreamStore) Close() error {
	s.conn.Close()
	return nil
}

type jsMessage struct {
	msg        *nats.Msg
	id         string
	deliveries int
}

func (m *jsMessage) ID() string         { return m.id }
func (m *jsMessage) Data() []byte       { return m.msg.Data }
func (m *jsMessage) DeliveryCount() int { return m.deliveries }

func (m *jsMessage) Ack(context.Context) error {
	return m.msg.Ack()
}

func (m *jsMessage) Nak(context.Context) error {
	return m.msg.Nak()
}

func (m *jsMessage) Term(context.Context) error {
	return m.msg.Term()
}
