package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
)

// RedisStore implements Store on Redis Streams. Each class is a family of
// streams, one per partition key ({prefix}:{class}:{tenant}), consumed as
// a group via XREADGROUP. Acknowledgment is XACK+XDEL; redelivery happens
// by claiming entries that stayed pending past the ack wait, with the
// pending retry counter as the observable delivery count.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	consumer string
	ackWait  time.Duration
	classes  map[string]ClassConfig
	log      *log.Logger

	mu      sync.Mutex
	streams map[string][]string        // class -> stream keys
	groups  map[string]map[string]bool // stream key -> ensured groups

	maintInterval time.Duration
	idleTimeout   time.Duration
	stopMaint     chan struct{}
	maintDone     chan struct{}
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis, discovers existing partition streams
// and starts the background maintenance loop (retention trim, idle
// consumer cleanup, partition rediscovery).
func NewRedisStore(cfg *config.RedisConfig, classes []ClassConfig, ackWait time.Duration, logger *log.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumer := cfg.Consumer
	if consumer == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		consumer = fmt.Sprintf("pulse-%s-%d", hostname, os.Getpid())
	}

	s := &RedisStore{
		rdb:           rdb,
		prefix:        cfg.KeyPrefix,
		consumer:      consumer,
		ackWait:       ackWait,
		classes:       make(map[string]ClassConfig, len(classes)),
		log:           logger,
		streams:       make(map[string][]string),
		groups:        make(map[string]map[string]bool),
		maintInterval: cfg.MaintenanceInterval,
		idleTimeout:   cfg.ConsumerIdleTimeout,
		stopMaint:     make(chan struct{}),
		maintDone:     make(chan struct{}),
	}
	for _, c := range classes {
		s.classes[c.Class] = c
	}

	if err := s.discoverAll(ctx); err != nil {
		return nil, err
	}

	go s.maintenanceLoop()
	return s, nil
}

func (s *RedisStore) streamKey(class, partitionKey string) string {
	return s.prefix + ":" + class + ":" + partitionKey
}

// Publish appends the payload to the partition stream for this class.
func (s *RedisStore) Publish(ctx context.Context, class, partitionKey string, payload []byte) (string, error) {
	if _, ok := s.classes[class]; !ok {
		return "", fmt.Errorf("unknown stream class %q", class)
	}

	key := s.streamKey(class, partitionKey)
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"payload": payload, "partition": partitionKey},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s failed: %w", key, err)
	}

	s.rememberStream(class, key)
	return id, nil
}

func (s *RedisStore) rememberStream(class, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.streams[class] {
		if k == key {
			return
		}
	}
	s.streams[class] = append(s.streams[class], key)
}

// Pull claims messages idle past the ack wait first, then reads fresh
// entries with a blocking XREADGROUP.
func (s *RedisStore) Pull(ctx context.Context, group, class string, batch int, wait time.Duration) ([]Message, error) {
	keys := s.classStreams(class)
	if len(keys) == 0 {
		// New classes have no partitions until someone publishes
		if err := s.discoverClass(ctx, class); err != nil {
			return nil, err
		}
		if keys = s.classStreams(class); len(keys) == 0 {
			return nil, nil
		}
	}

	if err := s.ensureGroups(ctx, group, keys); err != nil {
		return nil, err
	}

	claimed, err := s.claimIdle(ctx, group, keys, batch)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	return s.readFresh(ctx, group, keys, batch, wait)
}

func (s *RedisStore) classStreams(class string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.streams[class]...)
}

func (s *RedisStore) ensureGroups(ctx context.Context, group string, keys []string) error {
	for _, key := range keys {
		s.mu.Lock()
		ensured := s.groups[key][group]
		s.mu.Unlock()
		if ensured {
			continue
		}

		err := s.rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s on %s: %w", group, key, err)
		}

		s.mu.Lock()
		if s.groups[key] == nil {
			s.groups[key] = make(map[string]bool)
		}
		s.groups[key][group] = true
		s.mu.Unlock()
	}
	return nil
}

// claimIdle takes over entries another (or a crashed) consumer left
// pending past the ack wait. The pending retry counter becomes the
// delivery count.
func (s *RedisStore) claimIdle(ctx context.Context, group string, keys []string, batch int) ([]Message, error) {
	var msgs []Message
	for _, key := range keys {
		if len(msgs) >= batch {
			break
		}

		pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: key,
			Group:  group,
			Idle:   s.ackWait,
			Start:  "-",
			End:    "+",
			Count:  int64(batch - len(msgs)),
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("xpending on %s failed: %w", key, err)
		}
		if len(pending) == 0 {
			continue
		}

		ids := make([]string, len(pending))
		retries := make(map[string]int64, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
			retries[p.ID] = p.RetryCount
		}

		claimed, err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   key,
			Group:    group,
			Consumer: s.consumer,
			MinIdle:  s.ackWait,
			Messages: ids,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xclaim on %s failed: %w", key, err)
		}

		for _, m := range claimed {
			payload, ok := payloadOf(m)
			if !ok {
				s.log.Warn("Claimed entry %s on %s has no payload field, acking away", m.ID, key)
				_ = s.rdb.XAck(ctx, key, group, m.ID).Err()
				_ = s.rdb.XDel(ctx, key, m.ID).Err()
				continue
			}
			msgs = append(msgs, &redisMessage{
				store:      s,
				stream:     key,
				group:      group,
				id:         m.ID,
				data:       payload,
				deliveries: int(retries[m.ID]) + 1,
			})
		}
	}
	return msgs, nil
}

func (s *RedisStore) readFresh(ctx context.Context, group string, keys []string, batch int, wait time.Duration) ([]Message, error) {
	streamsArg := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		streamsArg = append(streamsArg, key)
	}
	for range keys {
		streamsArg = append(streamsArg, ">")
	}

	result, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: s.consumer,
		Streams:  streamsArg,
		Count:    int64(batch),
		Block:    wait,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var msgs []Message
	for _, sr := range result {
		for _, m := range sr.Messages {
			payload, ok := payloadOf(m)
			if !ok {
				s.log.Warn("Entry %s on %s has no payload field, acking away", m.ID, sr.Stream)
				_ = s.rdb.XAck(ctx, sr.Stream, group, m.ID).Err()
				_ = s.rdb.XDel(ctx, sr.Stream, m.ID).Err()
				continue
			}
			msgs = append(msgs, &redisMessage{
				store:      s,
				stream:     sr.Stream,
				group:      group,
				id:         m.ID,
				data:       payload,
				deliveries: 1,
			})
		}
	}
	return msgs, nil
}

func payloadOf(m redis.XMessage) ([]byte, bool) {
	v, ok := m.Values["payload"]
	if !ok {
		return nil, false
	}
	str, ok := v.(string)
	if !ok {
		return nil, false
	}
	return []byte(str), true
}

// Stats sums depth and pending counts over the class partitions.
func (s *RedisStore) Stats(ctx context.Context, class, group string) (Stats, error) {
	var st Stats
	for _, key := range s.classStreams(class) {
		depth, err := s.rdb.XLen(ctx, key).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("xlen on %s failed: %w", key, err)
		}
		st.Depth += depth
		if group == "" {
			continue
		}

		pending, err := s.rdb.XPending(ctx, key, group).Result()
		if err != nil {
			if strings.Contains(err.Error(), "NOGROUP") {
				continue
			}
			return Stats{}, fmt.Errorf("xpending summary on %s failed: %w", key, err)
		}
		st.Pending += pending.Count
	}
	return st, nil
}

// Close stops maintenance and disconnects.
func (s *RedisStore) Close() error {
	close(s.stopMaint)
	<-s.maintDone
	return s.rdb.Close()
}

func (s *RedisStore) ack(ctx context.Context, stream, group, id string) error {
	if err := s.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack failed for %s on %s: %w", id, stream, err)
	}
	if err := s.rdb.XDel(ctx, stream, id).Err(); err != nil {
		return fmt.Errorf("xdel failed for %s on %s: %w", id, stream, err)
	}
	return nil
}

type redisMessage struct {
	store      *RedisStore
	stream     string
	group      string
	id         string
	data       []byte
	deliveries int
}

func (m *redisMessage) ID() string         { return m.id }
func (m *redisMessage) Data() []byte       { return m.data }
func (m *redisMessage) DeliveryCount() int { return m.deliveries }

func (m *redisMessage) Ack(ctx context.Context) error {
	return m.store.ack(ctx, m.stream, m.group, m.id)
}

// Nak leaves the entry pending; it becomes claimable by any group member
// once it has been idle past the ack wait, which is the redelivery
// backoff floor.
func (m *redisMessage) Nak(context.Context) error {
	return nil
}

func (m *redisMessage) Term(ctx context.Context) error {
	return m.store.ack(ctx, m.stream, m.group, m.id)
}
