package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/delivery"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/ratelimit"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/registry"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/routing"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/writer"
)

type nullSink struct{}

func (nullSink) WriteBatch(context.Context, string, [][]byte) error { return nil }

type fixture struct {
	pool    *Pool
	store   *stream.MemoryStore
	batcher *writer.Batcher
	metrics *metrics.Metrics
	lookups int
	mu      sync.Mutex
	failN   int // fail the first failN lookups; -1 fails forever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.store = stream.NewMemoryStore(stream.Classes(time.Hour, 1000), 50*time.Millisecond)

	lookup := func(_ context.Context, token string) (registry.Identity, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lookups++
		if f.failN < 0 || f.lookups <= f.failN {
			return registry.Identity{}, errors.New("registry unreachable")
		}
		switch token {
		case "tok-d1":
			return registry.Identity{TenantID: "acme", DeviceID: "d1"}, nil
		case "tok-other":
			return registry.Identity{TenantID: "globex", DeviceID: "g9"}, nil
		case "tok-revoked":
			return registry.Identity{}, registry.ErrDeviceRevoked
		default:
			return registry.Identity{}, registry.ErrInvalidCredential
		}
	}
	auth := registry.NewAuthCache(&config.RegistryConfig{
		CacheTTL:      time.Minute,
		LookupTimeout: time.Second,
	}, lookup, log.New())

	routes, err := routing.Parse([]byte(`
routes:
  - id: r1
    tenant_id: acme
    topic_filter: tenant/acme/device/+/telemetry
    destination: {type: storage}
`))
	require.NoError(t, err)

	f.batcher = writer.NewBatcher(&config.WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Hour,
		MaxRetries:    1,
	}, nullSink{}, metrics.New(), log.New())

	cfg := &config.IngestConfig{
		Group:           "ingest",
		Workers:         1,
		BatchSize:       10,
		PullWait:        20 * time.Millisecond,
		MaxDeliver:      3,
		RateBurst:       100,
		RateRPS:         100,
		MaxPayloadBytes: 1024,
	}
	f.metrics = metrics.New()
	f.pool = NewPool(cfg, f.store, auth, ratelimit.New(cfg.RateRPS, cfg.RateBurst),
		f.batcher, routes, 10*time.Millisecond, f.metrics, log.New())
	return f
}

func (f *fixture) outcome(name string) float64 {
	return testutil.ToFloat64(f.metrics.IngestOutcomes.WithLabelValues(name))
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pool did not shut down")
		}
	})
}

func (f *fixture) publish(t *testing.T, env *envelope.Envelope) {
	t.Helper()
	data, err := env.Encode()
	require.NoError(t, err)
	class := envelope.ClassForType(env.MsgType)
	if class == "" {
		class = envelope.ClassTelemetry
	}
	_, err = f.store.Publish(context.Background(), class, env.TenantID, data)
	require.NoError(t, err)
}

func validEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		Topic:    "tenant/acme/device/d1/telemetry",
		TenantID: "acme",
		DeviceID: "d1",
		MsgType:  envelope.TypeTelemetry,
		Source:   "tok-d1",
		Payload:  json.RawMessage(`{"temp":21.5}`),
		TS:       1756500000000,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (f *fixture) pullQuarantine(t *testing.T) []QuarantineRecord {
	t.Helper()
	msgs, err := f.store.Pull(context.Background(), "q-check", envelope.ClassQuarantine, 10, 10*time.Millisecond)
	require.NoError(t, err)
	records := make([]QuarantineRecord, 0, len(msgs))
	for _, msg := range msgs {
		var rec QuarantineRecord
		require.NoError(t, json.Unmarshal(msg.Data(), &rec))
		records = append(records, rec)
		require.NoError(t, msg.Ack(context.Background()))
	}
	return records
}

func (f *fixture) pullJobs(t *testing.T) []delivery.Job {
	t.Helper()
	msgs, err := f.store.Pull(context.Background(), "job-check", envelope.ClassDeliveryJob, 10, 10*time.Millisecond)
	require.NoError(t, err)
	jobs := make([]delivery.Job, 0, len(msgs))
	for _, msg := range msgs {
		job, err := delivery.DecodeJob(msg.Data())
		require.NoError(t, err)
		jobs = append(jobs, *job)
		require.NoError(t, msg.Ack(context.Background()))
	}
	return jobs
}

func TestIngest_ValidEnvelopeStoredAndRouted(t *testing.T) {
	f := newFixture(t)
	f.publish(t, validEnvelope())
	f.run(t)

	waitFor(t, func() bool { return f.batcher.Buffered() == 1 })

	var jobs []delivery.Job
	waitFor(t, func() bool {
		jobs = append(jobs, f.pullJobs(t)...)
		return len(jobs) == 1
	})
	assert.Equal(t, "r1", jobs[0].RouteID)
	assert.Equal(t, "acme", jobs[0].TenantID)
	assert.Equal(t, "d1", jobs[0].DeviceID)
	assert.NotEmpty(t, jobs[0].JobID)
	assert.JSONEq(t, `{"temp":21.5}`, string(jobs[0].Payload))

	assert.Empty(t, f.pullQuarantine(t))
}

func TestIngest_MalformedTopicQuarantinedNotRetried(t *testing.T) {
	f := newFixture(t)
	env := validEnvelope()
	env.Topic = "garbage/topic"
	f.publish(t, env)
	f.run(t)

	var records []QuarantineRecord
	waitFor(t, func() bool {
		records = append(records, f.pullQuarantine(t)...)
		return len(records) == 1
	})
	assert.Contains(t, records[0].Raw, "garbage/topic")
	assert.NotEmpty(t, records[0].Reason)

	// Acked, not redelivered: the ingress stream settles to empty.
	waitFor(t, func() bool {
		st, err := f.store.Stats(context.Background(), envelope.ClassTelemetry, "ingest")
		return err == nil && st.Pending == 0
	})
	assert.Zero(t, f.batcher.Buffered())
}

func TestIngest_UndecodableEnvelopeQuarantined(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Publish(context.Background(), envelope.ClassTelemetry, "acme", []byte("not json"))
	require.NoError(t, err)
	f.run(t)

	var records []QuarantineRecord
	waitFor(t, func() bool {
		records = append(records, f.pullQuarantine(t)...)
		return len(records) == 1
	})
	assert.Equal(t, "not json", records[0].Raw)
}

func TestIngest_PermanentAuthFailuresAcked(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"invalid credential", "tok-bogus"},
		{"revoked device", "tok-revoked"},
		{"identity mismatch", "tok-other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			env := validEnvelope()
			env.Source = tc.token
			f.publish(t, env)
			f.run(t)

			waitFor(t, func() bool { return f.outcome(metrics.OutcomeRejectedAuth) == 1 })
			assert.Zero(t, f.batcher.Buffered())
			assert.Empty(t, f.pullJobs(t))
			assert.Empty(t, f.pullQuarantine(t))
		})
	}
}

func TestIngest_TransientLookupRetriedThenQuarantined(t *testing.T) {
	f := newFixture(t)
	f.failN = -1

	f.publish(t, validEnvelope())
	f.run(t)

	// Budget exhausted: the envelope lands in quarantine with the
	// delivery count in the reason.
	var records []QuarantineRecord
	waitFor(t, func() bool {
		records = append(records, f.pullQuarantine(t)...)
		return len(records) == 1
	})
	assert.Contains(t, records[0].Reason, "3 deliveries")

	f.mu.Lock()
	lookups := f.lookups
	f.mu.Unlock()
	assert.Equal(t, 3, lookups)
	assert.Zero(t, f.batcher.Buffered())
}

func TestIngest_TransientThenRecoveryStores(t *testing.T) {
	f := newFixture(t)
	f.failN = 2 // first two lookups fail, the third succeeds

	f.publish(t, validEnvelope())
	f.run(t)

	waitFor(t, func() bool { return f.batcher.Buffered() == 1 })
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 3, f.lookups)
}

func TestIngest_OversizePayloadRejected(t *testing.T) {
	f := newFixture(t)
	env := validEnvelope()
	env.Payload = json.RawMessage(fmt.Sprintf(`{"blob":"%s"}`, strings.Repeat("a", 2048)))
	f.publish(t, env)
	f.run(t)

	waitFor(t, func() bool { return f.outcome(metrics.OutcomeRejectedPayload) == 1 })
	assert.Zero(t, f.batcher.Buffered())
	assert.Empty(t, f.pullJobs(t))
}

func TestIngest_StateReportDoesNotMatchTelemetryRoute(t *testing.T) {
	f := newFixture(t)
	env := validEnvelope()
	env.Topic = "tenant/acme/device/d1/state"
	env.MsgType = envelope.TypeStateReport
	f.publish(t, env)
	f.run(t)

	waitFor(t, func() bool { return f.batcher.Buffered() == 1 })
	assert.Empty(t, f.pullJobs(t))
}

func TestEncodeRecord(t *testing.T) {
	data := encodeRecord(validEnvelope())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "acme", rec["tenant_id"])
	assert.Equal(t, "d1", rec["device_id"])
	assert.Equal(t, "telemetry", rec["msg_type"])
	assert.Equal(t, "tenant/acme/device/d1/telemetry", rec["topic"])
	assert.EqualValues(t, 1756500000000, rec["ts"])
	assert.Equal(t, map[string]any{"temp": 21.5}, rec["payload"])
}
