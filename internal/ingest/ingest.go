// Package ingest runs the ingest workers: they turn raw envelopes into
// validated, persisted records and routed delivery jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

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

// ingressClasses are the streams device envelopes arrive on.
var ingressClasses = []string{
	envelope.ClassTelemetry,
	envelope.ClassStateReport,
	envelope.ClassCommandAck,
}

// QuarantineRecord preserves an envelope the pipeline refused to
// process, with the reason it was refused.
type QuarantineRecord struct {
	Reason string `json:"reason"`
	Class  string `json:"class"`
	// Raw is the refused input verbatim. Kept as a string because the
	// input may not be valid JSON.
	Raw        string    `json:"raw"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Pool runs the ingest workers. Each ingress class gets its own set of
// worker loops competing within one durable consumer group.
type Pool struct {
	store   stream.Store
	auth    *registry.AuthCache
	limiter *ratelimit.Limiter
	batcher *writer.Batcher
	routes  *routing.Table
	cfg     *config.IngestConfig
	backoff time.Duration
	metrics *metrics.Metrics
	log     *log.Logger
	now     func() time.Time
}

// NewPool creates an ingest worker pool.
func NewPool(
	cfg *config.IngestConfig,
	store stream.Store,
	auth *registry.AuthCache,
	limiter *ratelimit.Limiter,
	batcher *writer.Batcher,
	routes *routing.Table,
	errorBackoff time.Duration,
	m *metrics.Metrics,
	logger *log.Logger,
) *Pool {
	return &Pool{
		store:   store,
		auth:    auth,
		limiter: limiter,
		batcher: batcher,
		routes:  routes,
		cfg:     cfg,
		backoff: errorBackoff,
		metrics: m,
		log:     logger,
		now:     time.Now,
	}
}

// startLoop starts a loop goroutine and reports non-canceled errors
func (p *Pool) startLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	name string,
	loop func(context.Context) error,
	errCh chan<- error,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("%s loop error: %w", name, err)
		}
	}()
}

// Run starts the workers and blocks until the context is canceled.
// In-flight batches are settled before workers exit.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("Starting %d ingest workers per class (group %s)", p.cfg.Workers, p.cfg.Group)

	var wg sync.WaitGroup
	errCh := make(chan error, p.cfg.Workers*len(ingressClasses))

	for _, class := range ingressClasses {
		for i := 0; i < p.cfg.Workers; i++ {
			class := class
			p.startLoop(ctx, &wg, fmt.Sprintf("ingest-%s-%d", class, i), func(ctx context.Context) error {
				return p.workerLoop(ctx, class)
			}, errCh)
		}
	}

	select {
	case <-ctx.Done():
		p.log.Info("Shutting down ingest workers")
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		p.log.Error("Ingest pool error: %v", err)
		wg.Wait()
		return err
	}
}

// workerLoop pulls and processes envelopes from one class until
// canceled.
func (p *Pool) workerLoop(ctx context.Context, class string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := p.store.Pull(ctx, p.cfg.Group, class, p.cfg.BatchSize, p.cfg.PullWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Warn("Ingest pull failed on %s: %v", class, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
			continue
		}

		for _, msg := range msgs {
			p.process(context.WithoutCancel(ctx), class, msg)
		}
	}
}

// process validates one envelope and settles its message. Permanent
// rejections ack; transient failures nak for redelivery, bounded by the
// delivery budget.
func (p *Pool) process(ctx context.Context, class string, msg stream.Message) {
	env, err := envelope.Decode(msg.Data())
	if err == nil {
		_, err = envelope.ParseTopic(env.Topic)
	}
	if err != nil {
		// Deterministically malformed: retrying cannot help.
		p.quarantine(ctx, class, msg.Data(), err.Error())
		p.metrics.IngestOutcomes.WithLabelValues(metrics.OutcomeQuarantined).Inc()
		p.settle(ctx, msg.Ack)
		return
	}

	if outcome, transient := p.validate(ctx, env); outcome != "" {
		p.metrics.IngestOutcomes.WithLabelValues(outcome).Inc()
		if transient {
			p.retryOrQuarantine(ctx, class, msg, outcome)
		} else {
			p.settle(ctx, msg.Ack)
		}
		return
	}

	if err := p.accept(ctx, env); err != nil {
		p.log.Warn("Ingest of %s failed: %v", env.Topic, err)
		p.metrics.IngestOutcomes.WithLabelValues(metrics.OutcomeTransient).Inc()
		p.retryOrQuarantine(ctx, class, msg, metrics.OutcomeTransient)
		return
	}

	p.metrics.IngestOutcomes.WithLabelValues(metrics.OutcomeStored).Inc()
	p.settle(ctx, msg.Ack)
}

// validate applies the admission checks in order. It returns the reject
// outcome and whether the failure is transient; an empty outcome means
// the envelope is admitted.
func (p *Pool) validate(ctx context.Context, env *envelope.Envelope) (outcome string, transient bool) {
	identity, err := p.auth.Resolve(ctx, env.Source)
	if err != nil {
		if registry.IsPermanent(err) {
			p.log.Debug("Rejected %s: %v", env.Topic, err)
			return metrics.OutcomeRejectedAuth, false
		}
		p.log.Warn("Registry lookup for %s failed: %v", env.Topic, err)
		return metrics.OutcomeTransient, true
	}
	// The credential must belong to the device named in the topic.
	if identity.TenantID != env.TenantID || identity.DeviceID != env.DeviceID {
		p.log.Debug("Rejected %s: credential identity mismatch", env.Topic)
		return metrics.OutcomeRejectedAuth, false
	}

	if !p.limiter.Allow(env.TenantID, env.DeviceID) {
		return metrics.OutcomeRejectedRate, false
	}

	if len(env.Payload) == 0 || len(env.Payload) > p.cfg.MaxPayloadBytes {
		return metrics.OutcomeRejectedPayload, false
	}

	return "", false
}

// accept persists the record and emits one delivery job per matching
// route.
func (p *Pool) accept(ctx context.Context, env *envelope.Envelope) error {
	p.batcher.Add(env.TenantID, encodeRecord(env))

	for _, route := range p.routes.Match(env) {
		job := delivery.NewJob(route, env.TenantID, env.DeviceID, env.Topic, env.Payload)
		data, err := job.Encode()
		if err != nil {
			return fmt.Errorf("encode delivery job for route %s: %w", route.ID, err)
		}
		if _, err := p.store.Publish(ctx, envelope.ClassDeliveryJob, env.TenantID, data); err != nil {
			return fmt.Errorf("publish delivery job for route %s: %w", route.ID, err)
		}
		p.metrics.JobsEmitted.Inc()
	}
	return nil
}

// retryOrQuarantine naks for redelivery while the budget allows,
// otherwise quarantines and acks. Re-ingesting identical raw input is
// cheap and safe, so there is no ingest dead letter queue beyond this.
func (p *Pool) retryOrQuarantine(ctx context.Context, class string, msg stream.Message, outcome string) {
	if msg.DeliveryCount() < p.cfg.MaxDeliver {
		p.settle(ctx, msg.Nak)
		return
	}
	p.quarantine(ctx, class, msg.Data(),
		fmt.Sprintf("%s after %d deliveries", outcome, msg.DeliveryCount()))
	p.metrics.IngestOutcomes.WithLabelValues(metrics.OutcomeQuarantined).Inc()
	p.settle(ctx, msg.Term)
}

// quarantine preserves a refused envelope on the quarantine stream.
func (p *Pool) quarantine(ctx context.Context, class string, raw []byte, reason string) {
	record := QuarantineRecord{
		Reason:     reason,
		Class:      class,
		Raw:        string(raw),
		RecordedAt: p.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		p.log.Error("Failed to encode quarantine record: %v", err)
		return
	}
	if _, err := p.store.Publish(ctx, envelope.ClassQuarantine, "quarantine", data); err != nil {
		p.log.Error("Failed to write quarantine record: %v", err)
	}
}

func (p *Pool) settle(ctx context.Context, op func(context.Context) error) {
	if err := op(ctx); err != nil {
		p.log.Warn("Failed to settle ingest message: %v", err)
	}
}
