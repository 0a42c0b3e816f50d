package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
)

// Pool runs the route delivery workers. Each worker pulls jobs from the
// delivery-job work queue, dispatches them, and settles each message:
// ack on success, nak below the delivery budget, dead-letter and term
// once the budget is spent.
type Pool struct {
	store       stream.Store
	dispatchers Dispatchers
	deadLetters *DeadLetters
	cfg         *config.DeliveryConfig
	backoff     time.Duration
	metrics     *metrics.Metrics
	log         *log.Logger
}

// NewPool creates a delivery worker pool.
func NewPool(
	cfg *config.DeliveryConfig,
	store stream.Store,
	dispatchers Dispatchers,
	deadLetters *DeadLetters,
	errorBackoff time.Duration,
	m *metrics.Metrics,
	logger *log.Logger,
) *Pool {
	return &Pool{
		store:       store,
		dispatchers: dispatchers,
		deadLetters: deadLetters,
		cfg:         cfg,
		backoff:     errorBackoff,
		metrics:     m,
		log:         logger,
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

// Run starts the delivery workers and blocks until the context is
// canceled. In-flight batches are settled before workers exit.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("Starting %d delivery workers (group %s)", p.cfg.Workers, p.cfg.Group)

	var wg sync.WaitGroup
	errCh := make(chan error, p.cfg.Workers)

	for i := 0; i < p.cfg.Workers; i++ {
		p.startLoop(ctx, &wg, fmt.Sprintf("delivery-%d", i), p.workerLoop, errCh)
	}

	select {
	case <-ctx.Done():
		p.log.Info("Shutting down delivery workers")
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		p.log.Error("Delivery pool error: %v", err)
		wg.Wait()
		return err
	}
}

// workerLoop pulls and processes jobs until canceled.
func (p *Pool) workerLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := p.store.Pull(ctx, p.cfg.Group, envelope.ClassDeliveryJob, p.cfg.BatchSize, p.cfg.PullWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Warn("Delivery pull failed: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
			continue
		}

		// A pulled batch is settled even if shutdown begins mid-batch, so
		// no message is left to wait out the full ack-wait timeout.
		for _, msg := range msgs {
			p.process(context.WithoutCancel(ctx), msg)
		}
	}
}

// process dispatches one job and settles its message.
func (p *Pool) process(ctx context.Context, msg stream.Message) {
	job, err := DecodeJob(msg.Data())
	if err != nil {
		// Poison message: redelivery cannot fix it.
		p.log.Error("Terminating undecodable delivery job %s: %v", msg.ID(), err)
		p.settle(ctx, msg.Term)
		return
	}

	dispatcher, err := p.dispatchers.For(job)
	if err == nil {
		err = dispatcher.Dispatch(ctx, job)
	}

	destination := string(job.Destination.Type)
	if err == nil {
		p.metrics.DeliveryOutcomes.WithLabelValues(destination, metrics.OutcomeDelivered).Inc()
		p.settle(ctx, msg.Ack)
		return
	}

	p.metrics.DeliveryOutcomes.WithLabelValues(destination, metrics.OutcomeFailed).Inc()
	p.log.Warn("Delivery attempt %d/%d for job %s (route %s) failed: %v",
		msg.DeliveryCount(), p.cfg.MaxDeliver, job.JobID, job.RouteID, err)

	if msg.DeliveryCount() < p.cfg.MaxDeliver {
		p.settle(ctx, msg.Nak)
		return
	}

	if dlErr := p.deadLetters.Record(ctx, job, err); dlErr != nil {
		// Keep the job alive so the dead letter is not lost with it.
		p.log.Error("Failed to dead-letter job %s, requeueing: %v", job.JobID, dlErr)
		p.settle(ctx, msg.Nak)
		return
	}

	p.metrics.DeliveryOutcomes.WithLabelValues(destination, metrics.OutcomeDeadLettered).Inc()
	p.log.Error("Dead-lettered job %s (route %s) after %d attempts", job.JobID, job.RouteID, msg.DeliveryCount())
	p.settle(ctx, msg.Term)
}

func (p *Pool) settle(ctx context.Context, op func(context.Context) error) {
	if err := op(ctx); err != nil {
		p.log.Warn("Failed to settle delivery message: %v", err)
	}
}
