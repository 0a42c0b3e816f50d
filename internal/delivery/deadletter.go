package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
)

// maxErrorLen bounds the error text stored in a dead letter record so a
// pathological destination cannot bloat the stream.
const maxErrorLen = 512

// DeadLetters persists exhausted jobs to the dead-letter stream.
type DeadLetters struct {
	store stream.Store
	now   func() time.Time
}

// NewDeadLetters creates a dead letter writer over the stream store.
func NewDeadLetters(store stream.Store) *DeadLetters {
	return &DeadLetters{store: store, now: time.Now}
}

// Record writes one dead letter record for a job that exhausted its
// retry budget.
func (d *DeadLetters) Record(ctx context.Context, job *Job, cause error) error {
	text := "unknown failure"
	if cause != nil {
		text = cause.Error()
	}
	if len(text) > maxErrorLen {
		text = text[:maxErrorLen]
	}

	record := DeadLetterRecord{
		TenantID:    job.TenantID,
		RouteID:     job.RouteID,
		Topic:       job.Topic,
		Payload:     job.Payload,
		Destination: job.Destination,
		Error:       text,
		RecordedAt:  d.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead letter record: %w", err)
	}

	_, err = d.store.Publish(ctx, envelope.ClassDeadLetter, job.TenantID, data)
	if err != nil {
		return fmt.Errorf("persist dead letter record: %w", err)
	}
	return nil
}
