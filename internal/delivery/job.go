// Package delivery executes route side effects: it consumes delivery
// jobs from the work queue, dispatches them to their destinations, and
// dead-letters jobs that exhaust their retry budget.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/routing"
)

// Job is one pending side effect: a matched route plus the envelope
// content it applies to. It lives on the delivery-job work queue until
// acknowledged or terminated.
type Job struct {
	JobID       string              `json:"job_id"`
	RouteID     string              `json:"route_id"`
	Destination routing.Destination `json:"destination"`
	TenantID    string              `json:"tenant_id"`
	DeviceID    string              `json:"device_id"`
	Topic       string              `json:"topic"`
	Payload     json.RawMessage     `json:"payload"`
}

// NewJob builds a job for one route match, assigning a fresh job id.
func NewJob(route routing.Route, tenantID, deviceID, topic string, payload []byte) *Job {
	return &Job{
		JobID:       uuid.NewString(),
		RouteID:     route.ID,
		Destination: route.Destination,
		TenantID:    tenantID,
		DeviceID:    deviceID,
		Topic:       topic,
		Payload:     payload,
	}
}

// Encode serializes the job for the work queue.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a job pulled from the work queue.
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode delivery job: %w", err)
	}
	return &job, nil
}

// DeadLetterRecord is the persisted trace of a job that exhausted its
// retry budget.
type DeadLetterRecord struct {
	TenantID    string              `json:"tenant_id"`
	RouteID     string              `json:"route_id"`
	Topic       string              `json:"original_topic"`
	Payload     json.RawMessage     `json:"payload"`
	Destination routing.Destination `json:"destination"`
	Error       string              `json:"error"`
	RecordedAt  time.Time           `json:"recorded_at"`
}
