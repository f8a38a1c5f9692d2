// Package stalesweep schedules the aggregator's per-task stale-timeout
// check on asynq, the same delayed-task library the source stack uses for
// its evaluation queue. Rather than a single periodic scan, one delayed task
// is scheduled per task id the moment its aggregation state is created; if
// the task completes normally beforehand, the delayed check later fires
// against an already-absent task id and is a no-op.
package stalesweep

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const taskTypeSweep = "aggregation:stale_sweep"

type sweepPayload struct {
	TaskID string `json:"task_id"`
}

// Sweeper schedules delayed stale-task checks via asynq and hands off fired
// checks to a Handler.
type Sweeper struct {
	client *asynq.Client
	delay  time.Duration
}

// Handler processes one fired stale-task check. Implemented by
// usecase.AggregatorService.
type Handler func(ctx context.Context, taskID string) error

// New connects to redisURL and returns a Sweeper that schedules checks after
// delay.
func New(redisURL string, delay time.Duration) (*Sweeper, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("stalesweep: parse redis uri: %w", err)
	}
	return &Sweeper{client: asynq.NewClient(opt), delay: delay}, nil
}

// ScheduleSweep enqueues a delayed check for taskID, deduplicated by task id
// so redelivery of the same init message doesn't pile up redundant checks.
func (s *Sweeper) ScheduleSweep(ctx context.Context, taskID string) error {
	body, err := json.Marshal(sweepPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("stalesweep: encode payload: %w", err)
	}
	t := asynq.NewTask(taskTypeSweep, body)
	_, err = s.client.EnqueueContext(ctx, t,
		asynq.ProcessIn(s.delay),
		asynq.TaskID("sweep:"+taskID),
		asynq.Retention(s.delay+time.Minute),
	)
	if err != nil && err != asynq.ErrTaskIDConflict {
		return fmt.Errorf("stalesweep: enqueue: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection.
func (s *Sweeper) Close() error { return s.client.Close() }

// Server runs the asynq worker loop that invokes handler for each fired
// sweep task.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer connects to redisURL and wires handler to the sweep task type.
func NewServer(redisURL string, concurrency int, handler Handler) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("stalesweep: parse redis uri: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeSweep, func(ctx context.Context, t *asynq.Task) error {
		var p sweepPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("stalesweep: decode payload: %w", err)
		}
		return handler(ctx, p.TaskID)
	})
	return &Server{server: srv, mux: mux}, nil
}

// Run blocks serving sweep tasks until the process is signalled to stop.
func (s *Server) Run() error { return s.server.Run(s.mux) }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() { s.server.Shutdown() }
