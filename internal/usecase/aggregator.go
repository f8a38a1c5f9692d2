package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	obsctx "github.com/docpipe/docpipe/internal/observability"
	"go.opentelemetry.io/otel"

	"github.com/docpipe/docpipe/internal/domain"
)

// StaleSweeper schedules a delayed check for one task, fired after the
// configured stale-task timeout. Implementations need not cancel a
// previously scheduled sweep; firing against an already-completed task is a
// no-op because its state has already been deleted.
type StaleSweeper interface {
	ScheduleSweep(ctx domain.Context, taskID string) error
}

// AggregatorService tracks each task's expected/received service sets and
// emits exactly one final envelope per task, per the reconciliation rules in
// the component design: init messages create or widen a task's expected
// set and emit only if that set is left empty; partials narrow it and emit
// once it empties.
type AggregatorService struct {
	Broker  domain.Broker
	Sweeper StaleSweeper

	mu     sync.Mutex
	states map[string]*taskEntry
}

type taskEntry struct {
	mu    sync.Mutex
	state *domain.AggregationState
}

// NewAggregatorService constructs an AggregatorService ready for use.
func NewAggregatorService(broker domain.Broker, sweeper StaleSweeper) *AggregatorService {
	return &AggregatorService{Broker: broker, Sweeper: sweeper, states: make(map[string]*taskEntry)}
}

func (a *AggregatorService) entry(taskID string) *taskEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.states[taskID]
	if !ok {
		e = &taskEntry{}
		a.states[taskID] = e
	}
	return e
}

func (a *AggregatorService) drop(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, taskID)
}

// HandleInit processes an aggregation-init message. It emits only when the
// resulting expected set is empty: an init listing no services, or one whose
// services have all been received already.
func (a *AggregatorService) HandleInit(ctx domain.Context, msg domain.AggregationInitMessage) error {
	tr := otel.Tracer("usecase.aggregator")
	ctx, span := tr.Start(ctx, "AggregatorService.HandleInit")
	defer span.End()

	e := a.entry(msg.TaskID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		e.state = domain.NewAggregationState(msg.TaskID)
		e.state.ReplyTo = msg.ReplyTo
		for _, svc := range msg.ExpectedServices {
			e.state.Expected[svc] = struct{}{}
		}
		if a.Sweeper != nil {
			if err := a.Sweeper.ScheduleSweep(ctx, msg.TaskID); err != nil {
				obsctx.LoggerFromContext(ctx).Warn("schedule stale sweep failed",
					slog.String("task_id", msg.TaskID), slog.Any("error", err))
			}
		}
		if len(e.state.Expected) == 0 {
			a.emitLocked(ctx, e, false)
		}
		return nil
	}

	// State already exists, most likely because a partial for this task
	// already arrived before its init. Widen expected with anything not
	// already satisfied, update reply_to if given, and emit if the
	// (possibly empty) expected set is already fully drained.
	if msg.ReplyTo != "" {
		e.state.ReplyTo = msg.ReplyTo
	}
	for _, svc := range msg.ExpectedServices {
		if _, alreadyReceived := e.state.Received[svc]; alreadyReceived {
			continue
		}
		e.state.Expected[svc] = struct{}{}
	}
	if len(e.state.Expected) == 0 {
		a.emitLocked(ctx, e, false)
	}
	return nil
}

// HandlePartial processes one worker's result message. Emission only fires
// on the transition from "this service was expected" to "expected is now
// empty" — a partial for a service nobody has declared expected yet (it
// arrived before the init message) is stored and retained, not treated as
// completion.
func (a *AggregatorService) HandlePartial(ctx domain.Context, msg domain.WorkerResultMessage) error {
	tr := otel.Tracer("usecase.aggregator")
	ctx, span := tr.Start(ctx, "AggregatorService.HandlePartial")
	defer span.End()

	e := a.entry(msg.TaskID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		e.state = domain.NewAggregationState(msg.TaskID)
		if a.Sweeper != nil {
			if err := a.Sweeper.ScheduleSweep(ctx, msg.TaskID); err != nil {
				obsctx.LoggerFromContext(ctx).Warn("schedule stale sweep failed",
					slog.String("task_id", msg.TaskID), slog.Any("error", err))
			}
		}
	}
	_, wasExpected := e.state.Expected[msg.Service]
	e.state.Received[msg.Service] = msg.Payload
	delete(e.state.Expected, msg.Service)

	if wasExpected && len(e.state.Expected) == 0 {
		a.emitLocked(ctx, e, false)
	}
	return nil
}

// Sweep is invoked by the stale-task timer. If the task is still resident it
// emits a partial final envelope marked Stale and discards the state;
// otherwise it is a no-op (the task already completed normally).
func (a *AggregatorService) Sweep(ctx domain.Context, taskID string) error {
	e := a.entry(taskID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		a.drop(taskID)
		return nil
	}
	obsctx.LoggerFromContext(ctx).Warn("stale task evicted",
		slog.String("task_id", taskID),
		slog.Any("still_expected", pendingServices(e.state)))
	obsctx.AggregationStaleSweepsTotal.Inc()
	a.emitLocked(ctx, e, true)
	return nil
}

// emitLocked publishes the final envelope and clears the in-memory state. The
// caller must hold e.mu.
func (a *AggregatorService) emitLocked(ctx domain.Context, e *taskEntry, stale bool) {
	state := e.state
	e.state = nil
	a.drop(state.TaskID)

	if state.ReplyTo == "" {
		return
	}

	envelope := domain.FinalEnvelope{TaskID: state.TaskID, Result: state.Merge(), Stale: stale}
	body, err := json.Marshal(envelope)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Error("marshal final envelope failed",
			slog.String("task_id", state.TaskID), slog.Any("error", err))
		return
	}
	if err := a.Broker.Publish(ctx, state.ReplyTo, domain.OutboundMessage{
		Body:          body,
		CorrelationID: state.TaskID,
	}); err != nil {
		obsctx.LoggerFromContext(ctx).Error("publish final envelope failed",
			slog.String("task_id", state.TaskID), slog.Any("error", err))
	}
}

func pendingServices(s *domain.AggregationState) []domain.ServiceTag {
	out := make([]domain.ServiceTag, 0, len(s.Expected))
	for tag := range s.Expected {
		out = append(out, tag)
	}
	return out
}

// RunInit consumes the aggregation-tasks (init) topic.
func (a *AggregatorService) RunInit(ctx domain.Context, topic string) error {
	return a.Broker.Consume(ctx, topic, func(ctx domain.Context, msg domain.InboundMessage) error {
		var init domain.AggregationInitMessage
		if err := json.Unmarshal(msg.Body, &init); err != nil {
			return fmt.Errorf("decode aggregation init: %w", err)
		}
		if init.TaskID == "" {
			init.TaskID = msg.CorrelationID
		}
		return a.HandleInit(ctx, init)
	})
}

// RunResults consumes the shared results topic.
func (a *AggregatorService) RunResults(ctx domain.Context, topic string) error {
	return a.Broker.Consume(ctx, topic, func(ctx domain.Context, msg domain.InboundMessage) error {
		var result domain.WorkerResultMessage
		if err := json.Unmarshal(msg.Body, &result); err != nil {
			return fmt.Errorf("decode worker result: %w", err)
		}
		if result.TaskID == "" {
			result.TaskID = msg.CorrelationID
		}
		return a.HandlePartial(ctx, result)
	})
}
