// Package workerenvelope implements the shared contract every analysis
// worker follows: bind to one durable work topic, decode a task's section
// subset, run domain logic, and publish exactly one partial result to the
// shared results topic, preserving the delivery's correlation id and
// reply-to. A domain-logic failure still produces a result, carrying
// {"error": "..."} rather than crashing the worker.
package workerenvelope

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/docpipe/docpipe/internal/domain"
)

// Logic runs one worker's domain-specific analysis over its section subset.
type Logic func(parts domain.SectionMap) (map[string]any, error)

// Envelope wires a Logic function to its durable work topic and the shared
// results topic.
type Envelope struct {
	Broker       domain.Broker
	Service      domain.ServiceTag
	ResultsTopic string
	Logic        Logic
}

// Run starts consuming WorkTopic; it blocks until ctx is cancelled or the
// broker binding returns an error.
func (e Envelope) Run(ctx domain.Context, workTopic string) error {
	return e.Broker.Consume(ctx, workTopic, func(ctx domain.Context, msg domain.InboundMessage) error {
		return e.handle(ctx, msg)
	})
}

func (e Envelope) handle(ctx domain.Context, msg domain.InboundMessage) error {
	var item domain.WorkItemMessage
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		return fmt.Errorf("decode work item: %w", err)
	}

	payload, err := e.Logic(item.Parts)
	if err != nil {
		slog.Warn("worker domain logic failed, publishing error payload",
			slog.String("service", string(e.Service)),
			slog.String("task_id", item.TaskID),
			slog.Any("error", err))
		payload = map[string]any{"error": err.Error()}
	}

	return e.publishResult(ctx, item.TaskID, msg, payload)
}

func (e Envelope) publishResult(ctx domain.Context, taskID string, msg domain.InboundMessage, payload map[string]any) error {
	result := domain.WorkerResultMessage{TaskID: taskID, Service: e.Service, Payload: payload}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = taskID
	}
	return e.Broker.Publish(ctx, e.ResultsTopic, domain.OutboundMessage{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       msg.ReplyTo,
	})
}
