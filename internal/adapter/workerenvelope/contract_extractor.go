package workerenvelope

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/internal/workerlogic"
)

// ContractExtractorEnvelope wraps the base envelope with the cascade
// described for the extractor worker: after publishing its own result, it
// either forwards a seller identifier to the sb topic, or synthesizes the
// sb_ai stub itself so the aggregator's expected set is guaranteed to drain
// even when no seller was found.
type ContractExtractorEnvelope struct {
	Broker       domain.Broker
	ResultsTopic string
	SBTopic      string
}

// Run starts consuming workTopic.
func (e ContractExtractorEnvelope) Run(ctx domain.Context, workTopic string) error {
	return e.Broker.Consume(ctx, workTopic, func(ctx domain.Context, msg domain.InboundMessage) error {
		return e.handle(ctx, msg)
	})
}

func (e ContractExtractorEnvelope) handle(ctx domain.Context, msg domain.InboundMessage) error {
	var item domain.WorkItemMessage
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		return fmt.Errorf("decode work item: %w", err)
	}

	extraction := workerlogic.ContractExtractor(item.Parts)

	if err := e.publishResult(ctx, item.TaskID, msg, domain.ServiceContractExtractor, extraction.Payload); err != nil {
		return fmt.Errorf("publish contract_extractor result: %w", err)
	}

	if extraction.HasSeller {
		return e.forwardToSB(ctx, item.TaskID, msg, extraction.Seller)
	}

	// No seller: emit the sb_ai stub directly rather than chaining to the sb
	// worker, so the task's expected set always drains.
	return e.publishResult(ctx, item.TaskID, msg, domain.ServiceSBAI, workerlogic.SBAIStub())
}

func (e ContractExtractorEnvelope) forwardToSB(ctx domain.Context, taskID string, msg domain.InboundMessage, seller string) error {
	body, err := json.Marshal(map[string]any{"task_id": taskID, "seller": seller})
	if err != nil {
		return fmt.Errorf("encode sb work item: %w", err)
	}
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = taskID
	}
	if err := e.Broker.Publish(ctx, e.SBTopic, domain.OutboundMessage{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       msg.ReplyTo,
	}); err != nil {
		return fmt.Errorf("publish sb work item: %w", err)
	}
	slog.Info("forwarded seller to sb worker", slog.String("task_id", taskID), slog.String("seller", seller))
	return nil
}

func (e ContractExtractorEnvelope) publishResult(ctx domain.Context, taskID string, msg domain.InboundMessage, service domain.ServiceTag, payload map[string]any) error {
	result := domain.WorkerResultMessage{TaskID: taskID, Service: service, Payload: payload}
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

// SBEnvelope is the sb worker: it receives a seller identifier forwarded by
// the extractor and publishes the fourth partial.
type SBEnvelope struct {
	Broker       domain.Broker
	ResultsTopic string
}

// Run starts consuming workTopic.
func (e SBEnvelope) Run(ctx domain.Context, workTopic string) error {
	return e.Broker.Consume(ctx, workTopic, func(ctx domain.Context, msg domain.InboundMessage) error {
		return e.handle(ctx, msg)
	})
}

func (e SBEnvelope) handle(ctx domain.Context, msg domain.InboundMessage) error {
	var item struct {
		TaskID string `json:"task_id"`
		Seller string `json:"seller"`
	}
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		return fmt.Errorf("decode sb work item: %w", err)
	}

	result := domain.WorkerResultMessage{
		TaskID:  item.TaskID,
		Service: domain.ServiceSBAI,
		Payload: workerlogic.SB(item.Seller),
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode sb result: %w", err)
	}
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = item.TaskID
	}
	return e.Broker.Publish(ctx, e.ResultsTopic, domain.OutboundMessage{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       msg.ReplyTo,
	})
}
