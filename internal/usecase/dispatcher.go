// Package usecase wires the domain ports into the application's core flows:
// slicing and fanning out an upload, aggregating worker partials, and
// bridging an HTTP caller to the asynchronous round-trip. It mirrors the
// source stack's usecase package: thin orchestration over injected ports,
// structured logging, and otel spans, with no transport or storage details
// of its own.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	obsctx "github.com/docpipe/docpipe/internal/observability"
	"go.opentelemetry.io/otel"

	"github.com/docpipe/docpipe/internal/domain"
)

// DispatcherService turns one uploaded document into the aggregation-init
// message and its worker-specific fan-out, per the fixed routing below.
type DispatcherService struct {
	Broker domain.Broker
	Slicer domain.Slicer
	Audit  domain.AuditTrail

	DataDir string

	LegalTopic     string
	EconomTopic    string
	ExtractorTopic string
	AggTasksTopic  string

	EconomSections    []string
	ExtractorSections []string
}

// Run consumes uploadTopic and dispatches each delivery. It blocks until ctx
// is cancelled or the broker binding returns an error.
func (d DispatcherService) Run(ctx domain.Context, uploadTopic string) error {
	return d.Broker.Consume(ctx, uploadTopic, func(ctx domain.Context, msg domain.InboundMessage) error {
		var upload domain.UploadMessage
		if err := json.Unmarshal(msg.Body, &upload); err != nil {
			return fmt.Errorf("decode upload message: %w", err)
		}
		if upload.ReplyTo == "" {
			upload.ReplyTo = msg.ReplyTo
		}
		return d.HandleUpload(ctx, upload)
	})
}

// HandleUpload slices msg's content and publishes the init message followed
// by the three worker-specific work items, all stamped with msg.TaskID.
func (d DispatcherService) HandleUpload(ctx domain.Context, msg domain.UploadMessage) error {
	tr := otel.Tracer("usecase.dispatcher")
	ctx, span := tr.Start(ctx, "DispatcherService.HandleUpload")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	lg.Info("dispatching upload", slog.String("task_id", msg.TaskID), slog.String("filename", msg.Filename))

	content, err := decodeContent(msg.Content)
	if err != nil {
		return fmt.Errorf("%w: decode upload content: %v", domain.ErrInvalidArgument, err)
	}

	parts, err := d.Slicer.Slice(ctx, msg.Filename, content)
	if err != nil {
		return fmt.Errorf("slice document: %w", err)
	}

	d.persist(ctx, msg.TaskID, parts)
	d.recordAudit(ctx, msg.TaskID, "sliced", "")

	if err := d.publishInit(ctx, msg.TaskID, msg.ReplyTo); err != nil {
		return fmt.Errorf("publish aggregation init: %w", err)
	}

	if err := d.publishWorkItem(ctx, d.LegalTopic, msg.TaskID, msg.ReplyTo, parts, "parts"); err != nil {
		return fmt.Errorf("publish legal work item: %w", err)
	}
	d.recordAudit(ctx, msg.TaskID, "dispatched", string(domain.ServiceAILegal))

	if err := d.publishWorkItem(ctx, d.EconomTopic, msg.TaskID, msg.ReplyTo, filterSections(parts, d.EconomSections), "parts"); err != nil {
		return fmt.Errorf("publish econom work item: %w", err)
	}
	d.recordAudit(ctx, msg.TaskID, "dispatched", string(domain.ServiceAIEconom))

	if err := d.publishWorkItem(ctx, d.ExtractorTopic, msg.TaskID, msg.ReplyTo, filterSections(parts, d.ExtractorSections), "sections"); err != nil {
		return fmt.Errorf("publish extractor work item: %w", err)
	}
	d.recordAudit(ctx, msg.TaskID, "dispatched", string(domain.ServiceContractExtractor))

	return nil
}

func (d DispatcherService) publishInit(ctx domain.Context, taskID, replyTo string) error {
	init := domain.AggregationInitMessage{
		TaskID:           taskID,
		ReplyTo:          replyTo,
		ExpectedServices: domain.FixedServiceTags,
	}
	body, err := json.Marshal(init)
	if err != nil {
		return err
	}
	return d.Broker.Publish(ctx, d.AggTasksTopic, domain.OutboundMessage{
		Body:          body,
		CorrelationID: taskID,
		ReplyTo:       replyTo,
	})
}

func (d DispatcherService) publishWorkItem(ctx domain.Context, topic, taskID, replyTo string, parts domain.SectionMap, key string) error {
	item := domain.NewWorkItemMessage(taskID, parts, key)
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return d.Broker.Publish(ctx, topic, domain.OutboundMessage{
		Body:          body,
		CorrelationID: taskID,
		ReplyTo:       replyTo,
	})
}

// persist best-effort writes sections.json and part_16.json to DataDir.
// Failures are logged and swallowed; this state is purely observational and
// never read back by the pipeline.
func (d DispatcherService) persist(ctx domain.Context, taskID string, parts domain.SectionMap) {
	if d.DataDir == "" {
		return
	}
	lg := obsctx.LoggerFromContext(ctx)
	dir := filepath.Join(d.DataDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		lg.Warn("persist sections: mkdir failed", slog.String("task_id", taskID), slog.Any("error", err))
		return
	}
	if err := writeJSONFile(filepath.Join(dir, "sections.json"), parts); err != nil {
		lg.Warn("persist sections.json failed", slog.String("task_id", taskID), slog.Any("error", err))
	}
	part16 := map[string]string{"part_16": parts[domain.SectionKey(16)]}
	if err := writeJSONFile(filepath.Join(dir, "part_16.json"), part16); err != nil {
		lg.Warn("persist part_16.json failed", slog.String("task_id", taskID), slog.Any("error", err))
	}
}

func (d DispatcherService) recordAudit(ctx domain.Context, taskID, event, service string) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Record(ctx, taskID, event, service); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("audit record failed",
			slog.String("task_id", taskID), slog.String("event", event), slog.Any("error", err))
	}
}

func writeJSONFile(path string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// filterSections returns a new map containing only the requested keys,
// defaulting to the empty string for keys not present in full.
func filterSections(full domain.SectionMap, keys []string) domain.SectionMap {
	out := make(domain.SectionMap, len(keys))
	for _, k := range keys {
		out[k] = full[k]
	}
	return out
}
