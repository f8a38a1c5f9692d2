package usecase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"

	obsctx "github.com/docpipe/docpipe/internal/observability"

	"github.com/docpipe/docpipe/internal/domain"
)

var (
	envelopeValidatorOnce sync.Once
	envelopeValidator     *validator.Validate
)

func getEnvelopeValidator() *validator.Validate {
	envelopeValidatorOnce.Do(func() { envelopeValidator = validator.New() })
	return envelopeValidator
}

// ErrGatewayTimeout is returned by GatewayService.Submit when the configured
// deadline elapses before a final envelope arrives on the task's reply topic.
var ErrGatewayTimeout = fmt.Errorf("%w: aggregation did not complete before the deadline", domain.ErrUpstreamTimeout)

// GatewayService bridges one HTTP upload to the asynchronous broker
// round-trip: allocate a reply topic, publish the upload, and wait for the
// correlated final envelope within a bounded deadline.
type GatewayService struct {
	Broker      domain.Broker
	UploadTopic string
	Timeout     time.Duration
}

// Submit publishes filename/content to the upload topic under a fresh
// task id and blocks until the corresponding final envelope arrives or the
// deadline elapses.
func (g GatewayService) Submit(ctx domain.Context, filename string, content []byte) (domain.FinalEnvelope, error) {
	tr := otel.Tracer("usecase.gateway")
	ctx, span := tr.Start(ctx, "GatewayService.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	taskID := NewTaskID()

	replyTopic, cleanup, err := g.Broker.DeclareReplyTopic(ctx, taskID)
	if err != nil {
		return domain.FinalEnvelope{}, fmt.Errorf("declare reply topic: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := contextWithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cleanup(cleanupCtx); err != nil {
			lg.Warn("reply topic cleanup failed", slog.String("task_id", taskID), slog.Any("error", err))
		}
	}()

	upload := domain.UploadMessage{
		TaskID:   taskID,
		Filename: filename,
		Content:  base64.StdEncoding.EncodeToString(content),
		ReplyTo:  replyTopic,
	}
	body, err := json.Marshal(upload)
	if err != nil {
		return domain.FinalEnvelope{}, fmt.Errorf("encode upload message: %w", err)
	}

	if err := g.Broker.Publish(ctx, g.UploadTopic, domain.OutboundMessage{
		Body: body, CorrelationID: taskID, ReplyTo: replyTopic,
	}); err != nil {
		return domain.FinalEnvelope{}, fmt.Errorf("publish upload: %w", err)
	}

	lg.Info("upload dispatched, awaiting aggregation", slog.String("task_id", taskID))

	envelope, err := g.awaitEnvelope(ctx, taskID, replyTopic)
	if err != nil {
		return domain.FinalEnvelope{}, err
	}
	return envelope, nil
}

// awaitEnvelope consumes replyTopic until the first message matching taskID
// arrives or the gateway's timeout elapses. A real broker binding's Consume
// blocks internally on PollRecords across every batch until its context is
// cancelled, so the handler below cancels waitCtx itself the instant a
// matching envelope is found instead of merely returning nil; otherwise
// Submit would block for the full gateway timeout on every successful
// upload. The outer loop only matters against a broker (such as the
// in-memory test fake) whose Consume call returns after a single batch,
// where an unrelated message sharing the topic must not end the wait.
func (g GatewayService) awaitEnvelope(ctx domain.Context, taskID, replyTopic string) (domain.FinalEnvelope, error) {
	deadline := g.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	waitCtx, cancel := contextWithTimeout(ctx, deadline)
	defer cancel()

	for {
		var found *domain.FinalEnvelope
		err := g.Broker.Consume(waitCtx, replyTopic, func(_ domain.Context, msg domain.InboundMessage) error {
			if msg.CorrelationID != "" && msg.CorrelationID != taskID {
				return nil
			}
			var envelope domain.FinalEnvelope
			if err := json.Unmarshal(msg.Body, &envelope); err != nil {
				return fmt.Errorf("decode final envelope: %w", err)
			}
			if err := getEnvelopeValidator().Struct(envelope); err != nil {
				return fmt.Errorf("%w: final envelope: %v", domain.ErrSchemaInvalid, err)
			}
			found = &envelope
			cancel()
			return nil
		})
		if found != nil {
			return *found, nil
		}
		if err != nil {
			if waitCtx.Err() != nil {
				obsctx.GatewayTimeoutsTotal.Inc()
				return domain.FinalEnvelope{}, ErrGatewayTimeout
			}
			return domain.FinalEnvelope{}, fmt.Errorf("consume reply topic: %w", err)
		}
		if waitCtx.Err() != nil {
			obsctx.GatewayTimeoutsTotal.Inc()
			return domain.FinalEnvelope{}, ErrGatewayTimeout
		}
	}
}
