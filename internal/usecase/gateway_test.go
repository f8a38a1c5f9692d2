package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/brokertest"
	"github.com/docpipe/docpipe/internal/domain"
)

// simulateAggregator watches the upload topic, decodes the task id and
// reply topic the gateway generated, and publishes a final envelope back,
// standing in for the dispatcher/workers/aggregator chain in these tests.
func simulateAggregator(t *testing.T, fb *brokertest.Fake, uploadTopic string, result map[domain.ServiceTag]any) {
	t.Helper()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = fb.Consume(ctx, uploadTopic, func(_ domain.Context, msg domain.InboundMessage) error {
			var upload domain.UploadMessage
			if err := json.Unmarshal(msg.Body, &upload); err != nil {
				return err
			}
			envelope := domain.FinalEnvelope{TaskID: upload.TaskID, Result: result}
			body, err := json.Marshal(envelope)
			if err != nil {
				return err
			}
			return fb.Publish(ctx, upload.ReplyTo, domain.OutboundMessage{Body: body, CorrelationID: upload.TaskID})
		})
	}()
}

func TestGatewaySubmitReturnsFinalEnvelope(t *testing.T) {
	fb := brokertest.New()
	g := GatewayService{Broker: fb, UploadTopic: "doc_upload", Timeout: time.Second}

	simulateAggregator(t, fb, "doc_upload", map[domain.ServiceTag]any{domain.ServiceAILegal: map[string]any{"ok": true}})

	envelope, err := g.Submit(context.Background(), "doc.docx", []byte("fake bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, envelope.TaskID)
	assert.Contains(t, envelope.Result, domain.ServiceAILegal)
}

func TestGatewaySubmitTimesOutWithoutAggregatorResponse(t *testing.T) {
	fb := brokertest.New()
	g := GatewayService{Broker: fb, UploadTopic: "doc_upload", Timeout: 10 * time.Millisecond}

	_, err := g.Submit(context.Background(), "doc.docx", []byte("fake bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestGatewaySubmitIgnoresUnrelatedCorrelationID(t *testing.T) {
	fb := brokertest.New()
	g := GatewayService{Broker: fb, UploadTopic: "doc_upload", Timeout: 300 * time.Millisecond}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = fb.Consume(ctx, "doc_upload", func(_ domain.Context, msg domain.InboundMessage) error {
			var upload domain.UploadMessage
			if err := json.Unmarshal(msg.Body, &upload); err != nil {
				return err
			}
			// Publish a stray envelope for an unrelated task first, then the
			// real one; the gateway must wait for its own correlation id.
			stray := domain.FinalEnvelope{TaskID: "someone-elses-task", Result: map[domain.ServiceTag]any{}}
			strayBody, _ := json.Marshal(stray)
			_ = fb.Publish(ctx, upload.ReplyTo, domain.OutboundMessage{Body: strayBody, CorrelationID: "someone-elses-task"})

			envelope := domain.FinalEnvelope{TaskID: upload.TaskID, Result: map[domain.ServiceTag]any{domain.ServiceSBAI: map[string]any{"status": 1}}}
			body, _ := json.Marshal(envelope)
			return fb.Publish(ctx, upload.ReplyTo, domain.OutboundMessage{Body: body, CorrelationID: upload.TaskID})
		})
	}()

	envelope, err := g.Submit(context.Background(), "doc.docx", []byte("fake bytes"))
	require.NoError(t, err)
	assert.Contains(t, envelope.Result, domain.ServiceSBAI)
}
