package workerenvelope

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/brokertest"
	"github.com/docpipe/docpipe/internal/domain"
)

func TestEnvelopePublishesResultOnSuccess(t *testing.T) {
	fb := brokertest.New()
	env := Envelope{
		Broker:       fb,
		Service:      domain.ServiceAILegal,
		ResultsTopic: "aggregation_results",
		Logic: func(parts domain.SectionMap) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}

	item := domain.NewWorkItemMessage("task-1", map[string]string{"part_0": "hi"}, "parts")
	body, err := json.Marshal(item)
	require.NoError(t, err)
	require.NoError(t, fb.Publish(context.Background(), "ai_legal_parts", domain.OutboundMessage{
		Body: body, CorrelationID: "task-1", ReplyTo: "reply.task-1",
	}))

	require.NoError(t, env.Run(context.Background(), "ai_legal_parts"))

	published := fb.Published
	require.Len(t, published, 2) // the test's own publish plus the envelope's
	last := published[len(published)-1]
	assert.Equal(t, "aggregation_results", last.Topic)
	var result domain.WorkerResultMessage
	require.NoError(t, json.Unmarshal(last.Msg.Body, &result))
	assert.Equal(t, domain.ServiceAILegal, result.Service)
	assert.Equal(t, true, result.Payload["ok"])
	assert.Equal(t, "task-1", last.Msg.CorrelationID)
	assert.Equal(t, "reply.task-1", last.Msg.ReplyTo)
}

func TestEnvelopePublishesErrorPayloadOnLogicFailure(t *testing.T) {
	fb := brokertest.New()
	env := Envelope{
		Broker:       fb,
		Service:      domain.ServiceAIEconom,
		ResultsTopic: "aggregation_results",
		Logic: func(parts domain.SectionMap) (map[string]any, error) {
			return nil, assertErr{}
		},
	}

	item := domain.NewWorkItemMessage("task-2", map[string]string{}, "parts")
	body, _ := json.Marshal(item)
	require.NoError(t, fb.Publish(context.Background(), "ai_econom_parts", domain.OutboundMessage{Body: body, CorrelationID: "task-2"}))

	require.NoError(t, env.Run(context.Background(), "ai_econom_parts"))

	last := fb.Published[len(fb.Published)-1]
	var result domain.WorkerResultMessage
	require.NoError(t, json.Unmarshal(last.Msg.Body, &result))
	assert.Contains(t, result.Payload, "error")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
