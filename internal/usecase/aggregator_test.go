package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/brokertest"
	"github.com/docpipe/docpipe/internal/domain"
)

type recordingSweeper struct {
	scheduled []string
}

func (r *recordingSweeper) ScheduleSweep(_ domain.Context, taskID string) error {
	r.scheduled = append(r.scheduled, taskID)
	return nil
}

func TestAggregatorEmitsOnceAllPartialsArrive(t *testing.T) {
	fb := brokertest.New()
	sweeper := &recordingSweeper{}
	agg := NewAggregatorService(fb, sweeper)
	ctx := context.Background()

	require.NoError(t, agg.HandleInit(ctx, domain.AggregationInitMessage{
		TaskID: "t1", ReplyTo: "reply.t1", ExpectedServices: domain.FixedServiceTags,
	}))
	assert.Contains(t, sweeper.scheduled, "t1")
	assert.Empty(t, fb.Published)

	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t1", Service: domain.ServiceAILegal, Payload: map[string]any{"a": 1}}))
	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t1", Service: domain.ServiceAIEconom, Payload: map[string]any{"b": 2}}))
	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t1", Service: domain.ServiceContractExtractor, Payload: map[string]any{"c": 3}}))
	assert.Empty(t, fb.Published)

	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t1", Service: domain.ServiceSBAI, Payload: map[string]any{"d": 4}}))

	require.Len(t, fb.Published, 1)
	assert.Equal(t, "reply.t1", fb.Published[0].Topic)
	var envelope domain.FinalEnvelope
	require.NoError(t, json.Unmarshal(fb.Published[0].Msg.Body, &envelope))
	assert.Equal(t, "t1", envelope.TaskID)
	assert.False(t, envelope.Stale)
	assert.Len(t, envelope.Result, 4)
}

func TestAggregatorPartialBeforeInit(t *testing.T) {
	fb := brokertest.New()
	agg := NewAggregatorService(fb, nil)
	ctx := context.Background()

	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t2", Service: domain.ServiceAILegal, Payload: map[string]any{}}))
	assert.Empty(t, fb.Published)

	require.NoError(t, agg.HandleInit(ctx, domain.AggregationInitMessage{
		TaskID: "t2", ReplyTo: "reply.t2", ExpectedServices: []domain.ServiceTag{domain.ServiceAIEconom},
	}))

	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t2", Service: domain.ServiceAIEconom, Payload: map[string]any{}}))

	require.Len(t, fb.Published, 1)
	var envelope domain.FinalEnvelope
	require.NoError(t, json.Unmarshal(fb.Published[0].Msg.Body, &envelope))
	// The ai_legal partial that arrived before init still appears in the
	// final envelope under its own tag even though it was never "expected".
	assert.Contains(t, envelope.Result, domain.ServiceAILegal)
}

func TestAggregatorZeroExpectedServicesEmitsImmediatelyOnInit(t *testing.T) {
	fb := brokertest.New()
	agg := NewAggregatorService(fb, nil)
	ctx := context.Background()

	require.NoError(t, agg.HandleInit(ctx, domain.AggregationInitMessage{
		TaskID: "t3", ReplyTo: "reply.t3", ExpectedServices: []domain.ServiceTag{},
	}))

	require.Len(t, fb.Published, 1)
	var envelope domain.FinalEnvelope
	require.NoError(t, json.Unmarshal(fb.Published[0].Msg.Body, &envelope))
	assert.Len(t, envelope.Result, 4)
	for _, tag := range domain.FixedServiceTags {
		assert.Equal(t, map[string]any{}, envelope.Result[tag])
	}
}

func TestAggregatorDuplicatePartialIsIdempotent(t *testing.T) {
	fb := brokertest.New()
	agg := NewAggregatorService(fb, nil)
	ctx := context.Background()

	require.NoError(t, agg.HandleInit(ctx, domain.AggregationInitMessage{
		TaskID: "t4", ReplyTo: "reply.t4", ExpectedServices: []domain.ServiceTag{domain.ServiceAILegal},
	}))
	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t4", Service: domain.ServiceAILegal, Payload: map[string]any{"v": 1}}))
	require.Len(t, fb.Published, 1)

	// A duplicate partial for the same (task, service) after completion
	// creates a fresh state (since the first was deleted on emission) but
	// must not produce a second reply to the now-stale reply topic set
	// without a new init — exercising the "locate or create" path.
	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t4", Service: domain.ServiceAILegal, Payload: map[string]any{"v": 1}}))
	assert.Len(t, fb.Published, 1, "a duplicate partial after completion must not emit a second final envelope to a known reply_to")
}

func TestAggregatorStaleSweepEmitsPartialEnvelope(t *testing.T) {
	fb := brokertest.New()
	agg := NewAggregatorService(fb, nil)
	ctx := context.Background()

	require.NoError(t, agg.HandleInit(ctx, domain.AggregationInitMessage{
		TaskID: "t5", ReplyTo: "reply.t5", ExpectedServices: domain.FixedServiceTags,
	}))
	require.NoError(t, agg.HandlePartial(ctx, domain.WorkerResultMessage{TaskID: "t5", Service: domain.ServiceAILegal, Payload: map[string]any{"ok": true}}))

	require.NoError(t, agg.Sweep(ctx, "t5"))

	require.Len(t, fb.Published, 1)
	var envelope domain.FinalEnvelope
	require.NoError(t, json.Unmarshal(fb.Published[0].Msg.Body, &envelope))
	assert.True(t, envelope.Stale)
	assert.Equal(t, map[string]any{"ok": true}, envelope.Result[domain.ServiceAILegal])
	assert.Equal(t, map[string]any{}, envelope.Result[domain.ServiceAIEconom])

	// Sweeping again (task already gone) is a no-op.
	require.NoError(t, agg.Sweep(ctx, "t5"))
	assert.Len(t, fb.Published, 1)
}
