package broker

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/internal/observability"
)

// recordCounter tracks per-offset retry counts for the lifetime of one
// Consume loop. Kafka redelivery is offset-based, not header-based: a failed,
// uncommitted record simply reappears on the next poll, so the retry count
// has to be tracked locally rather than round-tripped through the broker.
type recordCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordCounter() *recordCounter {
	return &recordCounter{counts: make(map[string]int)}
}

func (r *recordCounter) increment(rec *kgo.Record) int {
	key := rec.Topic + "/" + strconv.Itoa(int(rec.Partition)) + "/" + strconv.FormatInt(rec.Offset, 10)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
	return r.counts[key]
}

func (r *recordCounter) forget(rec *kgo.Record) {
	key := rec.Topic + "/" + strconv.Itoa(int(rec.Partition)) + "/" + strconv.FormatInt(rec.Offset, 10)
	r.mu.Lock()
	delete(r.counts, key)
	r.mu.Unlock()
}

// Consume binds to topic under the client's consumer group and invokes
// handler for each delivery, honoring the configured prefetch bound.
// A handler returning nil commits the offset (ack); a handler returning an
// error leaves the offset uncommitted so the broker redelivers it, unless
// the delivery has already been redelivered maxRetries times, in which case
// it is routed to "<topic>.dlq" and the offset is committed anyway so a
// single poison payload cannot stall the partition.
func (c *Client) Consume(ctx domain.Context, topic string, handler domain.ConsumeHandler) error {
	cl, err := c.NewConsumerClient(c.groupID, topic)
	if err != nil {
		return fmt.Errorf("consumer client for %s: %w", topic, err)
	}
	defer cl.Close()

	if err := c.DeclareDurable(ctx, topic); err != nil {
		slog.Warn("declare durable topic failed, continuing", slog.String("topic", topic), slog.Any("error", err))
	}
	dlqTopic := topic + ".dlq"
	if err := c.DeclareDurable(ctx, dlqTopic); err != nil {
		slog.Warn("declare dlq topic failed, continuing", slog.String("topic", dlqTopic), slog.Any("error", err))
	}

	sem := make(chan struct{}, c.prefetch)
	var wg sync.WaitGroup
	retries := newRecordCounter()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		fetches := cl.PollRecords(ctx, c.prefetch)
		if fetches.IsClientClosed() {
			wg.Wait()
			return nil
		}
		fetches.EachError(func(t string, p int32, err error) {
			slog.Error("fetch error", slog.String("topic", t), slog.Int("partition", int(p)), slog.Any("error", err))
		})

		records := fetches.Records()
		for _, record := range records {
			sem <- struct{}{}
			wg.Add(1)
			go func(rec *kgo.Record) {
				defer wg.Done()
				defer func() { <-sem }()
				c.processRecord(ctx, cl, rec, dlqTopic, handler, retries)
			}(record)
		}
		wg.Wait()
	}
}

func (c *Client) processRecord(ctx domain.Context, cl *kgo.Client, rec *kgo.Record, dlqTopic string, handler domain.ConsumeHandler, retries *recordCounter) {
	msg := domain.InboundMessage{
		Body:          rec.Value,
		CorrelationID: headerValue(rec.Headers, headerCorrelationID),
		ReplyTo:       headerValue(rec.Headers, headerReplyTo),
	}

	err := handler(ctx, msg)
	observability.RecordConsume(rec.Topic, err)
	if err == nil {
		retries.forget(rec)
		if cerr := cl.CommitRecords(ctx, rec); cerr != nil {
			slog.Error("commit failed", slog.String("topic", rec.Topic), slog.Any("error", cerr))
		}
		return
	}

	attempt := retries.increment(rec)
	slog.Warn("handler failed", slog.String("topic", rec.Topic), slog.Int("attempt", attempt), slog.Any("error", err))
	if attempt >= c.maxRetries {
		c.deadLetter(ctx, rec, dlqTopic, err)
		retries.forget(rec)
		if cerr := cl.CommitRecords(ctx, rec); cerr != nil {
			slog.Error("commit after dead-letter failed", slog.String("topic", rec.Topic), slog.Any("error", cerr))
		}
		return
	}
	// Leave the offset uncommitted: the broker's native redelivery owns retry.
}

func (c *Client) deadLetter(ctx domain.Context, rec *kgo.Record, dlqTopic string, cause error) {
	headers := append([]kgo.RecordHeader{}, rec.Headers...)
	headers = append(headers, kgo.RecordHeader{Key: "x-dlq-reason", Value: []byte(cause.Error())})
	out := &kgo.Record{
		Topic:   dlqTopic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	}
	if res := c.producer.ProduceSync(ctx, out); res.FirstErr() != nil {
		slog.Error("dead-letter publish failed", slog.String("topic", dlqTopic), slog.Any("error", res.FirstErr()))
	}
}
