// Package brokertest provides an in-process fake of domain.Broker for unit
// tests that don't need a running cluster. Consume polls its topic's queue
// until at least one message is available (or ctx is done), drains exactly
// that batch through handler, and returns — it does not keep polling for
// further messages after a successful batch, so tests can drive exact
// message sequences without an explicit stop signal.
package brokertest

import (
	"sync"
	"time"

	"github.com/docpipe/docpipe/internal/domain"
)

// pollInterval bounds how often Consume rechecks an empty queue.
const pollInterval = 2 * time.Millisecond

// Fake is a minimal in-memory domain.Broker.
type Fake struct {
	mu        sync.Mutex
	queues    map[string][]domain.InboundMessage
	Published []Published
	replySeq  int
}

// Published records one Publish call for assertions.
type Published struct {
	Topic string
	Msg   domain.OutboundMessage
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{queues: make(map[string][]domain.InboundMessage)}
}

// Publish enqueues msg onto topic and records it for assertions.
func (f *Fake) Publish(_ domain.Context, topic string, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, Published{Topic: topic, Msg: msg})
	f.queues[topic] = append(f.queues[topic], domain.InboundMessage{
		Body:          msg.Body,
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
	})
	return nil
}

// Consume waits for the next non-empty batch queued for topic, drains it
// through handler in FIFO order, then returns. It stops and returns the
// first handler error without draining the rest of the batch (the fake does
// not retry or dead-letter). If ctx is done before any message arrives, it
// returns ctx.Err().
func (f *Fake) Consume(ctx domain.Context, topic string, handler domain.ConsumeHandler) error {
	for {
		f.mu.Lock()
		pending := f.queues[topic]
		f.queues[topic] = nil
		f.mu.Unlock()

		if len(pending) > 0 {
			for _, msg := range pending {
				if err := handler(ctx, msg); err != nil {
					return err
				}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// DeclareReplyTopic returns a deterministic per-task topic name and a no-op
// cleanup; the fake never actually deletes anything.
func (f *Fake) DeclareReplyTopic(_ domain.Context, taskID string) (string, func(domain.Context) error, error) {
	f.mu.Lock()
	f.replySeq++
	f.mu.Unlock()
	topic := "reply." + taskID
	return topic, func(domain.Context) error { return nil }, nil
}

// Queued returns a copy of whatever is currently queued for topic, without
// draining it, useful for assertions after a Publish.
func (f *Fake) Queued(topic string) []domain.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InboundMessage, len(f.queues[topic]))
	copy(out, f.queues[topic])
	return out
}
