package broker

import (
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/internal/observability"
)

const (
	headerCorrelationID = "correlation_id"
	headerReplyTo       = "reply_to"
	headerContentType   = "content_type"
	contentTypeJSON     = "application/json"
)

// Publish sends msg to topic with persistent delivery, stamping the
// correlation id and optional reply-to as record headers.
func (c *Client) Publish(ctx domain.Context, topic string, msg domain.OutboundMessage) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.CorrelationID),
		Value: msg.Body,
		Headers: []kgo.RecordHeader{
			{Key: headerCorrelationID, Value: []byte(msg.CorrelationID)},
			{Key: headerContentType, Value: []byte(contentTypeJSON)},
		},
	}
	if msg.ReplyTo != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: headerReplyTo, Value: []byte(msg.ReplyTo)})
	}

	result := c.producer.ProduceSync(ctx, record)
	observability.RecordPublish(topic, result.FirstErr())
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func headerValue(headers []kgo.RecordHeader, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
