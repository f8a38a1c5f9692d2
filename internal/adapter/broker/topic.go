package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// errCodeTopicAlreadyExists is the Kafka protocol error code for
// TOPIC_ALREADY_EXISTS. https://kafka.apache.org/protocol#protocol_error_codes
const errCodeTopicAlreadyExists = 36

// DeclareDurable ensures a durable topic exists, tolerating a concurrent
// creator. Durable topics back every queue in the original design except
// reply queues.
func (c *Client) DeclareDurable(ctx context.Context, topic string) error {
	return createTopicIfNotExists(ctx, c.admin, topic, 1, 1)
}

// DeclareReplyTopic creates a single-partition topic scoped to one task,
// mirroring an exclusive auto-delete reply queue; no retention setting is
// applied, so the topic lives until cleanup deletes it. The returned
// cleanup deletes the topic; callers invoke it once they stop waiting for a
// reply, whether or not one arrived.
func (c *Client) DeclareReplyTopic(ctx context.Context, taskID string) (string, func(context.Context) error, error) {
	topic := "reply." + taskID
	if err := createTopicIfNotExists(ctx, c.admin, topic, 1, 1); err != nil {
		return "", nil, fmt.Errorf("declare reply topic: %w", err)
	}
	cleanup := func(cctx context.Context) error {
		return deleteTopic(cctx, c.admin, topic)
	}
	return topic, cleanup, nil
}

func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("create topic request: %w", err)
	}
	for _, t := range resp.Topics {
		if t.ErrorCode != 0 {
			if t.ErrorCode == errCodeTopicAlreadyExists {
				return nil
			}
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("create topic %s: %s (code %d)", topic, msg, t.ErrorCode)
		}
	}
	return nil
}

func deleteTopic(ctx context.Context, client *kgo.Client, topic string) error {
	req := kmsg.NewDeleteTopicsRequest()
	req.TimeoutMillis = 30000
	req.TopicNames = []string{topic}

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("delete topic request: %w", err)
	}
	for _, rt := range resp.Topics {
		if rt.ErrorCode != 0 {
			slog.Warn("delete reply topic failed", slog.String("topic", topic), slog.Int("code", int(rt.ErrorCode)))
		}
	}
	return nil
}
