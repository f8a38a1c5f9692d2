//go:build integration

package broker_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/docpipe/docpipe/internal/adapter/broker"
	"github.com/docpipe/docpipe/internal/domain"
)

// startRedpanda brings up a single-node Redpanda container bound to a fixed
// host port, the same image and startup flags the source stack's own
// Kafka-compatible adapter tests against. Run with `go test -tags integration`
// against a Docker daemon; skipped otherwise.
func startRedpanda(t *testing.T) string {
	t.Helper()
	if os.Getenv("DOCKER_HOST") == "" {
		if _, err := os.Stat("/var/run/docker.sock"); err != nil {
			t.Skip("docker not available, skipping broker integration test")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const port = 19093
	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--node-id", "0",
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", port),
			"--default-log-level=error",
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", port)},
			}
		},
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("could not start redpanda container, skipping: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()
		_ = container.Terminate(cctx)
	})

	return fmt.Sprintf("localhost:%d", port)
}

// TestBrokerPublishConsumeRoundTrip exercises the real Kafka-compatible
// binding end to end: connect, declare a reply topic, publish a message with
// a correlation id, and consume it back out with a manual offset commit.
func TestBrokerPublishConsumeRoundTrip(t *testing.T) {
	brokerAddr := startRedpanda(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := broker.Connect(ctx, []string{brokerAddr}, broker.WithConsumerGroup("broker-integration-test"))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))

	topic, cleanup, err := client.DeclareReplyTopic(ctx, "integration-task-1")
	require.NoError(t, err)
	defer func() { _ = cleanup(ctx) }()

	require.NoError(t, client.Publish(ctx, topic, domain.OutboundMessage{
		Body:          []byte(`{"task_id":"integration-task-1","result":{}}`),
		CorrelationID: "integration-task-1",
	}))

	consumeCtx, consumeCancel := context.WithTimeout(ctx, 20*time.Second)
	defer consumeCancel()

	var received domain.InboundMessage
	err = client.Consume(consumeCtx, topic, func(_ domain.Context, msg domain.InboundMessage) error {
		received = msg
		consumeCancel()
		return nil
	})
	require.True(t, err == nil || consumeCtx.Err() != nil)
	require.Equal(t, "integration-task-1", received.CorrelationID)
	require.Contains(t, string(received.Body), "integration-task-1")
}
