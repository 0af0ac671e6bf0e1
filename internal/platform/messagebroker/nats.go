package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient wraps the NATS connection and its JetStream context. JetStream is
// used for all event traffic: a publish only succeeds once the server has
// durably accepted the message (the PubAck is the publisher confirm), and
// consumers get explicit ack/nak semantics for redelivery.
type NATSClient struct {
	Conn   *nats.Conn
	JS     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSClient connects to NATS and creates a JetStream context.
// natsURL example: "nats://localhost:4222".
func NewNATSClient(natsURL string, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("NATS connection closed", "error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	return &NATSClient{Conn: nc, JS: js, logger: logger}, nil
}

// EnsureStream creates or updates the stream retaining the given subjects.
func (c *NATSClient) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := c.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %q: %w", name, err)
	}
	return nil
}

// Publish sends data to the subject and waits for the server acknowledgment.
// The caller's context bounds the wait; a context timeout means the delivery is
// unconfirmed, never that it succeeded.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.JS.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %q: %w", subject, err)
	}
	return nil
}

// Consume attaches a durable consumer to the stream and invokes handler for
// every delivered message. The handler owns ack/nak. Consume returns a stop
// function; messages in flight when stop is called are redelivered later.
func (c *NATSClient) Consume(
	ctx context.Context,
	streamName string,
	durableName string,
	filterSubjects []string,
	handler func(msg jetstream.Msg),
) (func(), error) {
	cons, err := c.JS.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:        durableName,
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: filterSubjects,
		MaxDeliver:     -1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %q: %w", durableName, err)
	}

	cctx, err := cons.Consume(handler)
	if err != nil {
		return nil, fmt.Errorf("starting consume on %q: %w", durableName, err)
	}
	return cctx.Stop, nil
}

// Close drains the connection so buffered publishes are flushed before closing.
func (c *NATSClient) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		if err := c.Conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
			c.Conn.Close()
		}
	}
}
