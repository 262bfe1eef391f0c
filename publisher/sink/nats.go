package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/flockdb/flock/cfg"
	"github.com/flockdb/flock/publisher"
)

// RealmHeader carries the originating realm path on every message so
// consumers can route without decoding the payload.
const RealmHeader = "Flock-Realm"

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes events to NATS JetStream
type NatsSink struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu      sync.Mutex
	ensured map[string]bool // subjects whose stream exists
}

// NewNatsSink connects to the given NATS server.
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, ensured: make(map[string]bool)}, nil
}

// Publish sends one message to JetStream, creating the stream for the
// subject on first use.
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	if _, err := n.js.PublishMsg(ctx, natsMessage(topic, key, value)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	done := n.ensured[topic]
	n.mu.Unlock()
	if done {
		return nil
	}

	streamName := streamNameFor(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.mu.Lock()
	n.ensured[topic] = true
	n.mu.Unlock()
	return nil
}

// Close releases the NATS connection.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// natsMessage builds the wire message: payload in the body, realm key in
// the header.
func natsMessage(topic, key string, value []byte) *nats.Msg {
	return &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{RealmHeader: []string{key}},
	}
}

// streamNameFor maps a subject to a valid stream name; stream names may
// not contain ".".
func streamNameFor(topic string) string {
	result := []byte(topic)
	for i, c := range result {
		if c == '.' {
			result[i] = '_'
		}
	}
	return string(result)
}
