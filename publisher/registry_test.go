package publisher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/cfg"
	"github.com/flockdb/flock/notifier"
	"github.com/flockdb/flock/store"
)

func init() {
	RegisterSink("recording", func(config cfg.SinkConfiguration) (Sink, error) {
		return registryTestSink, nil
	})
}

// Shared by the "recording" factory; tests reset it before use.
var registryTestSink = &mockSink{}

func recordingSinkConfig(name string) cfg.SinkConfiguration {
	return cfg.SinkConfiguration{
		Name:           name,
		Type:           "recording",
		Format:         "json",
		TopicPrefix:    "flock.events",
		PollIntervalMS: 5,
	}
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "x", Type: "no-such-type", Format: "json"}},
	})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "x", Type: "recording", Format: "no-such-format"}},
	})
	require.Error(t, err)
}

func TestRegistryPublishFlow(t *testing.T) {
	registryTestSink.mu.Lock()
	registryTestSink.messages = nil
	registryTestSink.mu.Unlock()

	r, err := NewRegistry(RegistryConfig{
		DataDir:  t.TempDir(),
		ClientID: 9,
		Sinks:    []cfg.SinkConfiguration{recordingSinkConfig("main")},
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)

	change := notifier.Change{
		VirtualPath: "/app/todos",
		New:         &store.Snapshot{Version: 1},
		NewVersion:  1,
		Changes:     map[string]store.TableChanges{},
	}

	// Publishing before Start is rejected
	require.Error(t, r.Publish(change))

	require.NoError(t, r.Start())
	require.Error(t, r.Start()) // already running

	require.NoError(t, r.Publish(change))
	require.Eventually(t, func() bool { return len(registryTestSink.recorded()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "flock.events.app.todos", registryTestSink.recorded()[0].topic)

	r.Stop()
	r.Stop() // idempotent
	require.Error(t, r.Publish(change))
}
