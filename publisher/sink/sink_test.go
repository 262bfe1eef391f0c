package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/publisher"
)

var (
	_ publisher.Sink = &KafkaSink{}
	_ publisher.Sink = &NatsSink{}
	_ publisher.Sink = &MockSink{}
)

func TestStreamNameFor(t *testing.T) {
	assert.Equal(t, "flock_events_app_todos", streamNameFor("flock.events.app.todos"))
	assert.Equal(t, "plain", streamNameFor("plain"))
}

func TestNatsMessageCarriesRealmHeader(t *testing.T) {
	msg := natsMessage("flock.events.app.todos.items", "/app/todos", []byte(`{"kind":1}`))

	assert.Equal(t, "flock.events.app.todos.items", msg.Subject)
	assert.Equal(t, []byte(`{"kind":1}`), msg.Data)
	assert.Equal(t, "/app/todos", msg.Header.Get(RealmHeader))
}

func TestKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	require.Error(t, err)
}

func TestKafkaSinkDefaults(t *testing.T) {
	s, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultKafkaBatchSize, s.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), s.writer.BatchBytes)
}

func TestMockSinkRecordsAndFails(t *testing.T) {
	m := &MockSink{}
	require.NoError(t, m.Publish("topic", "key", []byte("value")))

	recorded := m.Recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "topic", recorded[0].Topic)
	assert.Equal(t, "key", recorded[0].Key)

	m.SetError(errors.New("down"))
	require.Error(t, m.Publish("topic", "key", nil))
	assert.Len(t, m.Recorded(), 1)
}
