package sink

import "sync"

// MockSink records published messages for tests
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

// MockMessage is one recorded publish call
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockSink) Close() error {
	return nil
}

// Recorded returns a copy of the messages published so far.
func (m *MockSink) Recorded() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// SetError makes subsequent Publish calls fail with err (nil to clear).
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErr = err
}
