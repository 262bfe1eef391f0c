package publisher

// Event kinds
const (
	KindDiscovered uint8 = 0 // realm entered the watch set
	KindChange     uint8 = 1 // one table's rows changed
)

// Event is a single forwardable notification. A discovery produces one
// event with an empty table; a delivered change produces one event per
// changed table.
type Event struct {
	SeqNum           uint64 `msgpack:"seq" json:"seq"` // Monotonic log sequence
	Kind             uint8  `msgpack:"kind" json:"kind"`
	ListenID         int64  `msgpack:"lid" json:"listen_id"`
	Realm            string `msgpack:"realm" json:"realm"` // Virtual path
	Table            string `msgpack:"tbl" json:"table,omitempty"`
	OldVersion       uint64 `msgpack:"ov" json:"old_version"`
	NewVersion       uint64 `msgpack:"nv" json:"new_version"`
	Insertions       []int  `msgpack:"ins" json:"insertions,omitempty"`
	Deletions        []int  `msgpack:"del" json:"deletions,omitempty"`
	Modifications    []int  `msgpack:"mod" json:"modifications,omitempty"`
	ModificationsNew []int  `msgpack:"modn" json:"modifications_new,omitempty"`
	ObservedAt       int64  `msgpack:"ts" json:"observed_at"` // Unix ms
	ClientID         uint64 `msgpack:"client" json:"client_id"`
}

// Sink is a destination for encoded events (e.g. Kafka, NATS JetStream)
type Sink interface {
	// Publish sends one encoded event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Encoder converts events to a sink-specific wire format
type Encoder interface {
	Encode(event Event) ([]byte, error)
}

// Filter determines whether an event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(realm, table string) bool
}
