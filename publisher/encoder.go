package publisher

import (
	"encoding/json"

	"github.com/flockdb/flock/encoding"
)

func init() {
	RegisterEncoder("json", func() Encoder { return jsonEncoder{} })
	RegisterEncoder("msgpack", func() Encoder { return msgpackEncoder{} })
}

type jsonEncoder struct{}

func (jsonEncoder) Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

type msgpackEncoder struct{}

func (msgpackEncoder) Encode(event Event) ([]byte, error) {
	return encoding.Marshal(&event)
}
