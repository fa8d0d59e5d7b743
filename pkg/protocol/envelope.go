package protocol

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope wraps every pushed event with routing and ordering metadata.
type Envelope struct {
	// Seq increases by one for every frame sent on a subscription,
	// starting at 1 with the snapshot.
	Seq int64 `msgpack:"seq" json:"seq"`

	// UserID is the subscriber the event was filtered for.
	UserID string `msgpack:"user_id" json:"user_id"`

	Type MessageType `msgpack:"type" json:"type"`

	// Meta contains optional metadata
	Meta map[string]interface{} `msgpack:"meta,omitempty" json:"meta,omitempty"`

	Body interface{} `msgpack:"body" json:"body"`
}

// Common meta keys
const (
	MetaKeyTimestamp = "timestamp"
	MetaKeyTraceID   = "trace_id"
)

func NewEnvelope(seq int64, userID string, msgType MessageType, body interface{}) *Envelope {
	return &Envelope{
		Seq:    seq,
		UserID: userID,
		Type:   msgType,
		Body:   body,
	}
}

func (e *Envelope) WithMeta(key string, value interface{}) *Envelope {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
	return e
}

// Format selects the frame encoding
type Format int

const (
	FormatMsgpack Format = iota
	FormatJSON
)

// Encode serializes the envelope in the given format
func (e *Envelope) Encode(format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(e)
	}
	return msgpack.Marshal(e)
}
