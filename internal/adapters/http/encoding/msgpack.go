package encoding

import (
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const ContentTypeMsgpack = "application/msgpack"
const ContentTypeJSON = "application/json"

// structTag is consulted when a field has no msgpack tag, so the JSON DTOs
// serialize with the same field names in both encodings.
const structTag = "json"

// NegotiateContentType checks the Accept header and returns the preferred content type
func NegotiateContentType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return ContentTypeJSON
	}

	// Check if MessagePack is explicitly requested
	if strings.Contains(accept, ContentTypeMsgpack) {
		return ContentTypeMsgpack
	}

	// Default to JSON, including */*
	return ContentTypeJSON
}

// IsMsgpackBody reports whether the request body is declared as MessagePack
func IsMsgpackBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == ContentTypeMsgpack
}

// WriteMsgpack writes a MessagePack response with the given status code
func WriteMsgpack(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)

	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag(structTag)
	return encoder.Encode(data)
}

// ReadMsgpack reads MessagePack data from the request body
func ReadMsgpack(r *http.Request, target interface{}) error {
	decoder := msgpack.NewDecoder(r.Body)
	decoder.SetCustomStructTag(structTag)
	return decoder.Decode(target)
}
