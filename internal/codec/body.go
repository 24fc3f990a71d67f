package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"intercept-proxy-go/internal/model"
)

// DefaultLimit is the inbound body size limit used when none is configured.
const DefaultLimit int64 = 1 << 20

// ReadInbound reads a request body of at most limit bytes. The result is a
// string decoded with enc, or the raw bytes when enc is Raw. A declared
// contentLength above limit fails before anything is read.
func ReadInbound(r io.Reader, contentLength, limit int64, enc Encoding) (any, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if contentLength > limit {
		return nil, model.Errorf(model.KindPayloadTooLarge, "read body",
			"content length %d exceeds limit of %d bytes", contentLength, limit)
	}

	var raw []byte
	if r != nil {
		b, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(b)) > limit {
			return nil, model.Errorf(model.KindPayloadTooLarge, "read body",
				"body exceeds limit of %d bytes", limit)
		}
		raw = b
	}
	if raw == nil {
		raw = []byte{}
	}

	if enc.IsRaw() {
		return raw, nil
	}
	return enc.Decode(raw)
}

// Finalize converts an acquired request body to the bytes written upstream.
// With asBuffer, strings are encoded with enc; otherwise strings are sent
// as UTF-8. Structured values are JSON-serialized first in both modes. A nil
// body yields an empty slice.
func Finalize(body any, asBuffer bool, enc Encoding) ([]byte, error) {
	if body == nil {
		return []byte{}, nil
	}
	if asBuffer {
		return ToBuffer(body, enc)
	}
	v, err := ToBufferOrString(body)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, violation("request body", body)
}

// Coerce converts an interceptor's response body to bytes. Anything other
// than bytes, strings or JSON-serializable composite values is a contract
// violation.
func Coerce(body any, enc Encoding) ([]byte, error) {
	return ToBuffer(body, enc)
}

// ToBuffer converts body to bytes, encoding strings with enc.
func ToBuffer(body any, enc Encoding) ([]byte, error) {
	switch t := body.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return []byte(t), nil
	case string:
		return enc.Encode(t)
	}
	s, err := marshalStructured(body)
	if err != nil {
		return nil, err
	}
	return enc.Encode(s)
}

// ToBufferOrString returns bytes unchanged and strings unchanged, and
// JSON-serializes structured values to a string.
func ToBufferOrString(body any) (any, error) {
	switch t := body.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return []byte(t), nil
	case string:
		return t, nil
	}
	return marshalStructured(body)
}

// ContentLength returns the byte length of a []byte or the UTF-8 length of
// a string.
func ContentLength(body any) int {
	switch t := body.(type) {
	case []byte:
		return len(t)
	case string:
		return len(t)
	}
	return 0
}

// marshalStructured serializes maps, slices, arrays, structs and pointers
// to them. HTML characters are not escaped, so the output length matches a
// plain JSON serializer.
func marshalStructured(body any) (string, error) {
	if !isStructured(body) {
		return "", violation("body", body)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return "", model.NewError(model.KindContractViolation, "encode body", "body is not JSON-serializable", err)
	}

	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return string(out), nil
}

func isStructured(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

func violation(what string, v any) error {
	return model.Errorf(model.KindContractViolation, "coerce body",
		"%s must be bytes, string or a JSON-serializable value; got %T", what, v)
}
