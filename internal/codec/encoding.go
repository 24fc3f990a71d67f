// Package codec converts request and response bodies between raw bytes,
// decoded text and structured values.
package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when no request body encoding is configured.
const DefaultEncoding = "utf-8"

// Encoding is a text encoding for request bodies. The zero value is Raw:
// bodies stay raw bytes and strings are treated as UTF-8.
type Encoding struct {
	name string
	enc  encoding.Encoding
}

// Raw returns the encoding that keeps bodies as raw bytes.
func Raw() Encoding {
	return Encoding{}
}

// UTF8 returns the UTF-8 encoding.
func UTF8() Encoding {
	return Encoding{name: DefaultEncoding, enc: unicode.UTF8}
}

// LookupEncoding resolves a WHATWG encoding label such as "utf-8",
// "latin1" or "shift_jis". An empty name yields Raw.
func LookupEncoding(name string) (Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Raw(), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return Encoding{}, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return Encoding{name: name, enc: enc}, nil
}

// ParseEncoding maps an optional setting to an Encoding: nil means the
// default (UTF-8), a pointer to "" means raw bytes.
func ParseEncoding(name *string) (Encoding, error) {
	if name == nil {
		return UTF8(), nil
	}
	return LookupEncoding(*name)
}

// Name returns the configured label, or "" for Raw.
func (e Encoding) Name() string {
	return e.name
}

// IsRaw reports whether bodies are kept as raw bytes.
func (e Encoding) IsRaw() bool {
	return e.enc == nil
}

// Decode converts bytes in this encoding to a UTF-8 string. Invalid input
// sequences are replaced with U+FFFD.
func (e Encoding) Decode(b []byte) (string, error) {
	if e.IsRaw() {
		return string(b), nil
	}
	out, err := e.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", e.name, err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string to bytes in this encoding. Runes the
// encoding cannot represent are replaced. Raw encodes as UTF-8.
func (e Encoding) Encode(s string) ([]byte, error) {
	if e.IsRaw() {
		return []byte(s), nil
	}
	out, err := encoding.ReplaceUnsupported(e.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.name, err)
	}
	return out, nil
}
