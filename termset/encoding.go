package termset

import (
	"errors"
	"fmt"
	"strings"
)

// Encoding selects the representation of a term set.
type Encoding uint8

const (
	// Long stores exact 64-bit values.
	Long Encoding = iota + 1
	// Integer stores exact 32-bit values.
	Integer
	// Bloom stores an approximate membership filter of 64-bit values.
	Bloom
	// Bytes stores exact, unhashed term bytes.
	Bytes
)

// ErrUnknownEncoding is returned by ParseEncoding for unrecognized names.
var ErrUnknownEncoding = errors.New("termset: unknown encoding")

// String returns the lowercase wire name of the encoding.
func (e Encoding) String() string {
	switch e {
	case Long:
		return "long"
	case Integer:
		return "integer"
	case Bloom:
		return "bloom"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// Valid reports whether e is one of the four encodings.
func (e Encoding) Valid() bool {
	return e >= Long && e <= Bytes
}

// Hashed reports whether keyword terms are reduced to 64-bit hashes under e.
func (e Encoding) Hashed() bool {
	return e != Bytes
}

// ParseEncoding parses an encoding name, case-insensitively. The empty
// string selects Long.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "long":
		return Long, nil
	case "integer", "int":
		return Integer, nil
	case "bloom":
		return Bloom, nil
	case "bytes":
		return Bytes, nil
	default:
		return 0, fmt.Errorf("%w [%s]", ErrUnknownEncoding, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Encoding) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w [%d]", ErrUnknownEncoding, uint8(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encoding) UnmarshalText(b []byte) error {
	v, err := ParseEncoding(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}
