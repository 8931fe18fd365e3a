package index

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// FieldType is the indexed type of a field.
type FieldType uint8

const (
	// FieldLong is a 64-bit integer field.
	FieldLong FieldType = iota + 1
	// FieldInteger is a 32-bit integer field.
	FieldInteger
	// FieldDouble is a floating point field.
	FieldDouble
	// FieldKeyword is an exact string field.
	FieldKeyword
)

// ErrUnknownFieldType is returned for unrecognized field type names.
var ErrUnknownFieldType = errors.New("index: unknown field type")

func (t FieldType) String() string {
	switch t {
	case FieldLong:
		return "long"
	case FieldInteger:
		return "integer"
	case FieldDouble:
		return "double"
	case FieldKeyword:
		return "keyword"
	default:
		return fmt.Sprintf("fieldtype(%d)", uint8(t))
	}
}

// Numeric reports whether values of the field are numbers.
func (t FieldType) Numeric() bool {
	return t == FieldLong || t == FieldInteger || t == FieldDouble
}

// ParseFieldType parses a field type name.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "long", "date":
		return FieldLong, nil
	case "integer", "int", "short", "byte":
		return FieldInteger, nil
	case "double", "float":
		return FieldDouble, nil
	case "keyword", "string":
		return FieldKeyword, nil
	default:
		return 0, fmt.Errorf("%w [%s]", ErrUnknownFieldType, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// FieldNotFoundError is returned when a field is not mapped for any of the
// requested document types.
type FieldNotFoundError struct {
	Field string
	Types []string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("index: field [%s] not found for types %v", e.Field, e.Types)
}

// Mapping maps document types to their fields.
type Mapping map[string]map[string]FieldType

// Types returns the mapped document types in sorted order.
func (m Mapping) Types() []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Resolve returns the type of field within the given document types. An
// empty types list means every mapped type. The first type (in sorted order)
// that maps the field wins.
func (m Mapping) Resolve(field string, types []string) (FieldType, error) {
	search := types
	if len(search) == 0 {
		search = m.Types()
	} else {
		search = slices.Sorted(slices.Values(search))
	}
	for _, typ := range search {
		if ft, ok := m[typ][field]; ok {
			return ft, nil
		}
	}
	return 0, &FieldNotFoundError{Field: field, Types: types}
}

// Lookup returns the type of field in docType.
func (m Mapping) Lookup(docType, field string) (FieldType, bool) {
	ft, ok := m[docType][field]
	return ft, ok
}
