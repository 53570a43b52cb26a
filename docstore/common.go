package docstore

import (
	"errors"
	"reflect"
	"regexp"
	"time"
)

var (
	ErrNotFound            = errors.New("document not found")
	ErrAlreadyExists       = errors.New("document already exists")
	ErrPreconditionFailed  = errors.New("precondition failed, no document was changed")
	ErrInvalidMutation     = errors.New("invalid mutation")
	ErrInvalidFilter       = errors.New("invalid filter")
	ErrInvalidDocument     = errors.New("document body is not a valid json object")
	ErrUpstreamUnavailable = errors.New("document store unavailable")
	ErrEmptyCollection     = errors.New("empty collection name supplied")
	ErrEmptyCommit         = errors.New("commit without writes")
	ErrSequenceConsumed    = errors.New("query result sequence was already consumed")
)

// Document is a stored JSON object together with the metadata the store maintains.
type Document struct {
	Collection string
	ID         string
	Version    uint64
	Body       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidFieldName reports whether name can address a top-level document field.
// Engines rely on this to embed field names into their query languages safely.
func ValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}

// ScalarValue converts v, including named types like core.MemberID, to its underlying
// string, bool, int64, uint64 or float64 value. The second result is false for
// non-scalar values.
func ScalarValue(v any) (any, bool) {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return nil, false
	}
}
