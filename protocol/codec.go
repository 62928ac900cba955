package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validatable is implemented by every message payload type in this
// package.
type Validatable interface {
	Validate() []string
}

// ErrTooLarge is returned by Encode when a payload exceeds
// MaxMessageSize.
type ErrTooLarge struct{ Size int }

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("protocol: encoded message is %d bytes, exceeds %d byte limit", e.Size, MaxMessageSize)
}

// Encode marshals m to JSON and enforces MaxMessageSize.
func Encode(m Validatable) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode failed: %w", err)
	}
	if len(b) > MaxMessageSize {
		return nil, &ErrTooLarge{Size: len(b)}
	}
	return b, nil
}

// Decode unmarshals b into m and runs m.Validate(). A JSON type
// mismatch (e.g. a string where a number is expected) is surfaced as a
// field-error string rather than a decode error, matching the style of
// Validate()'s other field errors (spec.md §8 scenario 6).
//
// m must be a pointer to one of the message struct types in this
// package.
func Decode(b []byte, m Validatable) []string {
	if len(b) > MaxMessageSize {
		return []string{(&ErrTooLarge{Size: len(b)}).Error()}
	}
	if err := json.Unmarshal(b, m); err != nil {
		if field, ok := typeErrorField(err); ok {
			return []string{fmt.Sprintf("%s must be a number", field)}
		}
		return []string{fmt.Sprintf("malformed payload: %v", err)}
	}
	return m.Validate()
}

// typeErrorField extracts the offending JSON field name from a
// json.UnmarshalTypeError, if err is one.
func typeErrorField(err error) (string, bool) {
	te, ok := err.(*json.UnmarshalTypeError)
	if !ok || te.Field == "" {
		return "", false
	}
	// te.Field is a dot-separated path (e.g. "drift_ms" or, for nested
	// structs, "outer.inner"); the leaf name is the field of interest.
	parts := strings.Split(te.Field, ".")
	return parts[len(parts)-1], true
}
