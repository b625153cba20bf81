// Package models defines the data structures shared by the live conversation view.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an opaque server-assigned identifier.
// The backend is inconsistent about id types, so ID decodes from both JSON
// strings and JSON numbers and always compares as a string.
type ID string

// UnmarshalJSON accepts "abc", 123 and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unexpected id type: %s", string(data))
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// SameID compares two identifiers as trimmed strings.
// Empty ids never match, so an unknown sender is never mistaken for the viewer.
func SameID(a, b ID) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return strings.TrimSpace(string(a)) == strings.TrimSpace(string(b))
}
