// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"encoding/json"
	"strings"
)

// Seq is an update sequence value. Older servers report sequences as
// integers, newer ones as opaque strings, so the raw JSON is retained
// and callers round-trip it without interpretation.
type Seq []byte

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seq) UnmarshalJSON(data []byte) error {
	*s = append((*s)[0:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Seq) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(s), nil
}

// IsSet reports whether the sequence holds a value. UnmarshalJSON
// retains a literal null token, which denotes absence.
func (s Seq) IsSet() bool {
	return len(s) > 0 && string(s) != "null"
}

// String returns the sequence with any JSON string quoting removed, in
// a form suitable for use in a "since" query parameter.
func (s Seq) String() string {
	return strings.Trim(string(s), `"`)
}

// ChangeRev holds one revision entry within a change row.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// ChangeRow is a single row of a changes feed, one document update.
type ChangeRow struct {
	Seq     Seq             `json:"seq"`
	ID      string          `json:"id"`
	Changes []ChangeRev     `json:"changes"`
	Deleted bool            `json:"deleted,omitempty"`
	Doc     json.RawMessage `json:"doc,omitempty"`
}

// ChangesResults is the response to a one-shot (non-continuous) changes
// request.
type ChangesResults struct {
	Results []ChangeRow `json:"results"`
	LastSeq Seq         `json:"last_seq"`
}
