// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"encoding/json"
)

// DocMeta is the server's acknowledgement of a document write.
type DocMeta struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// UUIDsResponse is the response from the server's uuid generator.
type UUIDsResponse struct {
	UUIDs []string `json:"uuids"`
}

// ViewRow is a single row of a view or _all_docs result.
type ViewRow struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// ViewResults is the response to a view or _all_docs query.
type ViewResults struct {
	TotalRows int64     `json:"total_rows"`
	Offset    int64     `json:"offset"`
	Rows      []ViewRow `json:"rows"`
}
