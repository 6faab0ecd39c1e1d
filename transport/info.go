// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

// ServerInfo holds the welcome message returned from the root of a
// CouchDB server.
type ServerInfo struct {
	CouchDB string `json:"couchdb"`
	Version string `json:"version"`
	UUID    string `json:"uuid,omitempty"`
}

// DBInfo holds the metadata for a single database.
type DBInfo struct {
	Name           string `json:"db_name"`
	DocCount       int64  `json:"doc_count"`
	DocDelCount    int64  `json:"doc_del_count"`
	UpdateSeq      Seq    `json:"update_seq"`
	CompactRunning bool   `json:"compact_running"`
	DiskSize       int64  `json:"disk_size,omitempty"`
	DataSize       int64  `json:"data_size,omitempty"`
}
