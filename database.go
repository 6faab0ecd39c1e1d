// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/couchdb/transport"
)

// Database is a handle on one named database. It is cheap to create
// and carries no connection state of its own.
type Database struct {
	client *Client
	name   string
}

// Database returns a handle on the named database. No request is made;
// the database may or may not exist.
func (c *Client) Database(name string) *Database {
	return &Database{client: c, name: name}
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// Create creates the database. A database that already exists is
// reported with errors.IsAlreadyExists.
func (db *Database) Create(ctx context.Context) error {
	return errors.Trace(db.client.rest.Put(ctx, db.client.path(db.name), nil, nil))
}

// Delete removes the database and all its documents.
func (db *Database) Delete(ctx context.Context) error {
	return errors.Trace(db.client.rest.Delete(ctx, db.client.path(db.name), nil))
}

// Info returns the database metadata.
func (db *Database) Info(ctx context.Context) (transport.DBInfo, error) {
	var info transport.DBInfo
	if err := db.client.rest.Get(ctx, db.client.path(db.name), &info); err != nil {
		return transport.DBInfo{}, errors.Trace(err)
	}
	return info, nil
}

// Exists reports whether the database exists on the server.
func (db *Database) Exists(ctx context.Context) (bool, error) {
	status, err := db.client.rest.Head(ctx, db.client.path(db.name))
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, errors.Errorf("unexpected response status %d", status)
}

// docURL builds the URL for a document, preserving the path separator
// in design document ids, with any extra segments appended.
func (db *Database) docURL(docID string, extra ...string) *url.URL {
	segments := []string{db.name}
	if rest, ok := strings.CutPrefix(docID, "_design/"); ok {
		segments = append(segments, "_design", rest)
	} else {
		segments = append(segments, docID)
	}
	segments = append(segments, extra...)
	return db.client.path(segments...)
}
