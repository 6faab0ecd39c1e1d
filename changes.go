// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/go-querystring/query"
	"github.com/juju/errors"

	"github.com/juju/couchdb/stream"
	"github.com/juju/couchdb/transport"
)

// defaultHeartbeat keeps a continuous feed connection alive through
// intermediaries that drop idle connections. Milliseconds, as the
// server expects.
const defaultHeartbeat = 10000

// ChangesOptions are the query options for a changes feed.
type ChangesOptions struct {
	Since       string `url:"since,omitempty"`
	Limit       int    `url:"limit,omitempty"`
	IncludeDocs bool   `url:"include_docs,omitempty"`
	Filter      string `url:"filter,omitempty"`

	// Heartbeat is the server's keepalive interval in milliseconds
	// for continuous feeds. Zero means the default.
	Heartbeat int `url:"heartbeat,omitempty"`
}

// Changes performs a one-shot poll of the database's changes feed.
func (db *Database) Changes(ctx context.Context, opts *ChangesOptions) (transport.ChangesResults, error) {
	if opts == nil {
		opts = &ChangesOptions{}
	}
	attrs, err := query.Values(opts)
	if err != nil {
		return transport.ChangesResults{}, errors.Annotate(err, "failed to generate URL query from options")
	}
	u := db.client.path(db.name, "_changes")
	u.RawQuery = attrs.Encode()
	var results transport.ChangesResults
	if err := db.client.rest.Get(ctx, u, &results); err != nil {
		return transport.ChangesResults{}, errors.Trace(err)
	}
	return results, nil
}

// WatchChanges opens a continuous changes feed. Each feed record is
// delivered to the given channel in wire order as a Change message, or
// a LastSeq message for the feed's closing marker, tagged with the
// acceptor's session token. When the server closes the connection a
// single Done message follows; a transport failure is delivered once
// as an Error message instead. The feed has no deadline: it runs until
// one of those, or until the returned worker is killed. Killing it
// twice, or after completion, is a no-op, and nothing is delivered
// after the kill is acknowledged by Wait.
func (db *Database) WatchChanges(ctx context.Context, opts *ChangesOptions, deliver chan<- stream.Message) (*stream.ChangesAcceptor, error) {
	if opts == nil {
		opts = &ChangesOptions{}
	}
	attrs, err := query.Values(opts)
	if err != nil {
		return nil, errors.Annotate(err, "failed to generate URL query from options")
	}
	attrs.Set("feed", "continuous")
	if opts.Heartbeat == 0 {
		attrs.Set("heartbeat", strconv.Itoa(defaultHeartbeat))
	}
	u := db.client.path(db.name, "_changes")
	u.RawQuery = attrs.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, errors.Annotate(err, "can not make new request")
	}
	return stream.NewChangesAcceptor(stream.NewToken(), db.client.streamer, req, deliver), nil
}
