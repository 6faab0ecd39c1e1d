// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/juju/errors"

	"github.com/juju/couchdb/stream"
	"github.com/juju/couchdb/transport"
)

// PutAttachment uploads an attachment body against the given document
// revision.
func (db *Database) PutAttachment(ctx context.Context, docID, name, rev string, contentType MIME, body io.Reader) (transport.DocMeta, error) {
	u := db.docURL(docID, name)
	if rev != "" {
		u.RawQuery = url.Values{"rev": []string{rev}}.Encode()
	}
	var meta transport.DocMeta
	if err := db.client.rest.PutRaw(ctx, u, contentType, body, &meta); err != nil {
		return transport.DocMeta{}, errors.Trace(err)
	}
	return meta, nil
}

// DeleteAttachment removes an attachment from the given document
// revision.
func (db *Database) DeleteAttachment(ctx context.Context, docID, name, rev string) (transport.DocMeta, error) {
	u := db.docURL(docID, name)
	u.RawQuery = url.Values{"rev": []string{rev}}.Encode()
	var meta transport.DocMeta
	if err := db.client.rest.Delete(ctx, u, &meta); err != nil {
		return transport.DocMeta{}, errors.Trace(err)
	}
	return meta, nil
}

// StreamAttachment starts downloading an attachment as a stream
// session. Body fragments are delivered to the given channel in wire
// order as Data messages tagged with the returned token, ending with
// exactly one Done or Error message. The caller either consumes the
// channel itself or hands the token to the client's WaitAttachment;
// the channel is bidirectional for that reason. The session is
// registered with the client, so CancelStream(token) tears it down at
// any point.
func (db *Database) StreamAttachment(ctx context.Context, docID, name string, deliver chan stream.Message) (stream.Token, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", db.docURL(docID, name).String(), nil)
	if err != nil {
		return "", errors.Annotate(err, "can not make new request")
	}
	token := stream.NewToken()
	acceptor := stream.NewAcceptor(token, db.client.streamer, req, deliver)
	db.client.registry.Register(token, acceptor, deliver)
	return token, nil
}

// FetchAttachment downloads a whole attachment, blocking for at most
// timeout. On timeout the session is torn down and a timeout error
// returned, distinguishable from a transport error with
// errors.IsTimeout; the session can never deliver a late result to
// this caller afterwards.
func (db *Database) FetchAttachment(ctx context.Context, docID, name string, timeout time.Duration) ([]byte, error) {
	deliver := make(chan stream.Message, 16)
	token, err := db.StreamAttachment(ctx, docID, name, deliver)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := db.client.WaitAttachment(token, timeout)
	return data, errors.Trace(err)
}
