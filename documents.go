// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb

import (
	"context"
	"net/url"

	"github.com/google/go-querystring/query"
	"github.com/juju/errors"

	"github.com/juju/couchdb/transport"
)

// Document is a document body. The store imposes no schema beyond the
// reserved underscore members, so documents are free-form maps.
type Document map[string]interface{}

// ID returns the document's _id, or the empty string if it has none.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document's _rev, or the empty string if it has none.
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// OpenDoc fetches the document with the given id. A missing document
// is reported with errors.IsNotFound.
func (db *Database) OpenDoc(ctx context.Context, docID string) (Document, error) {
	var doc Document
	if err := db.client.rest.Get(ctx, db.docURL(docID), &doc); err != nil {
		return nil, errors.Trace(err)
	}
	return doc, nil
}

// SaveDoc writes the document, creating it if necessary. A document
// without an _id is assigned one from the client's uuid pool before
// the write; the pool refills itself from the server's generator in
// batches, so most saves make a single round trip. On success the
// document's _id and _rev are updated in place and the write
// acknowledgement returned. A revision conflict is reported with
// errors.IsAlreadyExists.
func (db *Database) SaveDoc(ctx context.Context, doc Document) (transport.DocMeta, error) {
	docID := doc.ID()
	if docID == "" {
		ids, err := db.client.UUIDs(ctx, 1)
		if err != nil {
			return transport.DocMeta{}, errors.Annotate(err, "assigning document id")
		}
		docID = ids[0]
		doc["_id"] = docID
	}
	var meta transport.DocMeta
	if err := db.client.rest.Put(ctx, db.docURL(docID), doc, &meta); err != nil {
		return transport.DocMeta{}, errors.Trace(err)
	}
	doc["_rev"] = meta.Rev
	return meta, nil
}

// DeleteDoc removes the given revision of a document.
func (db *Database) DeleteDoc(ctx context.Context, docID, rev string) (transport.DocMeta, error) {
	u := db.docURL(docID)
	u.RawQuery = url.Values{"rev": []string{rev}}.Encode()
	var meta transport.DocMeta
	if err := db.client.rest.Delete(ctx, u, &meta); err != nil {
		return transport.DocMeta{}, errors.Trace(err)
	}
	return meta, nil
}

// AllDocsOptions are the query options for AllDocs. Keys are passed
// through to the server as given.
type AllDocsOptions struct {
	StartKey    string `url:"startkey,omitempty"`
	EndKey      string `url:"endkey,omitempty"`
	Limit       int    `url:"limit,omitempty"`
	Skip        int    `url:"skip,omitempty"`
	Descending  bool   `url:"descending,omitempty"`
	IncludeDocs bool   `url:"include_docs,omitempty"`
}

// AllDocs lists the database's documents.
func (db *Database) AllDocs(ctx context.Context, opts *AllDocsOptions) (transport.ViewResults, error) {
	if opts == nil {
		opts = &AllDocsOptions{}
	}
	attrs, err := query.Values(opts)
	if err != nil {
		return transport.ViewResults{}, errors.Annotate(err, "failed to generate URL query from options")
	}
	u := db.client.path(db.name, "_all_docs")
	u.RawQuery = attrs.Encode()
	var results transport.ViewResults
	if err := db.client.rest.Get(ctx, u, &results); err != nil {
		return transport.ViewResults{}, errors.Trace(err)
	}
	return results, nil
}
