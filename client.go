// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package couchdb is a client for CouchDB-style document stores. Plain
// request/response operations (databases, documents, views) are simple
// HTTP round trips; attachment downloads and continuous changes feeds
// are handled by per-session acceptor workers in the stream package,
// and document identifiers are allocated through a batching pool in
// the uuids package so that saving id-less documents does not cost a
// round trip each.
package couchdb

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/couchdb/stream"
	"github.com/juju/couchdb/transport"
	"github.com/juju/couchdb/uuids"
)

var logger = loggo.GetLogger("couchdb")

// Config holds the dependencies and parameters for a Client.
type Config struct {
	// URL is the base URL of the server, for example
	// "http://127.0.0.1:5984".
	URL string

	// HTTPClient is the transport used for every request. If nil a
	// plain http.Client is used.
	HTTPClient Transport

	// Clock paces timeouts on single-shot streaming fetches and uuid
	// refill retries. If nil, clock.WallClock is used.
	Clock clock.Clock

	// UUIDBatchSize overrides the uuid pool's refill batch size.
	UUIDBatchSize int
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	u, err := url.Parse(config.URL)
	if err != nil {
		return errors.Annotatef(err, "parsing server URL %q", config.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NotValidf("server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.NotValidf("server URL %q without host", config.URL)
	}
	return nil
}

// Client talks to one document store server.
type Client struct {
	url      *url.URL
	endpoint uuids.Endpoint
	rest     RESTClient
	streamer stream.Streamer
	clock    clock.Clock
	uuids    *uuids.Pool
	registry *stream.Registry
}

// NewClient creates a Client from the config. The client owns a
// background uuid pool worker; call Close when finished with it.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	u, err := url.Parse(strings.TrimRight(config.URL, "/"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	requester := NewAPIRequester(httpClient)
	c := &Client{
		url:      u,
		endpoint: endpointFromURL(u),
		rest:     NewHTTPRESTClient(requester),
		streamer: stream.NewHTTPStreamer(requester),
		clock:    clk,
		registry: stream.NewRegistry(clk),
	}
	pool, err := uuids.NewPool(uuids.PoolConfig{
		Source:    uuidSource{client: c},
		BatchSize: config.UUIDBatchSize,
		Clock:     clk,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.uuids = pool
	return c, nil
}

// endpointFromURL derives the pool endpoint key for a server URL,
// falling back to the scheme's default port when none is given.
func endpointFromURL(u *url.URL) uuids.Endpoint {
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		// Validated URL; the port is numeric.
		port, _ = strconv.Atoi(p)
	}
	return uuids.Endpoint{Host: u.Hostname(), Port: port}
}

// Close stops the client's background workers. Sessions started with
// StreamAttachment or WatchChanges have their own lifecycles and are
// not affected.
func (c *Client) Close() error {
	c.uuids.Kill()
	return errors.Trace(c.uuids.Wait())
}

// Info returns the server's welcome message.
func (c *Client) Info(ctx context.Context) (transport.ServerInfo, error) {
	var info transport.ServerInfo
	if err := c.rest.Get(ctx, c.path(), &info); err != nil {
		return transport.ServerInfo{}, errors.Trace(err)
	}
	return info, nil
}

// AllDBs returns the names of every database on the server.
func (c *Client) AllDBs(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.rest.Get(ctx, c.path("_all_dbs"), &names); err != nil {
		return nil, errors.Trace(err)
	}
	return names, nil
}

// UUIDs returns count fresh document identifiers, served from the
// local pool where possible. Identifiers are never handed to more than
// one caller, however many allocations race.
func (c *Client) UUIDs(ctx context.Context, count int) ([]string, error) {
	ids, err := c.uuids.Allocate(ctx, c.endpoint, count)
	return ids, errors.Trace(err)
}

// WaitAttachment blocks until the streaming session identified by
// token has delivered its whole attachment, and returns the bytes in
// arrival order. See stream.Registry.Wait for the timeout and
// consumed-token semantics.
func (c *Client) WaitAttachment(token stream.Token, timeout time.Duration) ([]byte, error) {
	data, err := c.registry.Wait(token, timeout)
	return data, errors.Trace(err)
}

// CancelStream tears down the streaming session identified by token.
// Cancelling an unknown or already-finished session is a no-op.
func (c *Client) CancelStream(token stream.Token) error {
	return errors.Trace(c.registry.Cancel(token))
}

// path builds a server URL from the given path segments. Each segment
// is escaped exactly once: the decoded form goes in Path and the
// escaped join in RawPath, so String does not re-escape reserved
// characters in database or document names.
func (c *Client) path(segments ...string) *url.URL {
	u := *c.url
	rawBase := strings.TrimRight(u.EscapedPath(), "/")
	base := strings.TrimRight(u.Path, "/")
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = base + "/" + strings.Join(segments, "/")
	u.RawPath = rawBase + "/" + strings.Join(escaped, "/")
	return &u
}

// uuidSource fetches uuid batches from an endpoint's generator. It
// implements uuids.Source for the client's pool.
type uuidSource struct {
	client *Client
}

// FetchUUIDs is part of the uuids.Source interface.
func (s uuidSource) FetchUUIDs(ctx context.Context, endpoint uuids.Endpoint, count int) ([]string, error) {
	u := &url.URL{
		Scheme:   s.client.url.Scheme,
		Host:     endpoint.String(),
		Path:     "/_uuids",
		RawQuery: url.Values{"count": []string{strconv.Itoa(count)}}.Encode(),
	}
	var resp transport.UUIDsResponse
	if err := s.client.rest.Get(ctx, u, &resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.UUIDs, nil
}
