// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package stream adapts chunked HTTP responses into ordered message
// sequences delivered to a consumer channel. Each streaming request is
// owned by a short-lived acceptor worker that relays body fragments,
// or parsed changes feed records, to the consumer tagged with an
// opaque session token.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"

	"github.com/juju/couchdb/transport"
)

var logger = loggo.GetLogger("couchdb.stream")

// defaultChunkSize is the read buffer used when relaying a response
// body as chunk events.
const defaultChunkSize = 4096

// RequestID identifies one in-flight streaming request inside the
// transport. Events are tagged with it so an acceptor can tell its own
// stream's events from stale ones.
type RequestID string

// EventKind identifies the payload carried by a transport Event.
type EventKind string

const (
	// EventChunk carries a fragment of response body bytes.
	EventChunk EventKind = "chunk"

	// EventDone signals that the response body completed normally.
	EventDone EventKind = "done"

	// EventError signals a transport failure mid-stream.
	EventError EventKind = "error"
)

// Event is one transport-level notification for a streaming request.
type Event struct {
	ID   RequestID
	Kind EventKind
	Data []byte
	Err  error
}

// Streamer issues a streaming HTTP request. The response body is
// delivered asynchronously to the recipient channel as a sequence of
// chunk events followed by exactly one done or error event, all tagged
// with the returned request id. The id is only known once the response
// headers have arrived, which is necessarily after the recipient has
// been registered; consumers of this interface must cope with that
// window (see Acceptor).
type Streamer interface {
	OpenStream(req *http.Request, recipient chan<- Event) (RequestID, error)
}

// Transport defines a type for making the actual request.
type Transport interface {
	// Do performs the *http.Request and returns a *http.Response or an
	// error if it fails to construct the transport.
	Do(*http.Request) (*http.Response, error)
}

// HTTPStreamer is the Streamer used against a real server. It performs
// the request on the given transport and relays the body from a
// private goroutine. Cancelling the request context stops the relay.
type HTTPStreamer struct {
	transport Transport
	chunkSize int
}

// NewHTTPStreamer creates a HTTPStreamer using the supplied transport.
func NewHTTPStreamer(transport Transport) *HTTPStreamer {
	return &HTTPStreamer{
		transport: transport,
		chunkSize: defaultChunkSize,
	}
}

// OpenStream implements Streamer.
func (s *HTTPStreamer) OpenStream(req *http.Request, recipient chan<- Event) (RequestID, error) {
	resp, err := s.transport.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		var apiErr transport.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Name != "" {
			return "", apiErr.AsError(resp.StatusCode)
		}
		return "", errors.Errorf("unexpected response status %q", resp.Status)
	}
	id := RequestID(utils.MustNewUUID().String())
	go s.relay(req.Context(), id, resp.Body, recipient)
	return id, nil
}

// relay reads the response body and forwards it to the recipient in
// order. The recipient is assumed to keep receiving until it has seen
// a terminal event; if the context is cancelled first the relay drops
// everything outstanding and returns.
func (s *HTTPStreamer) relay(ctx context.Context, id RequestID, body io.ReadCloser, recipient chan<- Event) {
	defer func() { _ = body.Close() }()

	send := func(ev Event) bool {
		select {
		case recipient <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !send(Event{ID: id, Kind: EventChunk, Data: data}) {
				return
			}
		}
		if err == io.EOF {
			send(Event{ID: id, Kind: EventDone})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Tracef("request %q cancelled while reading body", id)
				return
			}
			send(Event{ID: id, Kind: EventError, Err: errors.Trace(err)})
			return
		}
	}
}
