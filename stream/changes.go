// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/couchdb/transport"
)

// ChangesAcceptor owns one continuous changes feed connection. It has
// the same binding discipline as Acceptor but lives until the remote
// closes the connection or it is killed, and it parses the feed rather
// than relaying raw bytes: each complete line of the response is
// decoded and forwarded as a Change or LastSeq message in wire order.
// Heartbeat lines (empty) are dropped. There is no deadline; a feed
// runs until the connection closes (Done), the transport fails
// (Error), or the consumer kills it.
type ChangesAcceptor struct {
	tomb    tomb.Tomb
	token   Token
	deliver chan<- Message
	events  chan Event
	bind    chan bindResult
	cancel  context.CancelFunc

	// buf accumulates body fragments until they contain at least one
	// complete newline-terminated record.
	buf []byte
}

// NewChangesAcceptor starts a changes acceptor for the given feed
// request and issues the request via the streamer.
func NewChangesAcceptor(token Token, streamer Streamer, req *http.Request, deliver chan<- Message) *ChangesAcceptor {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	a := &ChangesAcceptor{
		token:   token,
		deliver: deliver,
		events:  make(chan Event),
		bind:    make(chan bindResult, 1),
		cancel:  cancel,
	}
	a.tomb.Go(a.loop)
	go func() {
		id, err := streamer.OpenStream(req, a.events)
		a.bind <- bindResult{id: id, err: err}
	}()
	return a
}

// Token returns the session token carried by every message this
// acceptor delivers.
func (a *ChangesAcceptor) Token() Token {
	return a.token
}

// Kill is part of the worker.Worker interface. It tears down the feed
// connection; killing twice, or after the feed has completed, is a
// no-op.
func (a *ChangesAcceptor) Kill() {
	a.cancel()
	a.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *ChangesAcceptor) Wait() error {
	return a.tomb.Wait()
}

func (a *ChangesAcceptor) loop() error {
	defer a.cancel()

	var bound RequestID
	var pending []Event
	for bound == "" {
		select {
		case <-a.tomb.Dying():
			return tomb.ErrDying
		case b := <-a.bind:
			if b.err != nil {
				if err := a.send(Message{Token: a.token, Kind: Error, Err: b.err}); err != nil {
					return err
				}
				return nil
			}
			bound = b.id
		case ev := <-a.events:
			pending = append(pending, ev)
		}
	}

	for _, ev := range pending {
		terminal, err := a.handle(bound, ev)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}
	for {
		select {
		case <-a.tomb.Dying():
			return tomb.ErrDying
		case ev := <-a.events:
			terminal, err := a.handle(bound, ev)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

func (a *ChangesAcceptor) handle(bound RequestID, ev Event) (bool, error) {
	if ev.ID != bound {
		logger.Tracef("discarding event for request %q, session %q is bound to %q", ev.ID, a.token, bound)
		return false, nil
	}
	switch ev.Kind {
	case EventChunk:
		return a.feed(ev.Data)
	case EventDone:
		// Flush any unterminated trailing record before completing.
		if line := bytes.TrimSpace(a.buf); len(line) > 0 {
			a.buf = nil
			terminal, err := a.dispatch(line)
			if err != nil || terminal {
				return terminal, err
			}
		}
		if err := a.send(Message{Token: a.token, Kind: Done}); err != nil {
			return false, err
		}
		return true, nil
	case EventError:
		if err := a.send(Message{Token: a.token, Kind: Error, Err: ev.Err}); err != nil {
			return false, err
		}
		return true, nil
	}
	logger.Warningf("unknown event kind %q for session %q", ev.Kind, a.token)
	return false, nil
}

// feed appends a body fragment to the record buffer and dispatches
// every complete line it now holds. Records may be split across
// fragments arbitrarily; heartbeats arrive as bare newlines.
func (a *ChangesAcceptor) feed(data []byte) (bool, error) {
	a.buf = append(a.buf, data...)
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			return false, nil
		}
		line := bytes.TrimSpace(a.buf[:i])
		a.buf = a.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		terminal, err := a.dispatch(line)
		if err != nil || terminal {
			return terminal, err
		}
	}
}

// dispatch classifies one feed record and forwards it. A record
// carrying a last_seq member is the feed's closing marker; anything
// else is a change row.
func (a *ChangesAcceptor) dispatch(line []byte) (bool, error) {
	var marker struct {
		LastSeq transport.Seq `json:"last_seq"`
	}
	if err := json.Unmarshal(line, &marker); err != nil {
		sendErr := a.send(Message{
			Token: a.token,
			Kind:  Error,
			Err:   errors.Annotatef(err, "cannot decode feed record %q", line),
		})
		if sendErr != nil {
			return false, sendErr
		}
		return true, nil
	}
	if marker.LastSeq.IsSet() {
		return false, a.send(Message{Token: a.token, Kind: LastSeq, LastSeq: marker.LastSeq})
	}
	var row transport.ChangeRow
	if err := json.Unmarshal(line, &row); err != nil {
		sendErr := a.send(Message{
			Token: a.token,
			Kind:  Error,
			Err:   errors.Annotatef(err, "cannot decode change row %q", line),
		})
		if sendErr != nil {
			return false, sendErr
		}
		return true, nil
	}
	return false, a.send(Message{Token: a.token, Kind: Change, Change: &row})
}

func (a *ChangesAcceptor) send(msg Message) error {
	select {
	case a.deliver <- msg:
		return nil
	case <-a.tomb.Dying():
		return tomb.ErrDying
	}
}
