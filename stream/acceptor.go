// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stream

import (
	"context"
	"net/http"

	"gopkg.in/tomb.v2"
)

// bindResult carries the outcome of opening the streaming request: the
// transport-assigned request id on success, or the open error. The
// acceptor worker starts before this result exists, so it begins life
// awaiting binding, buffering any events that beat the result in.
type bindResult struct {
	id  RequestID
	err error
}

// Acceptor owns one streaming download. It is spawned before the
// streaming request is issued, receives transport events on a private
// channel once the request binds, and forwards every body fragment to
// the consumer's delivery channel as a Data message tagged with the
// session token, finishing with exactly one Done or Error message.
//
// Kill cancels the underlying request; killing an acceptor twice, or
// after it has completed naturally, is a no-op. No message is
// delivered after Kill has been observed.
type Acceptor struct {
	tomb    tomb.Tomb
	token   Token
	deliver chan<- Message
	events  chan Event
	bind    chan bindResult
	cancel  context.CancelFunc
}

// NewAcceptor starts an acceptor for the given request and issues the
// request via the streamer. The consumer owns the deliver channel and
// must keep receiving on it until a terminal message arrives or the
// acceptor is killed.
func NewAcceptor(token Token, streamer Streamer, req *http.Request, deliver chan<- Message) *Acceptor {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	a := &Acceptor{
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
func (a *Acceptor) Token() Token {
	return a.token
}

// Kill is part of the worker.Worker interface. It tears down the
// transport request and stops delivery.
func (a *Acceptor) Kill() {
	a.cancel()
	a.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *Acceptor) Wait() error {
	return a.tomb.Wait()
}

func (a *Acceptor) loop() error {
	defer a.cancel()

	// Awaiting binding: the streaming request is in flight and its id
	// is not yet known. Events may already be arriving; hold them
	// until the id arrives so they can be checked against it.
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

func (a *Acceptor) handle(bound RequestID, ev Event) (bool, error) {
	if ev.ID != bound {
		logger.Tracef("discarding event for request %q, session %q is bound to %q", ev.ID, a.token, bound)
		return false, nil
	}
	switch ev.Kind {
	case EventChunk:
		return false, a.send(Message{Token: a.token, Kind: Data, Data: ev.Data})
	case EventDone:
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

func (a *Acceptor) send(msg Message) error {
	select {
	case a.deliver <- msg:
		return nil
	case <-a.tomb.Dying():
		return tomb.ErrDying
	}
}
