// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stream

import (
	"bytes"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
)

// Registry tracks live streaming sessions by token, so that a session
// can be waited on or cancelled by any holder of its token. A session
// leaves the registry when it is waited to completion, cancelled, or
// times out; after that the token is unknown and Wait reports not
// found rather than replaying consumed data.
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[Token]*session
}

type session struct {
	worker   worker.Worker
	messages <-chan Message
}

// NewRegistry creates a Registry using the supplied clock for Wait
// deadlines.
func NewRegistry(clock clock.Clock) *Registry {
	return &Registry{
		clock:    clock,
		sessions: make(map[Token]*session),
	}
}

// Register adds a session to the registry. The messages channel must
// be the delivery channel the session's acceptor sends on; Wait reads
// from it.
func (r *Registry) Register(token Token, w worker.Worker, messages <-chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = &session{worker: w, messages: messages}
}

func (r *Registry) lookup(token Token) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[token]
	return sess, ok
}

func (r *Registry) remove(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// Wait blocks until the session identified by token delivers its
// terminal message or the timeout elapses, and returns the
// concatenation of all data fragments delivered, in arrival order.
// A transport failure is returned as the session's error; an elapsed
// deadline is returned as a timeout error, distinguishable with
// errors.IsTimeout. In every case the session is deregistered before
// returning, so a second Wait on the same token reports not found and
// a timed-out session can never deliver a stale result to its caller.
func (r *Registry) Wait(token Token, timeout time.Duration) ([]byte, error) {
	sess, ok := r.lookup(token)
	if !ok {
		return nil, errors.NotFoundf("stream session %q", token)
	}

	var buf bytes.Buffer
	deadline := r.clock.After(timeout)
	for {
		select {
		case msg := <-sess.messages:
			switch msg.Kind {
			case Data:
				buf.Write(msg.Data)
			case Done:
				r.remove(token)
				return buf.Bytes(), nil
			case Error:
				r.remove(token)
				return nil, errors.Trace(msg.Err)
			default:
				logger.Warningf("ignoring %q message for session %q", msg.Kind, token)
			}
		case <-deadline:
			r.remove(token)
			sess.worker.Kill()
			return nil, errors.Timeoutf("stream session %q after %v", token, timeout)
		}
	}
}

// Cancel tears down the session identified by token and removes it
// from the registry, blocking until its worker has stopped so that no
// message can be delivered after Cancel returns. Cancelling an unknown
// token, including one whose session has already been cancelled or
// consumed, is a no-op.
func (r *Registry) Cancel(token Token) error {
	r.mu.Lock()
	sess, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sess.worker.Kill()
	return errors.Trace(sess.worker.Wait())
}
