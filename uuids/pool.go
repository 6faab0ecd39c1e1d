// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package uuids caches batches of server-generated document
// identifiers so that saving a document without an id does not cost a
// round trip. A single worker owns every per-endpoint pool; all reads
// and refills are serialized through its loop, so concurrent
// allocations can never hand the same identifier to two callers.
package uuids

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/deque"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	"gopkg.in/tomb.v2"
)

var logger = loggo.GetLogger("couchdb.uuids")

const (
	// DefaultBatchSize is the number of identifiers fetched per
	// refill. Refilling in bulk amortizes the generator round trip
	// across many allocations.
	DefaultBatchSize = 1000

	// emptyRefillAttempts bounds the retries made when the generator
	// responds successfully but with no identifiers. Such a response
	// is almost certainly a server fault; retrying forever would wedge
	// the allocating caller.
	emptyRefillAttempts = 5

	// emptyRefillDelay is the pause between empty-refill retries.
	emptyRefillDelay = 100 * time.Millisecond
)

// errEmptyRefill reports a refill that returned no identifiers.
const errEmptyRefill = errors.ConstError("generator returned no uuids")

// Endpoint identifies one remote server instance. Pools are keyed by
// it, so one Pool can serve clients of several servers without ever
// mixing their identifier namespaces.
type Endpoint struct {
	Host string
	Port int
}

// String returns the endpoint in host:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate returns an error if the endpoint cannot identify a server.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.NotValidf("endpoint with empty host")
	}
	if e.Port <= 0 {
		return errors.NotValidf("endpoint port %d", e.Port)
	}
	return nil
}

// Source fetches freshly generated identifiers from an endpoint's
// generator. Implementations report failure as an error and never
// fabricate identifiers locally.
type Source interface {
	FetchUUIDs(ctx context.Context, endpoint Endpoint, count int) ([]string, error)
}

// PoolConfig holds the dependencies and tuning for a Pool.
type PoolConfig struct {
	// Source is used to refill exhausted pools.
	Source Source

	// BatchSize is the refill request size. If zero,
	// DefaultBatchSize is used.
	BatchSize int

	// Clock paces empty-refill retries. If nil, clock.WallClock is
	// used.
	Clock clock.Clock
}

// Validate returns an error if the config cannot be used.
func (config PoolConfig) Validate() error {
	if config.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if config.BatchSize < 0 {
		return errors.NotValidf("negative BatchSize")
	}
	return nil
}

// Pool hands out unused identifiers for any number of endpoints. It is
// a worker: the creator is responsible for Kill and Wait when the pool
// is no longer needed.
type Pool struct {
	tomb     tomb.Tomb
	config   PoolConfig
	requests chan allocation

	// pools is owned by the loop goroutine and never touched from
	// outside it.
	pools map[Endpoint]*deque.Deque
}

type allocation struct {
	ctx      context.Context
	endpoint Endpoint
	count    int
	reply    chan<- allocationReply
}

type allocationReply struct {
	uuids []string
	err   error
}

// NewPool creates and starts a Pool.
func NewPool(config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	p := &Pool{
		config:   config,
		requests: make(chan allocation),
		pools:    make(map[Endpoint]*deque.Deque),
	}
	p.tomb.Go(p.loop)
	return p, nil
}

// Kill is part of the worker.Worker interface.
func (p *Pool) Kill() {
	p.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (p *Pool) Wait() error {
	return p.tomb.Wait()
}

// Allocate returns exactly count unused identifiers for the endpoint.
// Pooled identifiers are handed out without a network call; an
// exhausted pool triggers as many batch refills as are needed to
// satisfy the request. Each identifier returned here is returned to
// this caller only, ever. A refill failure is returned unchanged with
// the pool intact, so the allocation can simply be retried.
func (p *Pool) Allocate(ctx context.Context, endpoint Endpoint, count int) ([]string, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if count <= 0 {
		return nil, errors.NotValidf("allocation of %d uuids", count)
	}
	reply := make(chan allocationReply, 1)
	req := allocation{
		ctx:      ctx,
		endpoint: endpoint,
		count:    count,
		reply:    reply,
	}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-p.tomb.Dying():
		return nil, errors.New("uuid pool stopped")
	}
	select {
	case res := <-reply:
		return res.uuids, errors.Trace(res.err)
	case <-ctx.Done():
		// The reply channel is buffered; the loop is not blocked by
		// an abandoned request.
		return nil, errors.Trace(ctx.Err())
	case <-p.tomb.Dying():
		return nil, errors.New("uuid pool stopped")
	}
}

func (p *Pool) loop() error {
	for {
		select {
		case <-p.tomb.Dying():
			return tomb.ErrDying
		case req := <-p.requests:
			req.reply <- p.allocate(req)
		}
	}
}

// allocate runs on the loop goroutine. It refills the endpoint's pool
// until it can pop the requested number of identifiers. Identifiers
// already pooled survive a failed refill untouched.
func (p *Pool) allocate(req allocation) allocationReply {
	pool, ok := p.pools[req.endpoint]
	if !ok {
		pool = deque.New()
		p.pools[req.endpoint] = pool
	}
	for pool.Len() < req.count {
		batch, err := p.refill(req.ctx, req.endpoint)
		if err != nil {
			return allocationReply{err: errors.Trace(err)}
		}
		logger.Debugf("refilled pool for %s with %d uuids", req.endpoint, len(batch))
		for _, id := range batch {
			pool.PushBack(id)
		}
	}
	uuids := make([]string, req.count)
	for i := range uuids {
		value, _ := pool.PopFront()
		uuids[i] = value.(string)
	}
	return allocationReply{uuids: uuids}
}

// refill fetches one batch from the generator. A transport or server
// error is surfaced immediately; a successful response containing no
// identifiers is retried a bounded number of times before being
// reported, rather than looping forever.
func (p *Pool) refill(ctx context.Context, endpoint Endpoint) ([]string, error) {
	var batch []string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			got, err := p.config.Source.FetchUUIDs(ctx, endpoint, p.config.BatchSize)
			if err != nil {
				return errors.Trace(err)
			}
			if len(got) == 0 {
				return errEmptyRefill
			}
			batch = got
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errEmptyRefill)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("(attempt %d) refill for %s: %v", attempt, endpoint, err)
		},
		Attempts: emptyRefillAttempts,
		Delay:    emptyRefillDelay,
		Clock:    p.config.Clock,
		Stop:     p.tomb.Dying(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) {
		return nil, errors.Annotatef(errEmptyRefill, "giving up on %s", endpoint)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return batch, nil
}
