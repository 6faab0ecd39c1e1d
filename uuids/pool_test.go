// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package uuids_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/couchdb/uuids"
)

const (
	longWait  = 10 * time.Second
	shortWait = 50 * time.Millisecond
)

var (
	endpointA = uuids.Endpoint{Host: "couch-a.example", Port: 5984}
	endpointB = uuids.Endpoint{Host: "couch-b.example", Port: 5984}
)

type PoolSuite struct {
	testing.IsolationSuite
	source *fakeSource
}

var _ = gc.Suite(&PoolSuite{})

func (s *PoolSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.source = &fakeSource{}
	s.source.respond = s.source.generate
}

func (s *PoolSuite) newPool(c *gc.C, batchSize int) *uuids.Pool {
	pool, err := uuids.NewPool(uuids.PoolConfig{
		Source:    s.source,
		BatchSize: batchSize,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.CleanKill(c, pool) })
	return pool
}

func (s *PoolSuite) TestAllocateTriggersSingleRefill(c *gc.C) {
	pool := s.newPool(c, 10)

	ids, err := pool.Allocate(context.Background(), endpointA, 3)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ids, gc.HasLen, 3)
	c.Assert(s.source.fetchCalls(), jc.DeepEquals, []fetchCall{{endpointA, 10}})

	// The remaining seven are pooled; a second allocation makes no
	// network call at all.
	more, err := pool.Allocate(context.Background(), endpointA, 3)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(more, gc.HasLen, 3)
	c.Assert(s.source.fetchCalls(), gc.HasLen, 1)
}

func (s *PoolSuite) TestAllocateLoopsUntilSatisfied(c *gc.C) {
	pool := s.newPool(c, 5)

	ids, err := pool.Allocate(context.Background(), endpointA, 12)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ids, gc.HasLen, 12)
	c.Assert(s.source.fetchCalls(), jc.DeepEquals, []fetchCall{
		{endpointA, 5}, {endpointA, 5}, {endpointA, 5},
	})
}

func (s *PoolSuite) TestAllocateUniqueUnderConcurrency(c *gc.C) {
	pool := s.newPool(c, 50)

	const (
		workers     = 8
		allocations = 25
		perCall     = 3
	)
	results := make(chan []string, workers*allocations)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < allocations; j++ {
				ids, err := pool.Allocate(context.Background(), endpointA, perCall)
				if err != nil {
					c.Errorf("allocate: %v", err)
					return
				}
				results <- ids
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	total := 0
	for ids := range results {
		for _, id := range ids {
			c.Assert(seen[id], jc.IsFalse, gc.Commentf("uuid %q returned twice", id))
			seen[id] = true
			total++
		}
	}
	c.Assert(total, gc.Equals, workers*allocations*perCall)
}

func (s *PoolSuite) TestEndpointsKeepSeparatePools(c *gc.C) {
	pool := s.newPool(c, 10)

	idsA, err := pool.Allocate(context.Background(), endpointA, 2)
	c.Assert(err, jc.ErrorIsNil)
	idsB, err := pool.Allocate(context.Background(), endpointB, 2)
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.source.fetchCalls(), jc.DeepEquals, []fetchCall{
		{endpointA, 10}, {endpointB, 10},
	})
	for _, id := range idsA {
		c.Assert(id, gc.Matches, "couch-a.example:5984-.*")
	}
	for _, id := range idsB {
		c.Assert(id, gc.Matches, "couch-b.example:5984-.*")
	}
}

func (s *PoolSuite) TestRefillErrorLeavesPoolIntact(c *gc.C) {
	failNext := false
	s.source.respond = func(endpoint uuids.Endpoint, count int) ([]string, error) {
		if failNext {
			return nil, errors.New("connection refused")
		}
		return s.source.generate(endpoint, count)
	}
	pool := s.newPool(c, 4)

	// Fill the pool with one good batch.
	ids, err := pool.Allocate(context.Background(), endpointA, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ids, gc.HasLen, 1)

	// An allocation needing a refill sees the failure...
	failNext = true
	_, err = pool.Allocate(context.Background(), endpointA, 5)
	c.Assert(err, gc.ErrorMatches, "connection refused")

	// ...but the three already-pooled uuids are still there: this
	// allocation is satisfied without any further fetch.
	_, err = pool.Allocate(context.Background(), endpointA, 3)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.source.fetchCalls(), gc.HasLen, 2)
}

func (s *PoolSuite) TestEmptyRefillRetriesBounded(c *gc.C) {
	s.source.respond = func(uuids.Endpoint, int) ([]string, error) {
		return nil, nil
	}
	clk := testclock.NewClock(time.Time{})
	pool, err := uuids.NewPool(uuids.PoolConfig{
		Source: s.source,
		Clock:  clk,
	})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, pool)

	done := make(chan error, 1)
	go func() {
		_, err := pool.Allocate(context.Background(), endpointA, 1)
		done <- err
	}()

	// Each retry waits out the backoff delay.
	for i := 0; i < 4; i++ {
		c.Assert(clk.WaitAdvance(100*time.Millisecond, longWait, 1), jc.ErrorIsNil)
	}
	select {
	case err := <-done:
		c.Assert(err, gc.ErrorMatches, "giving up on couch-a.example:5984: generator returned no uuids")
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for allocation to fail")
	}
	c.Assert(s.source.fetchCalls(), gc.HasLen, 5)
}

func (s *PoolSuite) TestAllocateInvalidCount(c *gc.C) {
	pool := s.newPool(c, 10)
	_, err := pool.Allocate(context.Background(), endpointA, 0)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *PoolSuite) TestAllocateInvalidEndpoint(c *gc.C) {
	pool := s.newPool(c, 10)
	_, err := pool.Allocate(context.Background(), uuids.Endpoint{}, 1)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *PoolSuite) TestAllocateCancelled(c *gc.C) {
	// Wedge the generator so the allocation is in flight when the
	// caller gives up.
	block := make(chan struct{})
	defer close(block)
	s.source.respond = func(uuids.Endpoint, int) ([]string, error) {
		<-block
		return nil, errors.New("released")
	}
	pool := s.newPool(c, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pool.Allocate(ctx, endpointA, 1)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		c.Assert(err, gc.ErrorMatches, "context canceled")
	case <-time.After(longWait):
		c.Fatalf("allocation did not observe cancellation")
	}
}

func (s *PoolSuite) TestAllocateAfterKill(c *gc.C) {
	pool := s.newPool(c, 10)
	workertest.CleanKill(c, pool)
	_, err := pool.Allocate(context.Background(), endpointA, 1)
	c.Assert(err, gc.ErrorMatches, "uuid pool stopped")
}

func (s *PoolSuite) TestNewPoolValidatesConfig(c *gc.C) {
	_, err := uuids.NewPool(uuids.PoolConfig{})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Assert(err, gc.ErrorMatches, "nil Source not valid")
}

type fetchCall struct {
	Endpoint uuids.Endpoint
	Count    int
}

// fakeSource is a scripted uuids.Source. The default respond func
// generates sequential endpoint-prefixed identifiers.
type fakeSource struct {
	mu      sync.Mutex
	calls   []fetchCall
	next    int
	respond func(uuids.Endpoint, int) ([]string, error)
}

func (s *fakeSource) FetchUUIDs(ctx context.Context, endpoint uuids.Endpoint, count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fetchCall{endpoint, count})
	return s.respond(endpoint, count)
}

// generate must only be called with the mutex held, which is the case
// when it is installed as the respond func.
func (s *fakeSource) generate(endpoint uuids.Endpoint, count int) ([]string, error) {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%06d", endpoint, s.next)
		s.next++
	}
	return ids, nil
}

func (s *fakeSource) fetchCalls() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetchCall(nil), s.calls...)
}
