package mcp

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// callResult is what a waiter receives when its request settles.
type callResult struct {
	msg Message
	err error
}

// correlator owns request-ID allocation and the pending-call table for a
// transport. Settlement is first-writer-wins: whoever removes the entry
// (response reader, timeout, or bulk failure) delivers the outcome, and
// every entry is settled exactly once.
type correlator struct {
	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[string]chan callResult
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]chan callResult)}
}

// next allocates a monotonically increasing request ID.
func (c *correlator) next() int64 {
	return c.nextID.Add(1)
}

// register inserts a pending entry for the given ID and returns the channel
// its result will arrive on. The channel is buffered so settlement never
// blocks on a waiter that already gave up.
func (c *correlator) register(id int64) chan callResult {
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[idKey(NumericID(id))] = ch
	c.mu.Unlock()
	return ch
}

// settle delivers a response to the matching waiter. It reports false when
// no entry exists, either because the ID is unknown or because the waiter
// already timed out and removed it.
func (c *correlator) settle(rawID json.RawMessage, msg Message) bool {
	key := idKey(rawID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if ok {
		ch <- callResult{msg: msg}
	}
	return ok
}

// remove takes ownership of a pending entry without settling it. The caller
// that wins the removal is the one that reports the outcome; a false return
// means a concurrent settle got there first and the buffered result is
// already waiting.
func (c *correlator) remove(id int64) bool {
	key := idKey(NumericID(id))
	c.mu.Lock()
	_, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	return ok
}

// failAll settles every pending entry with err and returns how many were
// rejected. Used on transport close and subprocess exit.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	chans := make([]chan callResult, 0, len(c.pending))
	for _, ch := range c.pending {
		chans = append(chans, ch)
	}
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	for _, ch := range chans {
		ch <- callResult{err: err}
	}
	return len(chans)
}

// count returns the number of in-flight requests.
func (c *correlator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
