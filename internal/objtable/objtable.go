// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package objtable implements the object table collaborator that spec.md
// §1 scopes outside the lock engine proper: an identifier-to-object index
// that LookupAndLock resolves against.
//
// Lookups are bounded by a semaphore rather than left unbounded, modeling
// the admission control a real object manager in front of a lock engine
// would carry (see rockyardkv's timeout-bounded lock admission in the
// retrieval pack, generalized here to a concurrency cap since this design
// has no timeouts).
package objtable

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Entry is whatever the table stores per identifier. The table itself does
// no identity or liveness check on Value; the lock engine's lookup compares
// the stored object's own identifier with the one it looked up. Callers
// store *mlock.Object (or a type containing one) as Value.
type Entry struct {
	ID    string
	Value any
}

// Table is a sharded identifier -> Entry index, mirroring the same
// "hash(id) mod P" sharding the lock engine's index-lock pool uses, so table
// shard contention and lock shard contention scale together.
type Table struct {
	shards []shard
	sem    *semaphore.Weighted
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New builds a Table with shardCount shards (rounded up to a power of two)
// and admits at most maxInFlight concurrent lookups.
func New(shardCount, maxInFlight int) *Table {
	if shardCount <= 0 {
		shardCount = 64
	}
	size := 1
	for size < shardCount {
		size <<= 1
	}
	if maxInFlight <= 0 {
		maxInFlight = 1 << 20 // effectively unbounded
	}
	t := &Table{
		shards: make([]shard, size),
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]Entry)
	}
	return t
}

func (t *Table) shardFor(id string) *shard {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= 1099511628211
	}
	return &t.shards[h&uint64(len(t.shards)-1)]
}

// NewID mints a fresh, table-local object identifier.
func NewID() string {
	return uuid.NewString()
}

// Insert adds or replaces the entry for id.
func (t *Table) Insert(id string, value any) {
	sh := t.shardFor(id)
	sh.mu.Lock()
	sh.entries[id] = Entry{ID: id, Value: value}
	sh.mu.Unlock()
}

// Remove deletes the entry for id, if any.
func (t *Table) Remove(id string) {
	sh := t.shardFor(id)
	sh.mu.Lock()
	delete(sh.entries, id)
	sh.mu.Unlock()
}

// Load resolves id to its current Entry, bounding concurrent lookups with
// the table's admission semaphore. ok is false if id is not present or the
// semaphore could not be acquired before ctx was done.
func (t *Table) Load(ctx context.Context, id string) (Entry, bool, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return Entry{}, false, err
	}
	defer t.sem.Release(1)

	sh := t.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	return e, ok, nil
}
