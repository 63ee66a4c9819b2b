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

package mlock

import (
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// indexLockPoolSize is the default number of shards in the index-lock pool
// (spec.md §6: "index-lock pool size (power of two, typical 256)").
const indexLockPoolSize = 256

// startingBackoff, maxBackoff and backoffFactor shape the index lock's
// spin-then-sleep loop under heavy contention. These mirror the teacher's
// own backoff constants (originally tuned for its condvar-wait loop); here
// they bound a short spinlock rather than a condvar, since spec.md describes
// the index lock as a spinlock, not a blocking mutex.
const (
	startingBackoff = 50 * time.Microsecond
	maxBackoff      = 500 * time.Microsecond
	backoffFactor   = 2
)

// indexLock is a short spinlock. The index-lock pool shards an object table
// by identifier so that unrelated objects rarely contend on the same lock;
// critical sections under it are always O(number of bits requested), never
// unbounded, so spin-then-sleep (rather than a full OS mutex) is an
// acceptable tradeoff.
type indexLock struct {
	held atomic.Bool
}

func (l *indexLock) Lock() {
	if l.held.CompareAndSwap(false, true) {
		return
	}
	backoff := startingBackoff
	spins := 0
	for !l.held.CompareAndSwap(false, true) {
		spins++
		if spins%8 == 0 {
			runtime.Gosched()
		}
		if spins > 64 {
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= backoffFactor
			}
		}
	}
}

func (l *indexLock) Unlock() {
	l.held.Store(false)
}

// indexLockPool is a fixed-size array of indexLocks; every Object maps to
// exactly one slot by hash(id) mod len(pool). The pool protects all
// modifications of an object's wait queues and waiter bits, and the
// enqueue/dequeue-then-wakeup handoff (spec.md §3 "Index lock").
type indexLockPool struct {
	locks []indexLock
}

// newIndexLockPool builds a pool with n shards, rounding n up to a power of
// two if it is not already one (cheap modulo via bitmask on the hot lookup
// path).
func newIndexLockPool(n int) *indexLockPool {
	if n <= 0 {
		n = indexLockPoolSize
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &indexLockPool{locks: make([]indexLock, size)}
}

var defaultIndexLockPool = newIndexLockPool(indexLockPoolSize)

func (p *indexLockPool) lockFor(id ObjectID) *indexLock {
	h := hashID(id)
	return &p.locks[h&uint64(len(p.locks)-1)]
}

// hashID maps an ObjectID to a shard index. ObjectID is an opaque, ordered,
// comparable identifier (see object.go); we only need a cheap, reasonably
// mixed hash of its string form, not cryptographic strength.
func hashID(id ObjectID) uint64 {
	// FNV-1a, 64-bit.
	var h uint64 = 14695981039346656037
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= 1099511628211
	}
	return h
}
