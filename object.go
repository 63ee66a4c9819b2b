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
	"fmt"

	"github.com/go-mlock/mlock/internal/epoch"
)

// ObjectID identifies an Object for the table lookup and safelock ordering
// described in spec.md §4.4/§4.5. It is opaque to the lock engine beyond
// being comparable and totally ordered (string ordering), which is all the
// global lock order needs ("smaller first").
type ObjectID string

// Object owns exactly one flag word and one wait-queue array, one queue per
// lock bit. Per spec.md §3, an Object is created locked in all of its bits
// (it enters the world owned by its creator) and is only destroyed once the
// epoch mechanism guarantees no goroutine holds a reference to it.
type Object struct {
	ID ObjectID

	flags flagWord
	queue [maxBits]waitQueue
	idx   *indexLock

	// Epoch is the quiescence guard external collaborator described in
	// SPEC_FULL.md "internal/epoch". Safelock pins an object with it before
	// briefly releasing the locks the caller holds on it.
	Epoch epoch.Guard

	// exiting marks an object that lookup_and_lock should no longer hand
	// out unless the caller passed AllowExiting (spec.md §4.5 step 5).
	exiting bool
}

// NewObject allocates an Object bound to id, created locked in every named
// bit (spec.md §3: "Created locked in all bits"). InitObject additionally exposes
// this behavior as a standalone operation (spec.md §6 `init(o)`) for callers
// that embed Object rather than constructing it via NewObject.
func NewObject(id ObjectID) *Object {
	o := &Object{ID: id}
	o.idx = defaultIndexLockPool.lockFor(id)
	InitObject(o)
	return o
}

// InitObject (re)initializes o to its nascent, fully-locked state: every
// named bit held, no waiters, no queues. spec.md §6 `init(o)`.
func InitObject(o *Object) {
	o.flags.v.Store(lockMaskSet(AllNamed))
	for i := range o.queue {
		o.queue[i] = waitQueue{}
	}
	o.exiting = false
}

// FinObject marks o as finished: subsequent lookups will reject it unless
// the caller passes AllowExiting. spec.md §6 `fin(o)`.
func FinObject(o *Object) {
	o.idx.Lock()
	o.exiting = true
	o.idx.Unlock()
}

// Exiting reports whether FinObject has been called on o.
func (o *Object) Exiting() bool {
	o.idx.Lock()
	defer o.idx.Unlock()
	return o.exiting
}

// MainLockIsExclusive reports whether Main is currently held by exactly one
// holder - for this design every lock bit is a plain mutex (no reader/writer
// semantics, spec.md §1 Non-goals), so this is equivalent to "is Main
// currently held at all". It exists as a named operation because callers
// migrating from a reader/writer lock commonly need to ask this question at
// the boundary.
func (o *Object) MainLockIsExclusive() bool {
	return o.flags.load()&lockMask(Main) != 0
}

func (o *Object) String() string {
	return fmt.Sprintf("Object(%s)", o.ID)
}
