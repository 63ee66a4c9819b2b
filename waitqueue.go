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
	"sync"

	"go.uber.org/atomic"

	"github.com/go-mlock/mlock/internal/event"
)

// waitNode is one link in the circular doubly linked queue for a single
// lock bit. It is embedded in WaitSlot rather than heap-allocated per
// enqueue, so enqueueing a waiter never allocates.
type waitNode struct {
	slot       *WaitSlot
	next, prev *waitNode
}

// waitQueue is a per-bit circular doubly linked list of wait nodes. A nil
// head means the queue is empty. All reads and writes happen under the
// owning Object's index lock (spec.md §3 invariant 4).
type waitQueue struct {
	head *waitNode
}

func (q *waitQueue) empty() bool {
	return q.head == nil
}

// pushBack appends n to the tail of the queue, preserving FIFO order: the
// head is always the oldest waiter.
func (q *waitQueue) pushBack(n *waitNode) {
	if q.head == nil {
		n.next, n.prev = n, n
		q.head = n
		return
	}
	tail := q.head.prev
	n.prev = tail
	n.next = q.head
	tail.next = n
	q.head.prev = n
}

// popFront removes and returns the head of the queue, or nil if empty.
func (q *waitQueue) popFront() *waitNode {
	n := q.head
	if n == nil {
		return nil
	}
	q.remove(n)
	return n
}

// remove unlinks n from the queue. n must currently be a member.
func (q *waitQueue) remove(n *waitNode) {
	if n.next == n {
		q.head = nil
	} else {
		n.prev.next = n.next
		n.next.prev = n.prev
		if q.head == n {
			q.head = n.next
		}
	}
	n.next, n.prev = nil, nil
}

// WaitSlot is a per-goroutine record describing the lock bits a blocked
// caller still needs, one intrusive queue node per possible bit position, an
// atomic "still-waiting" flag, and a borrowed event.Slot. spec.md §3: "A
// thread owns exactly one reusable slot; acquiring it is idempotent" and
// spec.md §9: "the slot is per-thread and reusable; allocation on the hot
// path is not acceptable." Go has no real TLS, so - exactly like
// internal/event.Slot one file over - a WaitSlot is borrowed from a
// sync.Pool rather than allocated fresh per blocking call, relaxing "per
// thread" to "per concurrently-blocked waiter", which is observationally
// identical for a slot that is only ever touched while its owner is parked.
type WaitSlot struct {
	object *Object
	needed LockSet

	stillWaiting atomic.Bool
	ev           *event.Slot

	nodes [maxBits]waitNode
}

var waitSlotPool = sync.Pool{New: func() any { return &WaitSlot{} }}

// newWaitSlot borrows a WaitSlot from the pool and resets it for a fresh
// blocking acquire. Every node's links are cleared: a node only reaches here
// already unlinked (popFront/remove always clear next/prev), but the pool
// makes no such guarantee for a slot that has never been used before.
func newWaitSlot(o *Object, needed LockSet) *WaitSlot {
	w := waitSlotPool.Get().(*WaitSlot)
	w.object = o
	w.needed = needed
	for i := range w.nodes {
		w.nodes[i].slot = w
		w.nodes[i].next = nil
		w.nodes[i].prev = nil
	}
	w.stillWaiting.Store(true)
	w.ev = event.Acquire()
	return w
}

// release returns w's borrowed event.Slot and w itself to their pools. Only
// safe once every node of w is guaranteed unlinked from every queue, which
// holds by the time slowAcquire's blocking call returns (every bit it still
// needed has gone through transfer's popFront by then).
func (w *WaitSlot) release() {
	event.Release(w.ev)
	w.ev = nil
	w.object = nil
	waitSlotPool.Put(w)
}

func (w *WaitSlot) nodeFor(b LockBit) *waitNode {
	return &w.nodes[b]
}

// park blocks until w's still-waiting flag is cleared, tolerating spurious
// wakeups: spec.md §4.2 "the caller... sleeps on its event. Spurious
// wakeups are tolerated: the caller re-checks 'still-waiting' after each
// event return and loops."
func (w *WaitSlot) park() {
	for w.stillWaiting.Load() {
		w.ev.Wait()
	}
}

// wake clears the still-waiting flag and signals the event. Per spec.md
// §4.3, this must happen after the index lock protecting the queues has
// been released, so that a woken waiter never immediately contends on the
// same index lock its waker is still holding.
func (w *WaitSlot) wake() {
	w.stillWaiting.Store(false)
	w.ev.Set()
}
