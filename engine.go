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

import "runtime"

// Lock acquires every bit in s on o, blocking until all of them are held.
// spec.md §6 `lock(o, S)`.
func Lock(o *Object, s LockSet) {
	LockWithConfig(o, s, DefaultConfig(), false)
}

// LockWithConfig is Lock with an explicit spin-tuning configuration and a
// flag indicating whether the caller identifies as a scheduler thread for
// spin-budget purposes (spec.md §4.2, §6).
func LockWithConfig(o *Object, s LockSet, cfg SpinConfig, schedulerThread bool) {
	if s.Empty() {
		return
	}
	spinAcquire(o, s, cfg, schedulerThread)
}

// TryLock attempts to acquire every bit in s on o without blocking, per
// spec.md §6: returns the succeeded-bits mask, which may be a strict subset
// of s (or empty) if some bits were already held elsewhere. TryLock does
// not release a partial result - a caller that wants all-or-nothing
// semantics should Unlock the returned mask itself when it is not equal to
// s.
func TryLock(o *Object, s LockSet) LockSet {
	if s.Empty() {
		return 0
	}
	held, _ := tryFast(o, s)
	return held
}

// Unlock releases every bit in s on o. It never blocks: bits with waiters
// are handed off via transfer rather than cleared (spec.md §6 `unlock(o,
// S)`).
func Unlock(o *Object, s LockSet) {
	if s.Empty() {
		return
	}
	for {
		old := o.flags.load()
		held := heldOf(old, s)
		if held != s {
			panic(&unheldRelease{msg: "mlock: Unlock called for bits not held: " + missingBits(s, held).debugString()})
		}
		waiters := waitersOf(old, s)
		clearable := s &^ waiters
		newFlags := old &^ lockMaskSet(clearable)
		if o.flags.v.CompareAndSwap(old, newFlags) {
			if waiters != 0 {
				transfer(o, waiters)
			}
			return
		}
	}
}

func missingBits(want, have LockSet) LockSet {
	return want &^ have
}

func (s LockSet) debugString() string {
	out := ""
	s.ascending(func(b LockBit) {
		if out != "" {
			out += ","
		}
		out += b.String()
	})
	if out == "" {
		return "{}"
	}
	return "{" + out + "}"
}

// tryFast attempts the uncontended fast path (spec.md §4.1 steps 1-2): a
// single OR of every bit in s, succeeding with no index-lock interaction at
// all when none of s was already held and none of s had a waiter queued.
func tryFast(o *Object, s LockSet) (LockSet, bool) {
	prev := o.flags.orPrev(lockMaskSet(s))
	if prev&lockMaskSet(s) == 0 && prev&waiterMaskSet(s) == 0 {
		return s, true
	}
	// Contended: figure out exactly which bits we may keep.
	//
	// wonClean:  bits we flipped 0->1 and which had no waiter queued -
	//            these are genuinely, fairly ours.
	// wonButQueued: bits we flipped 0->1 but which already had a queued
	//            waiter - FIFO (spec.md §4.2/§4.3, property (c)) means we
	//            must hand these straight to the head of that bit's queue
	//            rather than keep them, exactly as if we had locked and
	//            immediately unlocked them.
	// contested: bits that were already held by someone else; our OR was a
	//            no-op there and we never owned them.
	var wonClean, wonButQueued, contested LockSet
	s.ascending(func(b LockBit) {
		wasHeld := prev&lockMask(b) != 0
		hadWaiter := prev&waiterMask(b) != 0
		switch {
		case wasHeld:
			contested = contested.With(b)
		case hadWaiter:
			wonButQueued = wonButQueued.With(b)
		default:
			wonClean = wonClean.With(b)
		}
	})
	if wonButQueued != 0 {
		// We are a transient, accidental holder of these bits; release them
		// with the normal transfer discipline so the legitimate first
		// waiter gets them, not a bare clear.
		releaseViaTransfer(o, wonButQueued)
	}
	stillNeeded := contested | wonButQueued
	if stillNeeded == 0 {
		return wonClean, true
	}
	return wonClean, false
}

// releaseViaTransfer gives back bits that tryFast won while a waiter was
// already queued on them. It is a plain Unlock: a bit whose waiter bit is set
// keeps its lock bit and is handed to its queue's head by transfer.
func releaseViaTransfer(o *Object, bits LockSet) {
	Unlock(o, bits)
}

// spinAcquire runs the bounded spin-then-block policy (spec.md §4.2) ahead
// of the index-locked slow path: retry the fast path up to a tuned count,
// yielding periodically, before paying for the index lock and a potential
// sleep.
func spinAcquire(o *Object, s LockSet, cfg SpinConfig, schedulerThread bool) {
	budget := cfg.budget(schedulerThread)
	have := LockSet(0)
	remaining := s
	for i := 0; i < budget; i++ {
		if won, ok := tryFast(o, remaining); ok {
			have |= won
			return
		} else if won != 0 {
			have |= won
			remaining &^= won
		}
		if cfg.YieldStride > 0 && i%cfg.YieldStride == cfg.YieldStride-1 {
			runtime.Gosched()
		}
	}
	slowAcquire(o, remaining, have)
}

// slowAcquire runs spec.md §4.2's index-locked protocol to completion,
// enqueueing and blocking as necessary.
func slowAcquire(o *Object, needed LockSet, alreadyHeld LockSet) {
	if needed == 0 {
		return
	}
	w := newWaitSlot(o, needed)
	defer w.release()

	o.idx.Lock()
	remaining := LockSet(0)
	needed.ascending(func(b LockBit) {
		if !attemptBit(o, w, b) {
			remaining = remaining.With(b)
		}
	})
	w.needed = remaining
	blocked := remaining != 0
	o.idx.Unlock()

	if blocked {
		w.park()
	}
}

// attemptBit implements the per-bit body shared by the initial slow-path
// enqueue (spec.md §4.2 step 2) and the opportunistic re-try a releaser
// performs on behalf of a transferred-to waiter (spec.md §4.3 step 4). The
// caller must hold o's index lock. It returns true if b was won outright.
func attemptBit(o *Object, w *WaitSlot, b LockBit) bool {
	if o.queue[b].empty() {
		prev := o.flags.orPrev(lockMask(b) | waiterMask(b))
		if prev&lockMask(b) == 0 {
			// We won cleanly; we were not actually a waiter, so drop the
			// speculative waiter bit we just set.
			o.flags.clearWaiter(b)
			w.needed = w.needed.Without(b)
			return true
		}
	}
	// Either the queue was non-empty, or it was empty but we lost the race
	// to set the lock bit between the empty check and our OR (another
	// goroutine's fast path can still win a bit whose queue was briefly
	// empty, since the fast path does not take the index lock). Either way
	// we must queue.
	o.flags.trySetWaiter(b)
	n := w.nodeFor(b)
	if n.next == nil && n.prev == nil {
		o.queue[b].pushBack(n)
	}
	return false
}

// transfer implements release-with-ownership-transfer (spec.md §4.3) for
// every bit in bits, each of which is known to have its waiter bit set
// (i.e. a non-empty queue). The releasing goroutine takes the index lock
// and, for each bit in ascending order, dequeues the head waiter and clears
// that bit from the waiter's needed set. Once all processing is done, every
// waiter that became fully satisfied is woken. Wakeups are deferred until
// after the index lock is released so that a woken goroutine never
// immediately contends on the same lock its waker still holds.
//
// spec.md §4.3 step 4 additionally asks the releaser to "attempt to acquire
// additional still-needed bits of w" while it has the index lock. When a
// single Unlock call releases several bits at once - the common case - the
// bits.ascending loop below already grants every one of them to w in this
// same pass, which is exactly that step. A bit of w's that is not part of
// this release is, by construction, still held by some other goroutine (its
// lock bit never clears without going through this same transfer path), so
// there is nothing else to opportunistically grant from here; that bit's
// own eventual release drives its own transfer.
func transfer(o *Object, bits LockSet) {
	o.idx.Lock()
	var toWake []*WaitSlot
	bits.ascending(func(b LockBit) {
		n := o.queue[b].popFront()
		if n == nil {
			// Nothing actually queued (can happen if a concurrent Unlock
			// already drained it); nothing to transfer.
			o.flags.clearWaiter(b)
			return
		}
		w := n.slot
		w.needed = w.needed.Without(b)
		if o.queue[b].empty() {
			o.flags.clearWaiter(b)
		}
		// b is now granted to w: the lock bit itself was never cleared
		// across this handoff (we only ever touched the waiter bit and the
		// queue), so the invariant "never 0 between holders when a waiter
		// exists" holds by construction.
		if w.needed == 0 {
			toWake = append(toWake, w)
		}
	})
	o.idx.Unlock()

	for _, w := range toWake {
		w.wake()
	}
}
