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

import "go.uber.org/atomic"

// flagWord is the packed lock-bit/waiter-bit word described in SPEC_FULL.md
// §3/§4.1. Lock positions live in the low half, their paired waiter
// positions shifted up by waiterShift - the same "pack several small fields
// into one machine word, mutate with a CAS loop" shape the teacher's own
// Mutex.state used for its four intention-lock states, generalized from four
// fixed fields to up to sixteen independently addressable bit/waiter pairs.
type flagWord struct {
	v atomic.Uint32
}

func (fw *flagWord) load() uint32 {
	return fw.v.Load()
}

// orPrev atomically sets every bit in mask and returns the word's value
// immediately before the update - the "OR-and-return-previous" primitive
// SPEC_FULL.md §4.1 builds the fast path on. It is a CAS loop over the
// go.uber.org/atomic Uint32 wrapper's Load and CompareAndSwap, not a single
// hardware fetch-or.
func (fw *flagWord) orPrev(mask uint32) uint32 {
	for {
		old := fw.v.Load()
		if mask == 0 {
			return old
		}
		if fw.v.CompareAndSwap(old, old|mask) {
			return old
		}
	}
}

// andPrev atomically clears every bit cleared in mask (i.e. ANDs the word
// with mask) and returns the word's value immediately before the update.
func (fw *flagWord) andPrev(mask uint32) uint32 {
	for {
		old := fw.v.Load()
		if old&mask == old {
			return old
		}
		if fw.v.CompareAndSwap(old, old&mask) {
			return old
		}
	}
}

// trySetWaiter sets the waiter bit for b; it is a no-op if the bit is already
// set. Used only under the index lock (invariant 3:
// waiter bits change only via a successful release CAS or under the index
// lock).
func (fw *flagWord) trySetWaiter(b LockBit) {
	fw.orPrev(waiterMask(b))
}

func (fw *flagWord) clearWaiter(b LockBit) {
	fw.andPrev(^waiterMask(b))
}
