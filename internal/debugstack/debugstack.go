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

// Package debugstack implements the cross-cutting lock-order checker
// described in spec.md §9: "a thread-local stack of (object_id, bit
// position) pushed on acquire, popped on release; violation check is 'new
// acquisition must be > current top in a total order that sorts bit first,
// then object id.'"
//
// It is opt-in: only callers that use mlock.LockChecked/UnlockChecked and
// pass a Stack are checked, so plain Lock/Unlock carry no checking cost at
// all.
package debugstack

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Entry is one (object id, bit position) pair pushed onto a goroutine's
// lock-order stack.
type Entry struct {
	ObjectID string
	Bit      uint
}

// less implements the total order the checker enforces: bit first, then
// object id.
func less(a, b Entry) bool {
	if a.Bit != b.Bit {
		return a.Bit < b.Bit
	}
	return a.ObjectID < b.ObjectID
}

// Stack is a goroutine-local (by construction: never shared across
// goroutines) lock-order stack. Callers obtain one via New per goroutine
// that participates in checked acquisition, typically stashed in a
// goroutine-scoped value the caller already threads through (this package
// has no access to real goroutine-local storage, matching the rest of this
// module's approach to thread affinity).
type Stack struct {
	entries []Entry
}

// New returns an empty order-checking stack.
func New() *Stack {
	return &Stack{}
}

// Violation describes a detected lock-order violation.
type Violation struct {
	Held    []Entry
	Attempt Entry
}

func (v *Violation) Error() string {
	return fmt.Sprintf("lock order violation: attempted to acquire %+v while holding %+v", v.Attempt, v.Held)
}

// Push records the acquisition of e, returning a Violation if e does not
// sort after every entry already on the stack (an entry equal to one
// already held is accepted and pushed again). It is the caller's
// responsibility to treat a non-nil Violation as fatal (spec.md §7: "abort
// with diagnostic").
func (s *Stack) Push(e Entry) *Violation {
	for _, held := range s.entries {
		if !less(held, e) && held != e {
			heldCopy := append([]Entry(nil), s.entries...)
			return &Violation{Held: heldCopy, Attempt: e}
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

// Pop removes the most recent matching entry for e (release order need not
// mirror acquire order exactly for bits within one multi-bit call, but each
// acquired entry must be popped exactly once).
func (s *Stack) Pop(e Entry) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i] == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Held returns a snapshot of the currently-held entries, for diagnostics.
func (s *Stack) Held() []Entry {
	return append([]Entry(nil), s.entries...)
}

// reporter rate-limits repeated violation diagnostics so that a goroutine
// hammering a bad lock order cannot flood the log; grounded in
// ice444999-coder-Bazil-The-Great's use of golang.org/x/time/rate in
// internal/agent/voice_handler.go, repurposed here for diagnostics instead
// of request admission.
type reporter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// NewReporter returns a reporter that allows at most perSecond emissions per
// second on average, bursting up to burst.
func NewReporter(perSecond float64, burst int) *reporter {
	return &reporter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Report calls emit(v) if the rate limiter currently allows it.
func (r *reporter) Report(v *Violation, emit func(*Violation)) {
	r.mu.Lock()
	allow := r.lim.Allow()
	r.mu.Unlock()
	if allow {
		emit(v)
	}
}
