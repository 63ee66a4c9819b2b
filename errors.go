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

// Outcome is the state machine lookup_and_lock returns into, per spec.md
// §4.5/§4.6: {NotFound, Busy, Locked(obj)}.
type Outcome int

const (
	// NotFound means the identifier named no live object - an unknown or
	// already-exited object. Never a fatal error.
	NotFound Outcome = iota
	// Busy means the caller requested TryLock and the fast path lost.
	// Never a fatal error.
	Busy
	// Locked means the object was found and the requested bits (if any)
	// were acquired.
	Locked
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case Locked:
		return "Locked"
	default:
		return "Outcome(?)"
	}
}

// orderViolation is a bug-class error (spec.md §7): a lock-order violation
// detected by the debug checker. It is never returned; callers see it only
// via panic, carrying the diagnostic spec.md asks for (held-lock set and
// file/line).
type orderViolation struct {
	msg string
}

func (e *orderViolation) Error() string { return e.msg }

// unheldRelease is a bug-class error: an attempt to Unlock a bit the caller
// does not actually hold. Detected by every Unlock (not only through
// LockChecked/UnlockChecked) since it is cheap to check and a caller that trips it has
// already corrupted its own bookkeeping.
type unheldRelease struct {
	msg string
}

func (e *unheldRelease) Error() string { return e.msg }
