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
	"runtime"

	"github.com/go-mlock/mlock/internal/debugstack"
)

// LockChecked is Lock with the opt-in lock-order checker from spec.md §9
// wired in: before acquiring, it pushes each requested bit onto stack in
// ascending order and panics with an *orderViolation (the held entries, the
// attempted entry, and the file/line of the LockChecked call) if any bit does
// not sort after everything stack already holds. Building against
// LockChecked/UnlockChecked rather than Lock/Unlock is how a caller opts
// into checking; a production build that never calls these pays nothing for
// the checker.
func LockChecked(o *Object, s LockSet, stack *debugstack.Stack) {
	_, file, line, _ := runtime.Caller(1)
	s.ascending(func(b LockBit) {
		if v := stack.Push(debugstack.Entry{ObjectID: string(o.ID), Bit: uint(b)}); v != nil {
			panic(&orderViolation{msg: fmt.Sprintf("mlock: %v (LockChecked at %s:%d)", v, file, line)})
		}
	})
	Lock(o, s)
}

// UnlockChecked is Unlock with the matching stack pop.
func UnlockChecked(o *Object, s LockSet, stack *debugstack.Stack) {
	Unlock(o, s)
	s.ascending(func(b LockBit) {
		stack.Pop(debugstack.Entry{ObjectID: string(o.ID), Bit: uint(b)})
	})
}
