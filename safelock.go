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

// Safelock acquires want1 on o1 and want2 on o2 together, given that the
// caller already holds have1 on o1 and have2 on o2, without deadlocking
// against any other goroutine that also only ever acquires locks through
// Lock or Safelock. spec.md §4.4, §6 `safelock(A, haveA, needA, B, haveB,
// needB)`.
//
// The global lock order this enforces is: ascending bit position within an
// object (the same order Lock already uses), and - across two objects -
// bits of the same position are always acquired on the lower-identifier
// object before the higher-identifier one. Any two-object acquisition that
// violates either rule can deadlock; Safelock is the only sanctioned way to
// hold bits on two objects at once for exactly that reason.
func Safelock(o1 *Object, have1, want1 LockSet, o2 *Object, have2, want2 LockSet) {
	if o1.ID == o2.ID {
		// Identical objects collapse to a single plain acquisition of
		// whatever is additionally needed (spec.md §4.4 step 1).
		need := (want1 | want2) &^ (have1 | have2)
		Lock(o1, need)
		return
	}

	// Step 1: canonical order by identifier, smaller first.
	p1, p2 := o1, o2
	haveP1, haveP2 := have1, have2
	wantP1, wantP2 := want1, want2
	if o2.ID < o1.ID {
		p1, p2 = o2, o1
		haveP1, haveP2 = have2, have1
		wantP1, wantP2 = want2, want1
	}

	// Step 2: what's actually still needed on each object.
	need1 := wantP1 &^ haveP1
	need2 := wantP2 &^ haveP2
	if need1 == 0 && need2 == 0 {
		return
	}

	// Step 3: unlock_mask is every bit position from the lowest
	// needed-but-not-held bit on either object through the top of the word.
	// Every currently-held bit of either object at or above that point is
	// released - even bits that were already held and not newly needed - so
	// that no held bit is left sitting above a bit the loop below still has
	// to acquire; otherwise reacquisition could not proceed strictly in
	// ascending order across both objects.
	lowest, any := lowestNeededBit(need1 | need2)
	var unlockMask LockSet
	if any {
		unlockMask = suffixFrom(lowest)
	}
	releaseP1 := haveP1 & unlockMask
	releaseP2 := haveP2 & unlockMask

	if releaseP1 != 0 {
		// Pin p1 with an extra reference before dropping the locks in
		// releaseP1, so a concurrent Fin cannot tear it down while it is
		// momentarily unheld (spec.md §4.4 step "obtains an extra reference
		// ... via the epoch mechanism").
		p1.Epoch.Ref()
		Unlock(p1, releaseP1)
	}
	if releaseP2 != 0 {
		p2.Epoch.Ref()
		Unlock(p2, releaseP2)
	}

	// Step 4: reacquire in ascending bit order, alternating p1 then p2 at
	// each position - bits of the same position are always acquired on the
	// lower-id object (p1) before the higher-id object (p2).
	for b := LockBit(0); b < maxBits; b++ {
		needP1Bit := need1.Has(b) || (unlockMask.Has(b) && haveP1.Has(b))
		needP2Bit := need2.Has(b) || (unlockMask.Has(b) && haveP2.Has(b))
		if needP1Bit {
			Lock(p1, bitOf(b))
		}
		if needP2Bit {
			Lock(p2, bitOf(b))
		}
	}

	if releaseP1 != 0 {
		p1.Epoch.Unref()
	}
	if releaseP2 != 0 {
		p2.Epoch.Unref()
	}
}

// lowestNeededBit returns the lowest set bit position in s and true, or
// (0, false) if s is empty.
func lowestNeededBit(s LockSet) (LockBit, bool) {
	for b := LockBit(0); b < maxBits; b++ {
		if s.Has(b) {
			return b, true
		}
	}
	return 0, false
}

// suffixFrom returns every bit position from b through maxBits-1 inclusive.
func suffixFrom(b LockBit) LockSet {
	var s LockSet
	for i := b; i < maxBits; i++ {
		s = s.With(i)
	}
	return s
}
