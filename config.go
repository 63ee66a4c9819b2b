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

// SpinConfig tunes the bounded spin-then-block policy that runs before a
// contended Lock call falls through to the index-locked slow path
// (spec.md §4.2, §6). The teacher hardcoded its condvar-wait tuning as three
// constants (startingBackoff, maxBackoff, backoffFactor), which indexlock.go
// still keeps as constants; the spin knobs spec.md §6 names are gathered
// here in an options struct with one constructor for the defaults.
type SpinConfig struct {
	// SpinCountBase is the base number of fast-path retries for callers
	// that identify as scheduler threads, before SchedulerSpinIncrement is
	// added. Non-scheduler callers (including plain Lock) do not use it.
	SpinCountBase int

	// SchedulerSpinIncrement is added to the spin budget per scheduler
	// thread for callers that identify as scheduler threads.
	SchedulerSpinIncrement int

	// AuxiliarySpinCap bounds the spin budget for non-scheduler
	// ("auxiliary") callers, regardless of CPU count.
	AuxiliarySpinCap int

	// MaxSpinCap is the hard ceiling on the spin budget regardless of how
	// it was computed.
	MaxSpinCap int

	// YieldStride is how many spin iterations elapse between voluntary
	// yields (runtime.Gosched calls).
	YieldStride int

	// NumCPU overrides runtime.NumCPU for spin-count scaling; zero means
	// use runtime.NumCPU().
	NumCPU int
}

// DefaultConfig returns the tunables named in spec.md §6, unchanged from
// their documented defaults.
func DefaultConfig() SpinConfig {
	return SpinConfig{
		SpinCountBase:          1000,
		SchedulerSpinIncrement: 32,
		AuxiliarySpinCap:       50,
		MaxSpinCap:             2000,
		YieldStride:            25,
	}
}

// budget computes the spin budget for a single Lock call, per spec.md §4.2:
// "scaled by CPU count and whether the thread is a scheduler thread vs
// auxiliary."
func (c SpinConfig) budget(schedulerThread bool) int {
	cpus := c.NumCPU
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	var n int
	if schedulerThread {
		n = c.SpinCountBase + c.SchedulerSpinIncrement*cpus
	} else {
		n = c.AuxiliarySpinCap
	}
	if n > c.MaxSpinCap {
		n = c.MaxSpinCap
	}
	if n < 0 {
		n = 0
	}
	return n
}
