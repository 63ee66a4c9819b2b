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

// Command mlockdemo exercises the lock engine end to end: it populates an
// object table, then spins up a configurable number of goroutines issuing
// randomized lock/unlock/safelock/lookup-and-lock traffic against a small
// pool of shared objects, directly modeled on the teacher's
// benchmarkLocking harness (mutexes[i] "owning" a branch of shared state,
// walked top-down on acquire and bottom-up on release).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/go-mlock/mlock"
	"github.com/go-mlock/mlock/internal/objtable"
)

func main() {
	concurrency := flag.Int("concurrency", 20, "number of goroutines issuing lock traffic")
	objects := flag.Int("objects", 10, "number of objects in the demo table")
	rounds := flag.Int("rounds", 2000, "lock/unlock rounds per goroutine")
	safelockFrac := flag.Float64("safelock-frac", 0.1, "fraction of rounds that safelock a second object")
	flag.Parse()

	table := objtable.New(64, *concurrency*2)
	ids := make([]string, *objects)
	objs := make([]*mlock.Object, *objects)
	for i := range objs {
		id := objtable.NewID()
		ids[i] = id
		objs[i] = mlock.NewObject(mlock.ObjectID(id))
		mlock.Unlock(objs[i], mlock.AllNamed) // demo objects start quiescent, not self-held
		table.Insert(id, objs[i])
	}

	var wg sync.WaitGroup
	var successes, busies, reorders uint64
	var mu sync.Mutex

	start := time.Now()
	for g := 0; g < *concurrency; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			ctx := context.Background()

			for r := 0; r < *rounds; r++ {
				primary := ids[rng.Intn(len(ids))]
				want := randomLockSet(rng)

				if rng.Float64() < *safelockFrac && len(ids) > 1 {
					secondary := ids[rng.Intn(len(ids))]
					if secondary == primary {
						continue
					}
					outcome, obj := mlock.LookupAndLock(ctx, table, primary, mlock.Bits(mlock.Main), 0, nil)
					if outcome != mlock.Locked {
						mu.Lock()
						busies++
						mu.Unlock()
						continue
					}
					held := &mlock.Held{Object: obj, Bits: mlock.Bits(mlock.Main)}
					outcome2, obj2 := mlock.LookupAndLock(ctx, table, secondary, want, 0, held)
					if outcome2 == mlock.Locked {
						mlock.Unlock(obj2, want)
						mu.Lock()
						reorders++
						mu.Unlock()
					}
					mlock.Unlock(obj, mlock.Bits(mlock.Main))
					continue
				}

				outcome, obj := mlock.LookupAndLock(ctx, table, primary, want, mlock.TryLockFlag, nil)
				switch outcome {
				case mlock.Locked:
					mlock.Unlock(obj, want)
					mu.Lock()
					successes++
					mu.Unlock()
				case mlock.Busy:
					mu.Lock()
					busies++
					mu.Unlock()
				case mlock.NotFound:
					log.Printf("mlockdemo: unexpected NotFound for %s", primary)
				}
			}
		}(int64(g) * 7919)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("mlockdemo: %d goroutines x %d rounds against %d objects in %s\n",
		*concurrency, *rounds, *objects, elapsed)
	fmt.Printf("  successes=%d busy=%d safelock-reorders=%d\n", successes, busies, reorders)
}

func randomLockSet(rng *rand.Rand) mlock.LockSet {
	all := []mlock.LockBit{mlock.Main, mlock.MsgQ, mlock.Btm, mlock.Status, mlock.Trace}
	n := 1 + rng.Intn(len(all))
	chosen := make([]mlock.LockBit, 0, n)
	for _, i := range rng.Perm(len(all))[:n] {
		chosen = append(chosen, all[i])
	}
	return mlock.Bits(chosen...)
}
