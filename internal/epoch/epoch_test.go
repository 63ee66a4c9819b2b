package epoch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriticalSectionTracksConcurrentEntrants(t *testing.T) {
	var g Guard
	assert.False(t, g.InCritical())

	g.EnterCritical()
	g.EnterCritical()
	assert.True(t, g.InCritical())

	g.ExitCritical()
	assert.True(t, g.InCritical())

	g.ExitCritical()
	assert.False(t, g.InCritical())
}

func TestRefCountRoundTrips(t *testing.T) {
	var g Guard
	assert.Equal(t, int64(0), g.RefCount())

	g.Ref()
	g.Ref()
	assert.Equal(t, int64(2), g.RefCount())

	g.Unref()
	assert.Equal(t, int64(1), g.RefCount())
}

func TestUnrefWithoutMatchingRefPanics(t *testing.T) {
	var g Guard
	assert.Panics(t, func() {
		g.Unref()
	})
}

func TestGuardConcurrentUse(t *testing.T) {
	var g Guard
	var wg sync.WaitGroup
	const n = 64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.EnterCritical()
			g.Ref()
			g.Unref()
			g.ExitCritical()
		}()
	}
	wg.Wait()
	assert.False(t, g.InCritical())
	assert.Equal(t, int64(0), g.RefCount())
}
