package debugstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAscendingBitsSucceeds(t *testing.T) {
	s := New()
	assert.Nil(t, s.Push(Entry{ObjectID: "x", Bit: 0}))
	assert.Nil(t, s.Push(Entry{ObjectID: "x", Bit: 1}))
	assert.Len(t, s.Held(), 2)
}

func TestPushDescendingBitViolates(t *testing.T) {
	s := New()
	require.Nil(t, s.Push(Entry{ObjectID: "x", Bit: 2}))

	v := s.Push(Entry{ObjectID: "x", Bit: 1})
	require.NotNil(t, v)
	assert.Equal(t, Entry{ObjectID: "x", Bit: 1}, v.Attempt)
	assert.Contains(t, v.Held, Entry{ObjectID: "x", Bit: 2})
}

func TestPushSameBitLowerObjectIDViolates(t *testing.T) {
	s := New()
	require.Nil(t, s.Push(Entry{ObjectID: "2", Bit: 0}))

	v := s.Push(Entry{ObjectID: "1", Bit: 0})
	assert.NotNil(t, v)
}

func TestPushSameBitHigherObjectIDSucceeds(t *testing.T) {
	s := New()
	require.Nil(t, s.Push(Entry{ObjectID: "1", Bit: 0}))
	assert.Nil(t, s.Push(Entry{ObjectID: "2", Bit: 0}))
}

func TestPopRemovesMostRecentMatch(t *testing.T) {
	s := New()
	e := Entry{ObjectID: "x", Bit: 0}
	require.Nil(t, s.Push(e))
	require.Len(t, s.Held(), 1)

	s.Pop(e)
	assert.Empty(t, s.Held())
}

func TestViolationErrorMentionsBothSides(t *testing.T) {
	s := New()
	require.Nil(t, s.Push(Entry{ObjectID: "x", Bit: 2}))
	v := s.Push(Entry{ObjectID: "x", Bit: 1})
	require.NotNil(t, v)
	assert.Contains(t, v.Error(), "lock order violation")
}

func TestReporterRateLimitsEmission(t *testing.T) {
	r := NewReporter(1, 1)
	v := &Violation{Attempt: Entry{ObjectID: "x", Bit: 0}}

	emitted := 0
	r.Report(v, func(*Violation) { emitted++ })
	r.Report(v, func(*Violation) { emitted++ })
	assert.Equal(t, 1, emitted, "second emission within the same burst window must be suppressed")

	time.Sleep(1100 * time.Millisecond)
	r.Report(v, func(*Violation) { emitted++ })
	assert.Equal(t, 2, emitted, "emission should be allowed again once the limiter refills")
}
