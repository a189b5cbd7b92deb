package topic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fill(b byte) [32]byte {
	var t [32]byte
	for i := range t {
		t[i] = b
	}
	return t
}

func TestLocateCurrent(t *testing.T) {
	s := &Set{CurrentInbound: fill(1)}
	assert.Equal(t, MatchCurrent, s.Locate(fill(1), time.Now()))
	assert.Equal(t, MatchNone, s.Locate(fill(2), time.Now()))
}

func TestLocateNextAndPromote(t *testing.T) {
	a := assert.New(t)
	s := &Set{CurrentInbound: fill(1), CurrentOutbound: fill(10)}
	s.SetNext(fill(20), fill(2))

	a.Equal(MatchNext, s.Locate(fill(2), time.Now()))

	now := time.Now()
	s.Promote(now, 5*time.Minute)

	a.Equal(fill(2), s.CurrentInbound)
	a.Equal(fill(20), s.CurrentOutbound)
	a.Nil(s.NextInbound)
	a.Nil(s.NextOutbound)
	a.NotNil(s.PreviousInbound)
	a.Equal(fill(1), *s.PreviousInbound)
	a.Equal(uint64(1), s.Epoch)
}

func TestPreviousTopicGracePeriod(t *testing.T) {
	a := assert.New(t)
	s := &Set{CurrentInbound: fill(1)}
	s.SetNext(fill(99), fill(2))

	start := time.Now()
	s.Promote(start, 5*time.Minute)

	// within the grace window, the old topic still routes here
	a.Equal(MatchPrevious, s.Locate(fill(1), start.Add(2*time.Minute)))
	// past the grace window, it no longer does
	a.Equal(MatchNone, s.Locate(fill(1), start.Add(6*time.Minute)))
}

func TestCloneIsIndependent(t *testing.T) {
	a := assert.New(t)
	s := &Set{CurrentInbound: fill(1)}
	s.SetNext(fill(2), fill(3))

	clone := s.Clone()
	clone.Promote(time.Now(), time.Minute)

	a.Equal(fill(1), s.CurrentInbound, "original must be unaffected by mutating the clone")
	a.Equal(uint64(0), s.Epoch)
	a.Equal(uint64(1), clone.Epoch)
}

func TestEpochMonotonic(t *testing.T) {
	s := &Set{CurrentInbound: fill(1)}
	for i := 0; i < 3; i++ {
		next := fill(byte(i + 2))
		s.SetNext(fill(byte(i + 50)), next)
		s.Promote(time.Now(), time.Minute)
	}
	assert.Equal(t, uint64(3), s.Epoch)
}
