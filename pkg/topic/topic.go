// Package topic implements the topic-rotation bookkeeping layered on top
// of the Double Ratchet: deterministic re-derivation of the routing
// identifiers used to filter messages from the transport log, and the
// promotion/archival transform that keeps at most three inbound topics
// simultaneously valid (spec.md §3.1, §4.6, §4.7).
package topic

import "time"

// Set bundles the topic state for one side of a session: the live
// outbound/inbound pair, the pre-computed next pair, and the archived
// previous inbound topic with its grace-period expiry.
type Set struct {
	CurrentOutbound [32]byte
	CurrentInbound  [32]byte

	NextOutbound *[32]byte
	NextInbound  *[32]byte

	PreviousInbound *[32]byte
	PreviousExpiry  time.Time

	// Epoch counts DH ratchet steps observed by this side. Monotonically
	// nondecreasing across every persisted revision (spec.md §3.1).
	Epoch uint64
}

// Match describes which of a session's inbound topics an arriving message
// matched.
type Match int

const (
	MatchNone Match = iota
	MatchCurrent
	MatchNext
	MatchPrevious
)

// Locate reports which inbound slot, if any, t matches. It does not
// mutate s; promotion happens separately, inside ratchet.Decrypt's DH
// step once the message has decrypted.
func (s *Set) Locate(t [32]byte, now time.Time) Match {
	switch {
	case t == s.CurrentInbound:
		return MatchCurrent
	case s.NextInbound != nil && t == *s.NextInbound:
		return MatchNext
	case s.PreviousInbound != nil && t == *s.PreviousInbound && now.Before(s.PreviousExpiry):
		return MatchPrevious
	default:
		return MatchNone
	}
}

// Promote archives the current inbound topic to previous (with the given
// grace window), promotes next to current, clears next, and advances the
// epoch. Its only caller is ratchet.Decrypt's receive-side DH step; the
// session manager reports a "next" match without promoting.
func (s *Set) Promote(now time.Time, graceWindow time.Duration) {
	archived := s.CurrentInbound
	s.PreviousInbound = &archived
	s.PreviousExpiry = now.Add(graceWindow)

	if s.NextInbound != nil {
		s.CurrentInbound = *s.NextInbound
	}
	if s.NextOutbound != nil {
		s.CurrentOutbound = *s.NextOutbound
	}
	s.NextInbound = nil
	s.NextOutbound = nil
	s.Epoch++
}

// SetNext installs the pre-computed next topic pair, as done immediately
// after a DH ratchet step so the receiver can index inbound events before
// the peer's next message arrives (spec.md §9: "omitting it silently
// breaks receive after any DH step").
func (s *Set) SetNext(outbound, inbound [32]byte) {
	o, i := outbound, inbound
	s.NextOutbound = &o
	s.NextInbound = &i
}

// Clone returns a deep copy, preserving the "session = value" discipline
// (spec.md §9) so callers can hand out a Set without aliasing pointers.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	clone := *s
	if s.NextOutbound != nil {
		v := *s.NextOutbound
		clone.NextOutbound = &v
	}
	if s.NextInbound != nil {
		v := *s.NextInbound
		clone.NextInbound = &v
	}
	if s.PreviousInbound != nil {
		v := *s.PreviousInbound
		clone.PreviousInbound = &v
	}
	return &clone
}
