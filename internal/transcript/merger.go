// Package transcript merges the streaming transcript fragments of a live
// conversation into ordered per-role turns.
package transcript

import (
	"fmt"
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	// RoleUser is the learner speaking into the microphone.
	RoleUser Role = "user"

	// RoleModel is the remote tutor.
	RoleModel Role = "model"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// ParseRole converts s to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("transcript: unknown role %q", s)
	}
	return r, nil
}

// Turn is one contiguous utterance by a single role.
//
// While a turn is open (Final == false) its Text only grows by appending
// fragments. Once finalized it never changes again.
type Turn struct {
	// Seq is the turn's position in the session, starting at 0.
	Seq int

	// Role is the speaker of this turn.
	Role Role

	// Text is the concatenation of every fragment received for the turn,
	// exactly as delivered (no trimming or spacing is added).
	Text string

	// Final is set when the remote service signalled the end of the turn.
	Final bool

	// StartedAt is when the first fragment arrived.
	StartedAt time.Time

	// FinalizedAt is when the turn was finalized. Zero while open.
	FinalizedAt time.Time
}

// Merger accumulates streaming transcript fragments into per-role turns.
//
// Turns are ordered by the arrival of their first fragment. Fragments for a
// role are appended to that role's most recent turn until the turn is
// finalized; the next fragment then opens a new turn. Turn completion is
// global: [Merger.CompleteTurn] finalizes the open turn of every role at once.
//
// The zero value is ready to use. A Merger is owned by one goroutine and is
// not safe for concurrent use.
type Merger struct {
	turns []Turn

	// open maps a role to the index of its open turn.
	open map[Role]int

	// Now is the clock used for turn timestamps. Nil means [time.Now].
	Now func() time.Time
}

// Append adds fragment to the open turn of role, opening a new turn if role
// has none. Empty fragments are ignored. It returns the updated turn and
// whether anything changed.
func (m *Merger) Append(role Role, fragment string) (Turn, bool) {
	if fragment == "" {
		return Turn{}, false
	}
	if m.open == nil {
		m.open = make(map[Role]int, 2)
	}
	if i, ok := m.open[role]; ok {
		m.turns[i].Text += fragment
		return m.turns[i], true
	}

	t := Turn{
		Seq:       len(m.turns),
		Role:      role,
		Text:      fragment,
		StartedAt: m.now(),
	}
	m.turns = append(m.turns, t)
	m.open[role] = t.Seq
	return t, true
}

// CompleteTurn finalizes every open turn and returns the turns it finalized
// in sequence order. It returns nil when no turn was open.
func (m *Merger) CompleteTurn() []Turn {
	if len(m.open) == 0 {
		return nil
	}
	now := m.now()
	done := make([]Turn, 0, len(m.open))
	// Open turns are always the most recent ones, so a backwards scan visits
	// them without iterating the map.
	for i := len(m.turns) - 1; i >= 0 && len(done) < len(m.open); i-- {
		if m.turns[i].Final {
			continue
		}
		m.turns[i].Final = true
		m.turns[i].FinalizedAt = now
		done = append(done, m.turns[i])
	}
	clear(m.open)

	// Restore sequence order.
	for l, r := 0, len(done)-1; l < r; l, r = l+1, r-1 {
		done[l], done[r] = done[r], done[l]
	}
	return done
}

// Turns returns a copy of all turns in order.
func (m *Merger) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Len returns the number of turns.
func (m *Merger) Len() int { return len(m.turns) }

// OpenTurns returns the number of turns not yet finalized (0, 1 or 2).
func (m *Merger) OpenTurns() int { return len(m.open) }

// Reset discards all turns.
func (m *Merger) Reset() {
	m.turns = nil
	clear(m.open)
}

func (m *Merger) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
