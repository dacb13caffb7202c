// Package mock provides a configurable test double for [archive.Store].
//
// The mock records every call for assertion in tests and exposes exported
// fields that control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.Store{AppendErr: errors.New("db down")}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Append"); got != 1 {
//	    t.Errorf("expected 1 Append call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lugha/pkg/archive"
)

var _ archive.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a test double for [archive.Store]. Appended turns are kept so
// tests can inspect them with [Store.Appended].
type Store struct {
	mu    sync.Mutex
	calls []Call
	turns map[string][]archive.Turn

	// AppendErr is returned by Append when non-nil. Failed appends are not
	// recorded in Appended.
	AppendErr error

	// RecentResult is returned by Recent when non-nil; otherwise Recent
	// returns the appended turns.
	RecentResult []archive.Turn

	// RecentErr is returned by Recent when non-nil.
	RecentErr error

	// PingErr is returned by Ping.
	PingErr error

	// Appends receives the session ID after every successful Append when
	// non-nil. Sends are non-blocking.
	Appends chan string
}

// Append implements [archive.Store].
func (s *Store) Append(_ context.Context, sessionID string, turns []archive.Turn) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "Append", Args: []any{sessionID, turns}})
	if s.AppendErr != nil {
		err := s.AppendErr
		s.mu.Unlock()
		return err
	}
	if s.turns == nil {
		s.turns = make(map[string][]archive.Turn)
	}
	s.turns[sessionID] = append(s.turns[sessionID], turns...)
	notify := s.Appends
	s.mu.Unlock()

	if notify != nil {
		select {
		case notify <- sessionID:
		default:
		}
	}
	return nil
}

// Recent implements [archive.Store].
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]archive.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Recent", Args: []any{sessionID, limit}})
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if s.RecentResult != nil {
		return s.RecentResult, nil
	}
	out := append([]archive.Turn(nil), s.turns[sessionID]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping implements [archive.Pinger].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Ping"})
	return s.PingErr
}

// SetAppendErr changes AppendErr under the lock.
func (s *Store) SetAppendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendErr = err
}

// Appended returns a copy of every turn successfully appended for sessionID.
func (s *Store) Appended(sessionID string) []archive.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.Turn(nil), s.turns[sessionID]...)
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
