// Package scheduler places decoded playback buffers back-to-back on an
// [audio.OutputDevice] clock so that consecutive remote audio chunks play
// gaplessly and strictly in arrival order.
//
// A [Scheduler] keeps a playback cursor: the device time at which the last
// scheduled buffer ends. Each new buffer starts at max(cursor, now+leadTime),
// so buffers never overlap and never start in the past. [Scheduler.Interrupt]
// hard-stops everything still pending and resets the cursor to the present.
//
// A Scheduler is owned by a single goroutine (the session dispatcher) and is
// not safe for concurrent use. Device completion callbacks must not call into
// the Scheduler directly; they should hand the finished [audio.Handle] back to
// the owning goroutine, which then calls [Scheduler.Complete].
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("scheduler: closed")

// Slot describes where a buffer was placed on the device timeline.
type Slot struct {
	// Handle identifies the buffer on the output device.
	Handle audio.Handle

	// Start is the device time at which the buffer begins playing.
	Start time.Duration

	// Duration is the buffer's playback length.
	Duration time.Duration

	// Delay is how far in the future Start was when the buffer was scheduled.
	Delay time.Duration
}

// End returns the device time at which the buffer finishes.
func (s Slot) End() time.Duration { return s.Start + s.Duration }

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLeadTime sets the minimum distance between the device clock and the
// start of a newly scheduled buffer. Zero (the default) schedules buffers to
// start immediately when the device is idle.
func WithLeadTime(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lead = d
		}
	}
}

// WithCompletion sets the callback passed to the device for every scheduled
// buffer. It runs on a device goroutine and must not block or touch the
// Scheduler.
func WithCompletion(fn func(audio.Handle)) Option {
	return func(s *Scheduler) {
		s.done = fn
	}
}

// Scheduler maintains the gapless playback timeline for one session.
type Scheduler struct {
	out    audio.OutputDevice
	lead   time.Duration
	done   func(audio.Handle)
	cursor time.Duration

	// pending is ordered by start time, which equals scheduling order.
	pending []Slot
	closed  bool
}

// New creates a Scheduler on out. The cursor starts at out.Now().
func New(out audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{out: out}
	for _, o := range opts {
		o(s)
	}
	s.cursor = out.Now()
	return s
}

// Schedule places buf directly after the previously scheduled buffer, or at
// now+leadTime if the device has already caught up. Empty buffers are
// ignored and return a zero-length slot at the cursor.
//
// A device failure is returned wrapped; the scheduler state is unchanged.
func (s *Scheduler) Schedule(buf audio.AudioFrame) (Slot, error) {
	if s.closed {
		return Slot{}, ErrClosed
	}
	if len(buf.Samples) == 0 {
		return Slot{Start: s.cursor}, nil
	}
	if buf.SampleRate <= 0 {
		buf.SampleRate = s.out.SampleRate()
	}

	now := s.out.Now()
	start := max(s.cursor, now+s.lead)

	h, err := s.out.Schedule(buf, start, s.done)
	if err != nil {
		return Slot{}, fmt.Errorf("scheduler: schedule buffer at %v: %w", start, err)
	}

	slot := Slot{
		Handle:   h,
		Start:    start,
		Duration: buf.Duration(),
		Delay:    start - now,
	}
	s.pending = append(s.pending, slot)
	s.cursor = slot.End()
	return slot, nil
}

// Complete removes the buffer identified by h from the pending set. It
// reports whether h was pending; completions for buffers already removed by
// [Scheduler.Interrupt] are ignored.
func (s *Scheduler) Complete(h audio.Handle) bool {
	for i, slot := range s.pending {
		if slot.Handle == h {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Interrupt stops every pending buffer immediately, clears the pending set,
// and resets the cursor to the device clock so the next buffer starts without
// waiting for the discarded audio. It returns the number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	n := len(s.pending)
	for _, slot := range s.pending {
		if err := s.out.Stop(slot.Handle); err != nil {
			slog.Warn("scheduler: stop buffer", "handle", slot.Handle, "err", err)
		}
	}
	s.pending = s.pending[:0]
	if !s.closed {
		s.cursor = s.out.Now()
	}
	return n
}

// Cursor returns the device time at which the last scheduled buffer ends.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

// Pending returns the number of scheduled buffers not yet completed.
func (s *Scheduler) Pending() int { return len(s.pending) }

// PendingSlots returns a copy of the pending buffers in start order.
func (s *Scheduler) PendingSlots() []Slot {
	out := make([]Slot, len(s.pending))
	copy(out, s.pending)
	return out
}

// Close interrupts all pending playback. Subsequent calls to Schedule fail
// with [ErrClosed]. The output device itself is not closed. Close is
// idempotent.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.Interrupt()
	s.closed = true
}
