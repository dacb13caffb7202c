package scheduler_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/audio/mock"
	"github.com/MrWong99/lugha/pkg/audio/scheduler"
)

const rate = 24000

// chunk returns a silent playback buffer of length d at the test rate.
func chunk(d time.Duration) audio.AudioFrame {
	return audio.AudioFrame{
		Samples:    make([]float32, audio.DurationSamples(d, rate)),
		SampleRate: rate,
	}
}

// completions collects handles reported by the device and lets the test feed
// them back into the scheduler, the way a session dispatcher would.
type completions struct {
	mu      sync.Mutex
	handles []audio.Handle
}

func (c *completions) record(h audio.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = append(c.handles, h)
}

func (c *completions) drainInto(s *scheduler.Scheduler) {
	c.mu.Lock()
	hs := c.handles
	c.handles = nil
	c.mu.Unlock()
	for _, h := range hs {
		s.Complete(h)
	}
}

func TestSchedule_ContiguousChunks(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	var done completions
	s := scheduler.New(out, scheduler.WithCompletion(done.record))

	// Chunks of 200ms, 150ms and 300ms arriving 50ms apart.
	durations := []time.Duration{200 * time.Millisecond, 150 * time.Millisecond, 300 * time.Millisecond}
	var slots []scheduler.Slot
	for i, d := range durations {
		if i > 0 {
			out.Advance(50 * time.Millisecond)
		}
		slot, err := s.Schedule(chunk(d))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		slots = append(slots, slot)
	}

	wantStarts := []time.Duration{0, 200 * time.Millisecond, 350 * time.Millisecond}
	for i, slot := range slots {
		if slot.Start != wantStarts[i] {
			t.Errorf("slot %d start: got %v, want %v", i, slot.Start, wantStarts[i])
		}
	}
	if got := s.Cursor(); got != 650*time.Millisecond {
		t.Errorf("cursor: got %v, want 650ms", got)
	}

	// Play to the end: all three complete with no gap or overlap.
	out.Advance(600 * time.Millisecond)
	done.drainInto(s)
	if s.Pending() != 0 {
		t.Errorf("pending after playback: got %d, want 0", s.Pending())
	}
	tl := out.Timeline()
	for i := 1; i < len(tl); i++ {
		if tl[i].Start != tl[i-1].End() {
			t.Errorf("buffer %d starts at %v, previous ends at %v", i, tl[i].Start, tl[i-1].End())
		}
	}
	if last := tl[len(tl)-1].End(); last != 650*time.Millisecond {
		t.Errorf("playback end: got %v, want 650ms", last)
	}
}

func TestSchedule_NeverOverlapsUnderRandomArrivals(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(7, 11))
	out := mock.NewOutput(rate)
	var done completions
	s := scheduler.New(out,
		scheduler.WithCompletion(done.record),
		scheduler.WithLeadTime(5*time.Millisecond),
	)

	var prevEnd time.Duration
	for i := range 200 {
		out.Advance(time.Duration(r.IntN(120)) * time.Millisecond)
		done.drainInto(s)

		now := out.Now()
		slot, err := s.Schedule(chunk(time.Duration(1+r.IntN(250)) * time.Millisecond))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if slot.Start < prevEnd {
			t.Fatalf("buffer %d starts at %v before previous end %v", i, slot.Start, prevEnd)
		}
		if slot.Start < now+5*time.Millisecond {
			t.Fatalf("buffer %d starts at %v, before now+lead %v", i, slot.Start, now+5*time.Millisecond)
		}
		if slot.End() != s.Cursor() {
			t.Fatalf("cursor %v does not match end of buffer %d (%v)", s.Cursor(), i, slot.End())
		}
		prevEnd = slot.End()
	}
}

func TestSchedule_IdleDeviceStartsAtNowPlusLead(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	s := scheduler.New(out, scheduler.WithLeadTime(20*time.Millisecond))

	out.Advance(time.Second)
	slot, err := s.Schedule(chunk(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if slot.Start != time.Second+20*time.Millisecond {
		t.Errorf("start: got %v, want 1.02s", slot.Start)
	}
	if slot.Delay != 20*time.Millisecond {
		t.Errorf("delay: got %v, want 20ms", slot.Delay)
	}
}

func TestInterrupt_StopsPendingAndResetsCursor(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	var done completions
	s := scheduler.New(out, scheduler.WithCompletion(done.record))

	for _, d := range []time.Duration{200 * time.Millisecond, 150 * time.Millisecond, 300 * time.Millisecond} {
		if _, err := s.Schedule(chunk(d)); err != nil {
			t.Fatal(err)
		}
	}

	// Mid-playback of the second buffer.
	out.Advance(250 * time.Millisecond)
	done.drainInto(s)
	if s.Pending() != 2 {
		t.Fatalf("pending before interrupt: got %d, want 2", s.Pending())
	}

	if n := s.Interrupt(); n != 2 {
		t.Errorf("Interrupt stopped %d buffers, want 2", n)
	}
	if s.Pending() != 0 {
		t.Errorf("pending after interrupt: got %d, want 0", s.Pending())
	}
	if out.Active() != 0 {
		t.Errorf("device still has %d active buffers", out.Active())
	}
	if s.Cursor() != 250*time.Millisecond {
		t.Errorf("cursor after interrupt: got %v, want 250ms", s.Cursor())
	}

	// Audio arriving after the interruption starts now, not after the
	// discarded buffers.
	slot, err := s.Schedule(chunk(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if slot.Start != 250*time.Millisecond {
		t.Errorf("post-interrupt start: got %v, want 250ms", slot.Start)
	}

	// Late completions of stopped buffers are ignored.
	for _, sc := range out.Timeline()[1:3] {
		if s.Complete(sc.Handle) {
			t.Errorf("Complete(%d) reported a stopped buffer as pending", sc.Handle)
		}
	}
	if s.Pending() != 1 {
		t.Errorf("pending: got %d, want 1", s.Pending())
	}
}

func TestInterrupt_Empty(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	s := scheduler.New(out)
	out.Advance(time.Second)
	if n := s.Interrupt(); n != 0 {
		t.Errorf("got %d, want 0", n)
	}
	if s.Cursor() != time.Second {
		t.Errorf("cursor: got %v, want 1s", s.Cursor())
	}
}

func TestSchedule_DeviceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("device gone")
	out := mock.NewOutput(rate)
	out.ScheduleError = boom
	s := scheduler.New(out)

	_, err := s.Schedule(chunk(10 * time.Millisecond))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped %v", err, boom)
	}
	if s.Cursor() != 0 || s.Pending() != 0 {
		t.Errorf("state changed after failure: cursor=%v pending=%d", s.Cursor(), s.Pending())
	}
}

func TestSchedule_EmptyBufferIgnored(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	s := scheduler.New(out)
	if _, err := s.Schedule(audio.AudioFrame{SampleRate: rate}); err != nil {
		t.Fatal(err)
	}
	if len(out.Timeline()) != 0 {
		t.Error("empty buffer reached the device")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(rate)
	s := scheduler.New(out)
	if _, err := s.Schedule(chunk(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()

	if out.Active() != 0 {
		t.Errorf("active buffers after Close: %d", out.Active())
	}
	if _, err := s.Schedule(chunk(10 * time.Millisecond)); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("Schedule after Close: got %v, want ErrClosed", err)
	}
}
