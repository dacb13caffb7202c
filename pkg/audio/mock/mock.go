// Package mock provides in-memory mock implementations of [audio.Devices],
// [audio.InputDevice], and [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// [Output] runs on a manual clock: nothing plays until the test calls
// [Output.Advance], which makes scheduling assertions deterministic.
//
// Typical usage:
//
//	in := mock.NewInput(16000, 4096)
//	out := mock.NewOutput(24000)
//	devs := &mock.Devices{Input: in, Output: out}
//	in.Push(make([]float32, 4096))
//	out.Advance(200 * time.Millisecond)
package mock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
)

// ErrClosed is returned by device methods after Close.
var ErrClosed = errors.New("mock: device closed")

// Compile-time interface assertions.
var (
	_ audio.Devices      = (*Devices)(nil)
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock [audio.InputDevice]. Blocks queued with [Input.Push] are
// returned by ReadBlock in order.
type Input struct {
	rate, size int

	blocks    chan []float32
	failures  chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu sync.Mutex

	// CallCountReadBlock records how many reads returned a block.
	CallCountReadBlock int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInput creates an Input reporting the given rate and block size.
func NewInput(rate, size int) *Input {
	return &Input{
		rate:     rate,
		size:     size,
		blocks:   make(chan []float32, 256),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Push queues one block for ReadBlock. It never blocks; blocks beyond the
// internal buffer are dropped.
func (i *Input) Push(block []float32) {
	select {
	case i.blocks <- block:
	default:
	}
}

// Fail makes the next ReadBlock return err.
func (i *Input) Fail(err error) {
	select {
	case i.failures <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (i *Input) Closed() bool {
	select {
	case <-i.closed:
		return true
	default:
		return false
	}
}

// ReadBlock implements [audio.InputDevice].
func (i *Input) ReadBlock(ctx context.Context) ([]float32, error) {
	select {
	case <-i.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-i.closed:
		return nil, ErrClosed
	case err := <-i.failures:
		return nil, err
	case b := <-i.blocks:
		i.mu.Lock()
		i.CallCountReadBlock++
		i.mu.Unlock()
		return b, nil
	}
}

// SampleRate implements [audio.InputDevice].
func (i *Input) SampleRate() int { return i.rate }

// BlockSize implements [audio.InputDevice].
func (i *Input) BlockSize() int { return i.size }

// Close implements [audio.InputDevice].
func (i *Input) Close() error {
	i.mu.Lock()
	i.CallCountClose++
	i.mu.Unlock()
	i.closeOnce.Do(func() { close(i.closed) })
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Scheduled is the record of one [Output.Schedule] call.
type Scheduled struct {
	Handle   audio.Handle
	Start    time.Duration
	Duration time.Duration
	Frame    audio.AudioFrame

	// Stopped is true when the buffer was cut short by Stop or Close.
	Stopped bool

	// Finished is true when the buffer played to its end.
	Finished bool
}

// End returns the time at which the buffer stops playing if not stopped.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

type entry struct {
	Scheduled
	done func(audio.Handle)
}

// Output is a mock [audio.OutputDevice] with a manually advanced clock.
type Output struct {
	mu      sync.Mutex
	rate    int
	now     time.Duration
	next    audio.Handle
	entries []*entry
	closed  bool

	// ScheduleError, when set, is returned by every Schedule call.
	ScheduleError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutput creates an Output at the given sample rate with its clock at zero.
func NewOutput(rate int) *Output {
	return &Output{rate: rate}
}

// Now implements [audio.OutputDevice].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int { return o.rate }

// Schedule implements [audio.OutputDevice]. A start time in the past is
// clamped to the current clock, as a real device would.
func (o *Output) Schedule(buf audio.AudioFrame, at time.Duration, done func(audio.Handle)) (audio.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return 0, o.ScheduleError
	}
	if o.closed {
		return 0, ErrClosed
	}
	if at < o.now {
		at = o.now
	}
	o.next++
	o.entries = append(o.entries, &entry{
		Scheduled: Scheduled{
			Handle:   o.next,
			Start:    at,
			Duration: buf.Duration(),
			Frame:    buf,
		},
		done: done,
	})
	return o.next, nil
}

// Stop implements [audio.OutputDevice]. The completion callback of a stopped
// buffer runs on its own goroutine, like a real device callback.
func (o *Output) Stop(h audio.Handle) error {
	o.mu.Lock()
	o.CallCountStop++
	e := o.find(h)
	if e == nil || e.Stopped || e.Finished {
		o.mu.Unlock()
		return nil
	}
	e.Stopped = true
	done := e.done
	o.mu.Unlock()

	if done != nil {
		go done(h)
	}
	return nil
}

// Close implements [audio.OutputDevice]. Every active buffer is stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	o.CallCountClose++
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	var pending []*entry
	for _, e := range o.entries {
		if !e.Stopped && !e.Finished {
			e.Stopped = true
			pending = append(pending, e)
		}
	}
	o.mu.Unlock()

	for _, e := range pending {
		if e.done != nil {
			go e.done(e.Handle)
		}
	}
	return nil
}

// Advance moves the clock forward by d. Buffers whose end is reached are
// marked finished and their callbacks are invoked synchronously, in end-time
// order, before Advance returns.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var finished []*entry
	for _, e := range o.entries {
		if !e.Stopped && !e.Finished && e.End() <= o.now {
			e.Finished = true
			finished = append(finished, e)
		}
	}
	o.mu.Unlock()

	sort.SliceStable(finished, func(a, b int) bool { return finished[a].End() < finished[b].End() })
	for _, e := range finished {
		if e.done != nil {
			e.done(e.Handle)
		}
	}
}

// Timeline returns a copy of every Schedule call in call order.
func (o *Output) Timeline() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Scheduled, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.Scheduled
	}
	return out
}

// Active returns the number of buffers neither finished nor stopped.
func (o *Output) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if !e.Stopped && !e.Finished {
			n++
		}
	}
	return n
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Output) find(h audio.Handle) *entry {
	for _, e := range o.entries {
		if e.Handle == h {
			return e
		}
	}
	return nil
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// Input is returned by OpenInput.
	Input audio.InputDevice

	// Output is returned by OpenOutput.
	Output audio.OutputDevice

	// OpenInputError is returned by OpenInput when set.
	OpenInputError error

	// OpenOutputError is returned by OpenOutput when set.
	OpenOutputError error

	// InputGate, when non-nil, makes OpenInput block until the channel is
	// closed or ctx is cancelled. Use it to hold a session in CONNECTING.
	InputGate chan struct{}

	// InputConfigs records the configs passed to OpenInput.
	InputConfigs []audio.InputConfig

	// OutputConfigs records the configs passed to OpenOutput.
	OutputConfigs []audio.OutputConfig
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(ctx context.Context, cfg audio.InputConfig) (audio.InputDevice, error) {
	d.mu.Lock()
	d.InputConfigs = append(d.InputConfigs, cfg)
	gate := d.InputGate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	return d.Input, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputConfigs = append(d.OutputConfigs, cfg)
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	return d.Output, nil
}
