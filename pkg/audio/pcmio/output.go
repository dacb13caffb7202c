package pcmio

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
)

var _ audio.OutputDevice = (*Output)(nil)

// voice is one scheduled buffer, converted to the device rate.
type voice struct {
	handle  audio.Handle
	start   int // first device sample
	samples []float32
	done    func(audio.Handle)
}

func (v *voice) end() int { return v.start + len(v.samples) }

// Output is a speaker that renders scheduled buffers into an s16le byte
// stream in real time.
//
// The device clock is the number of samples rendered so far, so [Output.Now]
// advances exactly as fast as audio leaves the device.
type Output struct {
	w    io.Writer
	rate int // rate of scheduled buffers
	opts options
	conv audio.FormatConverter

	mu     sync.Mutex
	pos    int // device samples rendered
	next   audio.Handle
	voices []*voice
	err    error
	closed bool

	running   bool
	stop      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewOutput opens a real-time output that writes to w. Buffers passed to
// Schedule are expected at cfg.SampleRate; see [WithDeviceRate] and
// [WithChannels] for the written format.
func NewOutput(w io.Writer, cfg audio.OutputConfig, opts ...Option) *Output {
	o := newOutput(w, cfg, opts...)
	o.running = true
	go o.run()
	return o
}

// newOutput builds an Output without starting its render loop.
func newOutput(w io.Writer, cfg audio.OutputConfig, opts ...Option) *Output {
	cfg = cfg.WithDefaults()
	o := &Output{
		w:        w,
		rate:     cfg.SampleRate,
		opts:     buildOptions(opts),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if o.opts.deviceRate <= 0 {
		o.opts.deviceRate = o.rate
	}
	o.conv.TargetRate = o.opts.deviceRate
	return o
}

func (o *Output) run() {
	defer close(o.loopDone)

	t := time.NewTicker(o.opts.period)
	defer t.Stop()
	start := time.Now()
	for {
		select {
		case <-o.stop:
			return
		case <-t.C:
		}
		o.mu.Lock()
		n := audio.DurationSamples(time.Since(start), o.opts.deviceRate) - o.pos
		o.mu.Unlock()
		if n <= 0 {
			continue
		}
		if err := o.render(n); err != nil {
			slog.Error("pcmio: output stream failed", "err", err)
			return
		}
	}
}

// render mixes the next n device samples, writes them, and reports buffers
// that finished within the rendered range.
func (o *Output) render(n int) error {
	o.mu.Lock()
	from, to := o.pos, o.pos+n
	mix := make([]float32, n)
	var finished []*voice
	live := o.voices[:0]
	for _, v := range o.voices {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for i := lo; i < hi; i++ {
			mix[i-from] += v.samples[i-v.start]
		}
		if v.end() <= to {
			finished = append(finished, v)
			continue
		}
		live = append(live, v)
	}
	clear(o.voices[len(live):])
	o.voices = live
	o.pos = to
	o.mu.Unlock()

	if o.opts.channels == 2 {
		mix = audio.MonoToStereo(mix)
	}
	if _, err := o.w.Write(audio.EncodePCM16(mix)); err != nil {
		err = fmt.Errorf("pcmio: write: %w", err)
		o.mu.Lock()
		o.err = err
		o.mu.Unlock()
		return err
	}

	sort.Slice(finished, func(a, b int) bool { return finished[a].end() < finished[b].end() })
	for _, v := range finished {
		if v.done != nil {
			v.done(v.handle)
		}
	}
	return nil
}

// Now implements [audio.OutputDevice].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return audio.SamplesDuration(o.pos, o.opts.deviceRate)
}

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int { return o.rate }

// Schedule implements [audio.OutputDevice].
func (o *Output) Schedule(buf audio.AudioFrame, at time.Duration, done func(audio.Handle)) (audio.Handle, error) {
	if buf.SampleRate <= 0 {
		buf.SampleRate = o.rate
	}
	buf = o.conv.Convert(buf)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrClosed
	}
	if o.err != nil {
		return 0, o.err
	}
	start := max(audio.NearestSample(at, o.opts.deviceRate), o.pos)
	o.next++
	o.voices = append(o.voices, &voice{
		handle:  o.next,
		start:   start,
		samples: buf.Samples,
		done:    done,
	})
	return o.next, nil
}

// Stop implements [audio.OutputDevice]. The buffer's completion callback runs
// on a new goroutine.
func (o *Output) Stop(h audio.Handle) error {
	o.mu.Lock()
	var stopped *voice
	for i, v := range o.voices {
		if v.handle == h {
			stopped = v
			o.voices = append(o.voices[:i], o.voices[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	if stopped != nil && stopped.done != nil {
		go stopped.done(h)
	}
	return nil
}

// Close implements [audio.OutputDevice]. Pending buffers are stopped, the
// render loop exits, and the close function registered with [WithCloseFunc]
// runs.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		pending := o.voices
		o.voices = nil
		o.mu.Unlock()

		close(o.stop)
		if o.running {
			select {
			case <-o.loopDone:
			case <-time.After(time.Second):
				slog.Warn("pcmio: render loop did not exit in time")
			}
		}

		for _, v := range pending {
			if v.done != nil {
				go v.done(v.handle)
			}
		}
		if o.opts.closeFn != nil {
			o.closeErr = o.opts.closeFn()
		}
	})
	return o.closeErr
}
