package pcmio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
)

var _ audio.InputDevice = (*Input)(nil)

type readResult struct {
	samples []float32
	err     error
}

// Input is a microphone backed by an s16le mono byte stream.
//
// A background goroutine reads whole blocks from the stream as soon as they
// are available; [Input.ReadBlock] hands them out in order. When the stream
// ends or fails, every subsequent read returns that error.
type Input struct {
	rate, size int
	opts       options

	results chan readResult
	stop    chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

// NewInput starts reading blocks from r using cfg (zero fields take the
// package defaults from audio). The returned Input owns r until Close.
func NewInput(r io.Reader, cfg audio.InputConfig, opts ...Option) *Input {
	cfg = cfg.WithDefaults()
	in := &Input{
		rate:    cfg.SampleRate,
		size:    cfg.BlockSize,
		opts:    buildOptions(opts),
		results: make(chan readResult, 4),
		stop:    make(chan struct{}),
	}
	go in.readLoop(r)
	return in
}

func (in *Input) readLoop(r io.Reader) {
	blockDur := audio.SamplesDuration(in.size, in.rate)
	start := time.Now()
	for n := 1; ; n++ {
		buf := make([]byte, in.size*audio.BytesPerSample)
		var res readResult
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			res.err = fmt.Errorf("pcmio: read block: %w", err)
		} else {
			// Even length is guaranteed by the buffer size.
			res.samples, _ = audio.DecodePCM16(buf)
		}

		if res.err == nil && in.opts.paced {
			wait := time.Until(start.Add(time.Duration(n) * blockDur))
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-in.stop:
					t.Stop()
					return
				}
			}
		}

		select {
		case in.results <- res:
		case <-in.stop:
			return
		}
		if res.err != nil {
			return
		}
	}
}

// ReadBlock implements [audio.InputDevice].
func (in *Input) ReadBlock(ctx context.Context) ([]float32, error) {
	in.mu.Lock()
	err := in.err
	in.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-in.stop:
		return nil, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-in.stop:
		return nil, ErrClosed
	case res := <-in.results:
		if res.err != nil {
			in.mu.Lock()
			in.err = res.err
			in.mu.Unlock()
			return nil, res.err
		}
		return res.samples, nil
	}
}

// SampleRate implements [audio.InputDevice].
func (in *Input) SampleRate() int { return in.rate }

// BlockSize implements [audio.InputDevice].
func (in *Input) BlockSize() int { return in.size }

// Close implements [audio.InputDevice]. It unblocks pending reads and runs
// the close function registered with [WithCloseFunc]. The reader goroutine
// exits once its current Read returns, so the close function should close
// the stream.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		close(in.stop)
		if in.opts.closeFn != nil {
			in.closeErr = in.opts.closeFn()
		}
	})
	return in.closeErr
}
