package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lugha/internal/observe"
	"github.com/MrWong99/lugha/pkg/audio"
)

// Sender accepts encoded microphone audio. [live.Conn] satisfies it.
type Sender interface {
	SendAudio(pcm []byte) error
}

// Capture pumps fixed-size blocks from an input device to the transport.
//
// Blocks are encoded as PCM16 and handed to the attached [Sender] in capture
// order. Until a sender is attached, blocks are read and discarded so that
// stale microphone audio never reaches the remote service. Sends are
// fire-and-forget: a failed send is counted and logged, never retried.
type Capture struct {
	in      audio.InputDevice
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	sender Sender

	sent, dropped, failed atomic.Int64
}

// NewCapture creates a Capture reading from in. metrics may be nil.
func NewCapture(in audio.InputDevice, metrics *observe.Metrics, log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}
	return &Capture{in: in, metrics: metrics, log: log}
}

// Attach starts forwarding blocks to s.
func (c *Capture) Attach(s Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Detach stops forwarding; subsequent blocks are dropped.
func (c *Capture) Detach() { c.Attach(nil) }

func (c *Capture) current() Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender
}

// Run reads blocks until ctx is cancelled or the device fails. It returns nil
// on cancellation and a *DeviceError on a read failure.
func (c *Capture) Run(ctx context.Context) error {
	failing := false
	for {
		block, err := c.in.ReadBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &DeviceError{Op: "read input", Err: err}
		}

		s := c.current()
		if s == nil {
			c.dropped.Add(1)
			c.record(ctx, observe.FrameDropped)
			continue
		}

		if err := s.SendAudio(audio.EncodePCM16(block)); err != nil {
			c.failed.Add(1)
			c.record(ctx, observe.FrameFailed)
			if !failing {
				c.log.Warn("capture: send failed, dropping frames", "err", err)
				failing = true
			}
			continue
		}
		if failing {
			c.log.Info("capture: sending resumed")
			failing = false
		}
		c.sent.Add(1)
		c.record(ctx, observe.FrameSent)
	}
}

func (c *Capture) record(ctx context.Context, status string) {
	if c.metrics != nil {
		c.metrics.RecordCaptureFrame(ctx, status)
	}
}

// Sent returns the number of blocks handed to a sender successfully.
func (c *Capture) Sent() int64 { return c.sent.Load() }

// Dropped returns the number of blocks discarded because no sender was
// attached.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// Failed returns the number of blocks the sender rejected.
func (c *Capture) Failed() int64 { return c.failed.Load() }
