package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/audio/mock"
)

// recordingSender collects every chunk passed to SendAudio.
type recordingSender struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (r *recordingSender) SendAudio(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.chunks = append(r.chunks, pcm)
	return nil
}

func (r *recordingSender) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingSender) sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startCapture(t *testing.T, c *Capture) (cancel func(), result <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, done
}

func TestCapture_DropsUntilAttached(t *testing.T) {
	t.Parallel()

	in := mock.NewInput(16000, 4)
	c := NewCapture(in, nil, nil)
	startCapture(t, c)

	in.Push([]float32{0.1, 0.2, 0.3, 0.4})
	waitFor(t, "first block dropped", func() bool { return c.Dropped() == 1 })

	s := &recordingSender{}
	c.Attach(s)
	in.Push([]float32{0.5, -0.5, 1, -1})
	waitFor(t, "second block sent", func() bool { return c.Sent() == 1 })

	got := s.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(got))
	}
	want := audio.EncodePCM16([]float32{0.5, -0.5, 1, -1})
	if string(got[0]) != string(want) {
		t.Errorf("chunk = %v, want %v", got[0], want)
	}
}

func TestCapture_PreservesOrder(t *testing.T) {
	t.Parallel()

	in := mock.NewInput(16000, 1)
	c := NewCapture(in, nil, nil)
	s := &recordingSender{}
	c.Attach(s)
	startCapture(t, c)

	const n = 20
	for i := range n {
		in.Push([]float32{float32(i) / n})
	}
	waitFor(t, "all blocks sent", func() bool { return c.Sent() == n })

	for i, chunk := range s.sent() {
		samples, err := audio.DecodePCM16(chunk)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		want := float32(i) / n
		if d := samples[0] - want; d > 1e-4 || d < -1e-4 {
			t.Errorf("chunk %d = %v, want %v", i, samples[0], want)
		}
	}
}

func TestCapture_SendFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	in := mock.NewInput(16000, 2)
	c := NewCapture(in, nil, nil)
	s := &recordingSender{err: errors.New("queue full")}
	c.Attach(s)
	startCapture(t, c)

	in.Push([]float32{0, 0})
	in.Push([]float32{0, 0})
	waitFor(t, "failed sends counted", func() bool { return c.Failed() == 2 })

	s.setErr(nil)
	in.Push([]float32{0, 0})
	waitFor(t, "send resumed", func() bool { return c.Sent() == 1 })
}

func TestCapture_Run(t *testing.T) {
	t.Parallel()

	t.Run("cancellation returns nil", func(t *testing.T) {
		t.Parallel()
		c := NewCapture(mock.NewInput(16000, 4), nil, nil)
		cancel, done := startCapture(t, c)
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})

	t.Run("read failure is a device error", func(t *testing.T) {
		t.Parallel()
		in := mock.NewInput(16000, 4)
		c := NewCapture(in, nil, nil)
		_, done := startCapture(t, c)
		readErr := errors.New("microphone unplugged")
		in.Fail(readErr)

		select {
		case err := <-done:
			var de *DeviceError
			if !errors.As(err, &de) || de.Op != "read input" {
				t.Fatalf("Run = %v, want *DeviceError{read input}", err)
			}
			if !errors.Is(err, readErr) {
				t.Errorf("Run = %v, want wrapping %v", err, readErr)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after read failure")
		}
	})
}
