package live_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lugha/pkg/provider/live"
)

func TestStream_SendAudioQueuesCopies(t *testing.T) {
	t.Parallel()

	s := live.NewStream(2, 0)
	buf := []byte{1, 2}
	if err := s.SendAudio(buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 9

	got := <-s.Outbox()
	if got[0] != 1 {
		t.Error("SendAudio did not copy the chunk")
	}
}

func TestStream_SendAudioNeverBlocks(t *testing.T) {
	t.Parallel()

	s := live.NewStream(1, 0)
	if err := s.SendAudio([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.SendAudio([]byte{2}); !errors.Is(err, live.ErrSendQueueFull) {
		t.Errorf("got %v, want ErrSendQueueFull", err)
	}
}

func TestStream_SendAfterShutdown(t *testing.T) {
	t.Parallel()

	s := live.NewStream(0, 0)
	if !s.Shutdown() {
		t.Fatal("first Shutdown reported no-op")
	}
	if s.Shutdown() {
		t.Error("second Shutdown reported work")
	}
	if err := s.SendAudio([]byte{1}); !errors.Is(err, live.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
	if s.Context().Err() == nil {
		t.Error("context not cancelled after Shutdown")
	}
}

func TestStream_FailDeliversErrorAndRecordsIt(t *testing.T) {
	t.Parallel()

	s := live.NewStream(0, 4)
	boom := errors.New("socket reset")
	s.Fail(boom)
	s.Fail(errors.New("second"))
	s.Finish()

	var got []live.Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Kind != live.EventError || !errors.Is(got[0].Err, boom) {
		t.Fatalf("events: got %+v, want one error event", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err: got %v, want %v", s.Err(), boom)
	}
}

func TestStream_LocalCloseHasNoError(t *testing.T) {
	t.Parallel()

	s := live.NewStream(0, 1)
	s.Shutdown()
	s.Fail(errors.New("read on closed socket"))
	s.Finish()
	if s.Err() != nil {
		t.Errorf("Err after local close: %v", s.Err())
	}
	if s.Emit(live.Event{Kind: live.EventAudio}) {
		t.Error("Emit after Finish reported delivery")
	}
}

func TestStream_EmitUnblocksOnShutdown(t *testing.T) {
	t.Parallel()

	s := live.NewStream(0, 1)
	if !s.Emit(live.Event{Kind: live.EventTurnComplete}) {
		t.Fatal("first Emit should fill the buffer")
	}

	done := make(chan bool, 1)
	go func() { done <- s.Emit(live.Event{Kind: live.EventTurnComplete}) }()

	time.Sleep(10 * time.Millisecond)
	s.Shutdown()
	select {
	case delivered := <-done:
		if delivered {
			t.Error("blocked Emit reported delivery after Shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Emit still blocked after Shutdown")
	}
}

func TestEventKind_String(t *testing.T) {
	t.Parallel()

	tests := map[live.EventKind]string{
		live.EventAudio:        "audio",
		live.EventTranscript:   "transcript",
		live.EventTurnComplete: "turn_complete",
		live.EventInterrupted:  "interrupted",
		live.EventError:        "error",
		live.EventKind(42):     "unknown(42)",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(k), got, want)
		}
	}
}
