// Package session runs live voice conversations with a remote tutor.
//
// A [Session] owns everything one conversation needs: the microphone and
// speaker devices, the transport connection, the playback scheduler, and the
// transcript merger. All of that state is mutated by a single dispatcher
// goroutine. Capture, the transport receive loop, and device completion
// callbacks run on their own goroutines and only post typed events to the
// dispatcher.
//
// [Manager] is the caller-facing surface: it keeps at most one session
// active and exposes its state, transcript, and terminal error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lugha/internal/observe"
	"github.com/MrWong99/lugha/internal/resilience"
	"github.com/MrWong99/lugha/internal/transcript"
	"github.com/MrWong99/lugha/pkg/archive"
	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/audio/scheduler"
	"github.com/MrWong99/lugha/pkg/provider/live"
)

// eventBuffer is the capacity of the dispatcher's inbox.
const eventBuffer = 64

// State is the lifecycle state of a session.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateConnecting means devices and the transport are being opened.
	StateConnecting

	// StateListening means the conversation is live.
	StateListening

	// StateError means the session failed and was torn down. It persists
	// until Stop is called.
	StateError
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the dependencies and settings of a session.
type Config struct {
	// Provider connects to the remote conversational service. Required.
	Provider live.Provider

	// Devices opens the microphone and speaker. Required.
	Devices audio.Devices

	// Live is passed to Provider.Connect. InputSampleRate is overwritten
	// with the capture device's rate; a zero OutputSampleRate defaults to
	// [audio.DefaultOutputSampleRate].
	Live live.Config

	// Input configures the capture device.
	Input audio.InputConfig

	// Output configures the playback device.
	Output audio.OutputConfig

	// LeadTime is the minimum scheduling latency of playback.
	LeadTime time.Duration

	// Archive, if set, receives finalized turns.
	Archive archive.Store

	// ArchiveBreaker guards Archive. Nil means unguarded.
	ArchiveBreaker *resilience.CircuitBreaker

	// ArchiveQueue bounds pending archive batches.
	ArchiveQueue int

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	// OnChange is called from the dispatcher after every state or
	// transcript change. It must not block and must not call Start or Stop.
	OnChange func(Snapshot)
}

func (c Config) validate() error {
	var errs []error
	if c.Provider == nil {
		errs = append(errs, errors.New("provider is required"))
	}
	if c.Devices == nil {
		errs = append(errs, errors.New("devices are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: invalid config: %w", err)
	}
	return nil
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string
	State     State
	Err       error
	StartedAt time.Time
	Turns     []transcript.Turn

	// PlaybackCursor is the device time at which scheduled audio ends.
	PlaybackCursor time.Duration

	// PendingAudio is the number of scheduled buffers not yet played.
	PendingAudio int

	FramesSent    int64
	FramesDropped int64
}

// ── events ────────────────────────────────────────────────────────────────────

// event is the tagged variant posted to the dispatcher.
type event interface{ isEvent() }

type inboundEvent struct{ ev live.Event }

type transportClosed struct{ err error }

type playbackDone struct{ h audio.Handle }

type captureFailed struct{ err error }

func (inboundEvent) isEvent()    {}
func (transportClosed) isEvent() {}
func (playbackDone) isEvent()    {}
func (captureFailed) isEvent()   {}

// ── Session ───────────────────────────────────────────────────────────────────

// Session is one live conversation. Create it with [Manager.Start].
type Session struct {
	id        string
	cfg       Config
	log       *slog.Logger
	metrics   *observe.Metrics
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events   chan event
	stopCh   chan struct{}
	stopOnce sync.Once
	quit     chan struct{} // closed when teardown begins
	done     chan struct{} // closed when teardown finished

	// Owned by the dispatcher goroutine.
	workers  errgroup.Group
	in       audio.InputDevice
	out      audio.OutputDevice
	conn     live.Conn
	sched    *scheduler.Scheduler
	capture  *Capture
	archiver *Archiver
	merger   transcript.Merger

	mu   sync.Mutex
	snap Snapshot
}

func newSession(ctx context.Context, cfg Config) *Session {
	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(observe.WithSession(ctx, id))
	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       observe.Logger(ctx),
		metrics:   cfg.Metrics,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, eventBuffer),
		stopCh:    make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.snap = Snapshot{ID: id, State: StateConnecting, StartedAt: s.startedAt}
	return s
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Turns = append([]transcript.Turn(nil), s.snap.Turns...)
	if s.capture != nil {
		snap.FramesSent = s.capture.Sent()
		snap.FramesDropped = s.capture.Dropped()
	}
	return snap
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State
}

// Err returns the failure that moved the session to ERROR, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Err
}

// Done is closed once the session has released all its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// stop requests teardown and waits until it completes. After stop the
// session reports IDLE, even if it had failed. Safe to call repeatedly and
// concurrently.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
	})
	<-s.done

	s.mu.Lock()
	changed := s.snap.State != StateIdle
	s.snap.State = StateIdle
	s.snap.Err = nil
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// post delivers ev to the dispatcher. Events posted after teardown began
// are discarded.
func (s *Session) post(ev event) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// run is the dispatcher goroutine.
func (s *Session) run() {
	defer close(s.done)

	ctx, span := observe.StartSpan(s.ctx, "session")
	defer span.End()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
		defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	s.log.Info("session starting", "provider", s.cfg.Provider.Name())

	if err := s.open(ctx); err != nil {
		if s.stopRequested() {
			err = nil
		}
		s.teardown(ctx, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return
	}

	s.capture.Attach(s.conn)
	s.workers.Go(func() error { return s.receive(ctx) })
	s.setState(StateListening, nil)
	s.log.Info("session listening")

	err := s.dispatch(ctx)
	s.teardown(ctx, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
}

// open acquires the devices and the transport in order. Capture starts as
// soon as the microphone is open and discards blocks until the transport
// is attached.
func (s *Session) open(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()
	start := time.Now()

	in, err := s.cfg.Devices.OpenInput(ctx, s.cfg.Input.WithDefaults())
	if err != nil {
		return &DeviceError{Op: "open input", Err: err}
	}
	s.in = in
	s.mu.Lock()
	s.capture = NewCapture(in, s.metrics, s.log)
	s.mu.Unlock()
	s.workers.Go(func() error {
		err := s.capture.Run(ctx)
		if err != nil {
			s.post(captureFailed{err: err})
		}
		return err
	})

	outCfg := s.cfg.Output.WithDefaults()
	out, err := s.cfg.Devices.OpenOutput(ctx, outCfg)
	if err != nil {
		return &DeviceError{Op: "open output", Err: err}
	}
	s.out = out
	s.sched = scheduler.New(out,
		scheduler.WithLeadTime(s.cfg.LeadTime),
		scheduler.WithCompletion(func(h audio.Handle) { s.post(playbackDone{h: h}) }),
	)

	lc := s.cfg.Live
	lc.InputSampleRate = in.SampleRate()
	if lc.OutputSampleRate <= 0 {
		lc.OutputSampleRate = audio.DefaultOutputSampleRate
	}
	s.cfg.Live = lc

	conn, err := s.cfg.Provider.Connect(ctx, lc)
	if err != nil {
		if s.metrics != nil && ctx.Err() == nil {
			s.metrics.RecordTransportError(ctx, s.cfg.Provider.Name())
		}
		return &TransportError{Op: "connect", Err: err}
	}
	s.conn = conn

	if s.cfg.Archive != nil {
		s.archiver = NewArchiver(ArchiverConfig{
			Store:     s.cfg.Archive,
			Breaker:   s.cfg.ArchiveBreaker,
			SessionID: s.id,
			QueueSize: s.cfg.ArchiveQueue,
			Metrics:   s.metrics,
			Logger:    s.log,
		})
		s.workers.Go(func() error { return s.archiver.Run(ctx) })
	}

	if s.metrics != nil {
		s.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

// receive forwards transport events to the dispatcher in order.
func (s *Session) receive(ctx context.Context) error {
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.post(transportClosed{err: s.conn.Err()})
				return nil
			}
			if !s.post(inboundEvent{ev: ev}) {
				return nil
			}
		}
	}
}

// dispatch processes events until Stop is requested (nil) or a fatal error
// occurs.
func (s *Session) dispatch(ctx context.Context) error {
	for {
		select {
		case <-s.stopCh:
			return nil
		case ev := <-s.events:
			if err := s.handle(ctx, ev); err != nil {
				if s.stopRequested() {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) error {
	switch ev := ev.(type) {
	case inboundEvent:
		return s.handleInbound(ctx, ev.ev)
	case playbackDone:
		if s.sched.Complete(ev.h) {
			s.publishPlayback()
		}
	case captureFailed:
		return ev.err
	case transportClosed:
		err := ev.err
		if err == nil {
			err = errors.New("connection closed by remote")
		}
		if s.metrics != nil {
			s.metrics.RecordTransportError(ctx, s.cfg.Provider.Name())
		}
		return &TransportError{Op: "receive", Err: err}
	}
	return nil
}

func (s *Session) handleInbound(ctx context.Context, ev live.Event) error {
	switch ev.Kind {
	case live.EventAudio:
		var samples []float32
		err := ev.Err
		if err == nil {
			samples, err = audio.DecodePCM16(ev.Audio)
		}
		if err != nil {
			s.log.Warn("dropping undecodable audio chunk", "err", err)
			if s.metrics != nil {
				s.metrics.DecodeErrors.Add(ctx, 1)
			}
			return nil
		}
		slot, err := s.sched.Schedule(audio.AudioFrame{
			Samples:    samples,
			SampleRate: s.cfg.Live.OutputSampleRate,
		})
		if err != nil {
			return &DeviceError{Op: "schedule playback", Err: err}
		}
		if s.metrics != nil && slot.Duration > 0 {
			s.metrics.PlaybackScheduled.Add(ctx, 1)
			s.metrics.SchedulingDelay.Record(ctx, slot.Delay.Seconds())
		}
		s.publishPlayback()

	case live.EventTranscript:
		role, err := transcript.ParseRole(ev.Role)
		if err != nil {
			s.log.Warn("ignoring transcript fragment", "err", err)
			return nil
		}
		if _, changed := s.merger.Append(role, ev.Text); changed {
			if s.metrics != nil {
				s.metrics.RecordTranscriptFragment(ctx, string(role))
			}
			s.publishTurns()
		}

	case live.EventTurnComplete:
		finalized := s.merger.CompleteTurn()
		if len(finalized) == 0 {
			return nil
		}
		if s.metrics != nil {
			s.metrics.TurnsFinalized.Add(ctx, int64(len(finalized)))
		}
		if s.archiver != nil {
			s.archiver.Submit(finalized)
		}
		s.publishTurns()

	case live.EventInterrupted:
		n := s.sched.Interrupt()
		s.log.Debug("playback interrupted", "stopped", n)
		if s.metrics != nil {
			s.metrics.Interruptions.Add(ctx, 1)
			s.metrics.PlaybackStopped.Add(ctx, int64(n))
		}
		s.publishPlayback()

	case live.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("remote error")
		}
		if s.metrics != nil {
			s.metrics.RecordTransportError(ctx, s.cfg.Provider.Name())
		}
		return &TransportError{Op: "receive", Err: err}
	}
	return nil
}

// teardown releases every resource in order: capture, input, scheduler,
// output, transport, archive. A non-nil cause leaves the session in ERROR.
func (s *Session) teardown(ctx context.Context, cause error) {
	close(s.quit)
	s.cancel()

	if s.capture != nil {
		s.capture.Detach()
	}
	if s.in != nil {
		if err := s.in.Close(); err != nil {
			s.log.Warn("close input", "err", err)
		}
	}
	if s.sched != nil {
		s.sched.Close()
	}
	if s.out != nil {
		if err := s.out.Close(); err != nil {
			s.log.Warn("close output", "err", err)
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn("close transport", "err", err)
		}
	}
	if s.archiver != nil {
		s.archiver.Close()
	}
	_ = s.workers.Wait()

	bg := context.WithoutCancel(ctx)
	if cause != nil {
		s.log.Error("session failed", "err", cause)
		if s.metrics != nil {
			s.metrics.RecordSessionOutcome(bg, "error")
		}
		s.setState(StateError, cause)
		return
	}
	s.log.Info("session stopped")
	if s.metrics != nil {
		s.metrics.RecordSessionOutcome(bg, "stopped")
	}
	s.setState(StateIdle, nil)
}

// ── publishing ────────────────────────────────────────────────────────────────

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.snap.State = st
	s.snap.Err = err
	s.mu.Unlock()
	s.notify()
}

func (s *Session) publishTurns() {
	turns := s.merger.Turns()
	s.mu.Lock()
	s.snap.Turns = turns
	s.mu.Unlock()
	s.publishPlayback()
	s.notify()
}

func (s *Session) publishPlayback() {
	s.mu.Lock()
	s.snap.PlaybackCursor = s.sched.Cursor()
	s.snap.PendingAudio = s.sched.Pending()
	s.mu.Unlock()
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.Snapshot())
	}
}
