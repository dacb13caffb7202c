package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lugha/internal/observe"
	"github.com/MrWong99/lugha/internal/resilience"
	"github.com/MrWong99/lugha/internal/transcript"
	"github.com/MrWong99/lugha/pkg/archive"
)

// Archiver defaults.
const (
	defaultArchiveQueue   = 32
	defaultArchiveTimeout = 5 * time.Second
	defaultArchiveDrain   = 2 * time.Second
)

// ArchiverConfig configures an [Archiver].
type ArchiverConfig struct {
	// Store receives finalized turns. Required.
	Store archive.Store

	// Breaker guards Store. Nil means no breaker.
	Breaker *resilience.CircuitBreaker

	// SessionID keys the archived turns.
	SessionID string

	// QueueSize bounds the number of pending batches. Defaults to 32.
	QueueSize int

	// WriteTimeout bounds each Store call. Defaults to 5s.
	WriteTimeout time.Duration

	// DrainTimeout bounds how long queued batches are still written after
	// Close. Batches left when it expires are dropped. Defaults to 2s.
	DrainTimeout time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics

	// Logger is optional.
	Logger *slog.Logger
}

// Archiver writes finalized turns to an [archive.Store] on its own
// goroutine. Submissions never block: when the queue is full the batch is
// dropped with a warning.
type Archiver struct {
	store     archive.Store
	breaker   *resilience.CircuitBreaker
	sessionID string
	timeout   time.Duration
	drain     time.Duration
	metrics   *observe.Metrics
	log       *slog.Logger

	queue chan []archive.Turn

	// drainCtx is cancelled DrainTimeout after Close.
	drainCtx  context.Context
	stopDrain context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewArchiver creates an Archiver. Call [Archiver.Run] to start writing.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultArchiveQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultArchiveTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultArchiveDrain
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	drainCtx, stopDrain := context.WithCancel(context.Background())
	return &Archiver{
		store:     cfg.Store,
		breaker:   cfg.Breaker,
		sessionID: cfg.SessionID,
		timeout:   cfg.WriteTimeout,
		drain:     cfg.DrainTimeout,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		queue:     make(chan []archive.Turn, cfg.QueueSize),
		drainCtx:  drainCtx,
		stopDrain: stopDrain,
	}
}

// Submit queues finalized turns for writing. It reports false when the
// batch was dropped because the queue is full or the archiver is closed.
func (a *Archiver) Submit(turns []transcript.Turn) bool {
	if len(turns) == 0 {
		return true
	}
	batch := make([]archive.Turn, len(turns))
	for i, t := range turns {
		batch[i] = archive.Turn{
			Seq:         t.Seq,
			Role:        string(t.Role),
			Text:        t.Text,
			StartedAt:   t.StartedAt,
			FinalizedAt: t.FinalizedAt,
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- batch:
		return true
	default:
		a.log.Warn("archive queue full, dropping turns", "turns", len(batch))
		a.countError()
		return false
	}
}

// Close stops accepting batches. Run writes whatever is still queued for
// at most the drain timeout and then returns. Close is idempotent.
func (a *Archiver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.queue)
		time.AfterFunc(a.drain, a.stopDrain)
	}
}

// Run writes queued batches until Close is called and the queue is drained.
// Writes outlive ctx cancellation so turns finalized just before a stop are
// still archived. Each write is bounded by the write timeout, and the drain
// after Close by the drain timeout.
func (a *Archiver) Run(ctx context.Context) error {
	defer a.stopDrain()
	base := context.WithoutCancel(ctx)
	dropped := 0
	for batch := range a.queue {
		if a.drainCtx.Err() != nil {
			dropped += len(batch)
			a.countError()
			continue
		}
		a.write(base, batch)
	}
	if dropped > 0 {
		a.log.Warn("archive drain timed out, dropping turns", "turns", dropped)
	}
	return nil
}

func (a *Archiver) write(ctx context.Context, batch []archive.Turn) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	stop := context.AfterFunc(a.drainCtx, cancel)
	defer stop()

	do := func(ctx context.Context) error { return a.store.Append(ctx, a.sessionID, batch) }
	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(ctx, do)
	} else {
		err = do(ctx)
	}
	if err == nil {
		return
	}
	a.countError()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		a.log.Debug("archive unavailable, dropping turns", "turns", len(batch))
		return
	}
	a.log.Warn("archive write failed", "turns", len(batch), "err", err)
}

func (a *Archiver) countError() {
	if a.metrics != nil {
		a.metrics.ArchiveErrors.Add(context.Background(), 1)
	}
}
