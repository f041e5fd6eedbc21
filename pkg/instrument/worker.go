package instrument

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
)

// ErrStopped is returned by Send once the worker has stopped.
var ErrStopped = errors.New("instrument: worker stopped")

// Worker runs an Engine on its own goroutine. Commands are processed one at
// a time in arrival order; a stop request takes effect between commands.
type Worker struct {
	engine       *Engine
	cmds         chan Command
	events       chan Event
	done         chan struct{}
	pollInterval time.Duration
	log          *slog.Logger
	runCtx       context.Context
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// QueueSize bounds the command and event channels.
	QueueSize int
	// PollInterval enables lock-detect polling while Ready when positive.
	PollInterval time.Duration
	Logger       *slog.Logger
	// Ports replaces the serial port enumerator.
	Ports func() ([]i2c.PortInfo, error)
}

// NewWorker builds a worker around a new Engine.
func NewWorker(bus i2c.Bus, profile Profile, specs []device.Spec, cfg WorkerConfig) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Worker{
		cmds:         make(chan Command, cfg.QueueSize),
		events:       make(chan Event, cfg.QueueSize),
		done:         make(chan struct{}),
		pollInterval: cfg.PollInterval,
		log:          cfg.Logger.With("component", "worker"),
		runCtx:       context.Background(),
	}
	opts := []EngineOption{WithLogger(cfg.Logger)}
	if cfg.Ports != nil {
		opts = append(opts, WithPortLister(cfg.Ports))
	}
	w.engine = NewEngine(bus, profile, specs, w.publish, opts...)
	return w
}

// Events returns the event stream. It is closed when Run returns.
func (w *Worker) Events() <-chan Event { return w.events }

// Engine returns the worker's engine. It must only be used from the Run
// goroutine or after Run has returned.
func (w *Worker) Engine() *Engine { return w.engine }

// Send queues cmd. It blocks while the queue is full.
func (w *Worker) Send(ctx context.Context, cmd Command) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case w.cmds <- cmd:
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) publish(ev Event) {
	select {
	case w.events <- ev:
	case <-w.runCtx.Done():
		w.log.Debug("event dropped after stop", "kind", ev.Kind())
	}
}

// Run processes commands until ctx is cancelled. On return the engine has
// released the bus and the event channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.runCtx = ctx
	defer close(w.events)
	defer close(w.done)
	defer func() {
		if err := w.engine.Close(); err != nil {
			w.log.Warn("close on stop", "err", err)
		}
	}()

	var tick <-chan time.Time
	if w.pollInterval > 0 {
		t := time.NewTicker(w.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	w.log.Info("worker started", "poll", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return nil
		case cmd := <-w.cmds:
			w.log.Debug("command", "type", CommandName(cmd))
			w.engine.Handle(cmd)
		case <-tick:
			if w.engine.State() != StateReady {
				continue
			}
			if err := w.engine.ReadLockDetect(); err != nil {
				w.log.Debug("lock detect poll", "err", err)
			}
		}
	}
}
