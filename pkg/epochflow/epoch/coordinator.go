// Package epoch drives an input source one tick at a time, dividing its
// stream into epochs and emitting a state snapshot at every epoch
// boundary so the dataflow can later resume from any completed epoch.
//
// Each tick the coordinator:
//
//  1. Skips the tick if downstream is still working on an earlier epoch.
//  2. Polls the source exactly once.
//  3. At an epoch boundary, or when the source is done, snapshots the
//     source and emits the snapshot as a state change.
//  4. Moves both capabilities to the next epoch, keeps them, or drops
//     them for good once the source is done.
//  5. Asks to be scheduled again unless it has finished.
package epoch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/randalmurphal/epochflow/pkg/epochflow/dataflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/observability"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Params wires a coordinator into a worker.
type Params[T any] struct {
	Step   recovery.StepID
	Key    recovery.StateKey
	Source input.Source[T]
	Resume recovery.ResumeEpoch

	// Probe reports downstream progress.
	Probe dataflow.Probe

	// Output receives items. Changes receives one state change per
	// closed epoch.
	Output  *dataflow.Output[T]
	Changes *dataflow.Output[recovery.KChange]

	// OutputCap and ChangeCap must be at the same epoch, no later than
	// Resume. The coordinator takes ownership of both.
	OutputCap *dataflow.Capability
	ChangeCap *dataflow.Capability

	Activator *dataflow.Activator
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	clock   clock.Clock
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Defaults to no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock sets the clock used for periodic epochs and stall warnings.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Coordinator runs one input source on one worker.
type Coordinator[T any] struct {
	p    Params[T]
	cfg  Config
	opts options
	key  recovery.FlowKey

	outCap    *dataflow.Capability
	changeCap *dataflow.Capability

	epochStart   time.Time
	blockedSince time.Time
	stallLogged  bool
}

// New creates a coordinator positioned at p.Resume.
func New[T any](p Params[T], cfg Config, opts ...Option) (*Coordinator[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case p.Source == nil:
		return nil, fmt.Errorf("%w: step %s has no source", ErrInvalidParams, p.Step)
	case p.Probe == nil, p.Output == nil, p.Changes == nil, p.Activator == nil:
		return nil, fmt.Errorf("%w: step %s is not fully wired", ErrInvalidParams, p.Step)
	case !p.OutputCap.Valid() || !p.ChangeCap.Valid():
		return nil, fmt.Errorf("%w: step %s has no capabilities", ErrInvalidParams, p.Step)
	}
	if p.OutputCap.Time() != p.ChangeCap.Time() {
		return nil, fmt.Errorf("step %s: %w: data at %d, changes at %d",
			p.Step, ErrCapabilityMismatch, p.OutputCap.Time(), p.ChangeCap.Time())
	}
	if p.OutputCap.Time() > p.Resume.Epoch() {
		return nil, fmt.Errorf("%w: step %s capabilities at %d are past resume epoch %d",
			ErrInvalidParams, p.Step, p.OutputCap.Time(), p.Resume)
	}

	o := options{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator[T]{
		p:    p,
		cfg:  cfg,
		opts: o,
		key:  recovery.NewFlowKey(p.Step, p.Key),
	}
	c.outCap = p.OutputCap.Delayed(p.Resume.Epoch())
	c.changeCap = p.ChangeCap.Delayed(p.Resume.Epoch())
	p.OutputCap.Drop()
	p.ChangeCap.Drop()
	c.epochStart = o.clock.Now()

	return c, nil
}

// Epoch returns the current epoch. The second result is false once the
// input has finished.
func (c *Coordinator[T]) Epoch() (recovery.Epoch, bool) {
	if c.outCap == nil {
		return 0, false
	}
	return c.outCap.Time(), true
}

// Terminal reports whether the input has finished.
func (c *Coordinator[T]) Terminal() bool {
	return c.outCap == nil
}

// Key returns the flow key the coordinator snapshots under.
func (c *Coordinator[T]) Key() recovery.FlowKey {
	return c.key
}

// Schedule runs one tick.
func (c *Coordinator[T]) Schedule(ctx context.Context) error {
	if c.Terminal() {
		return nil
	}
	if c.outCap.Time() != c.changeCap.Time() {
		return fmt.Errorf("step %s: %w: data at %d, changes at %d",
			c.p.Step, ErrCapabilityMismatch, c.outCap.Time(), c.changeCap.Time())
	}
	e := c.outCap.Time()

	if c.p.Probe.LessThan(e) {
		c.opts.metrics.RecordBackpressure(ctx, string(c.p.Step))
		c.noteBlocked(e)
		c.p.Activator.Activate()
		return nil
	}
	c.blockedSince = time.Time{}

	poll, err := c.p.Source.Next()
	if err != nil {
		return &SourceError{Step: c.p.Step, Epoch: e, Op: "next", Err: err}
	}

	var advance, eof bool
	switch poll.Kind() {
	case input.PollDone:
		eof = true
	case input.PollReady:
		item, _ := poll.Item()
		c.p.Output.Give(c.outCap, item)
		c.opts.metrics.RecordItem(ctx, string(c.p.Step))
		advance = c.cfg.mode != ModePeriodic
	}

	if c.cfg.mode == ModePeriodic && !eof && c.opts.clock.Since(c.epochStart) >= c.cfg.length {
		advance = true
	}

	if advance || eof {
		snap, err := c.p.Source.Snapshot()
		if err != nil {
			return &SourceError{Step: c.p.Step, Epoch: e, Op: "snapshot", Err: err}
		}
		c.p.Changes.Give(c.changeCap, recovery.KChange{
			Key:    c.key,
			Change: recovery.Upsert(snap),
		})
		c.opts.metrics.RecordSnapshot(ctx, string(c.p.Step), int64(snap.Len()))
		observability.LogEpochAdvance(c.opts.logger, string(c.p.Step), uint64(e), snap.Len())
	}

	switch {
	case eof:
		c.outCap.Drop()
		c.changeCap.Drop()
		c.outCap, c.changeCap = nil, nil
		observability.LogInputEOF(c.opts.logger, string(c.p.Step), uint64(e))
		if closer, ok := c.p.Source.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				return &SourceError{Step: c.p.Step, Epoch: e, Op: "close", Err: err}
			}
		}
		return nil
	case advance:
		next := e + 1
		outCap := c.outCap.Delayed(next)
		changeCap := c.changeCap.Delayed(next)
		c.outCap.Drop()
		c.changeCap.Drop()
		c.outCap, c.changeCap = outCap, changeCap
		c.epochStart = c.opts.clock.Now()
		c.opts.metrics.RecordEpochAdvance(ctx, string(c.p.Step), uint64(e))
	}

	c.p.Activator.Activate()
	return nil
}

// Close drops any capabilities still held, for shutdown after an error.
func (c *Coordinator[T]) Close() {
	if c.outCap != nil {
		c.outCap.Drop()
		c.changeCap.Drop()
		c.outCap, c.changeCap = nil, nil
	}
}

func (c *Coordinator[T]) noteBlocked(e recovery.Epoch) {
	if c.cfg.stall <= 0 {
		return
	}
	now := c.opts.clock.Now()
	if c.blockedSince.IsZero() {
		c.blockedSince = now
		c.stallLogged = false
		return
	}
	if waited := now.Sub(c.blockedSince); !c.stallLogged && waited >= c.cfg.stall {
		observability.LogInputStalled(c.opts.logger, string(c.p.Step), uint64(e), waited)
		c.stallLogged = true
	}
}
