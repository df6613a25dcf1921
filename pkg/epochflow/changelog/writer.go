package changelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/randalmurphal/epochflow/pkg/epochflow/dataflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/observability"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Writer is the operator that makes a worker's state changes durable.
// Each activation appends every buffered change, grouped by epoch, before
// acknowledging it, then records the worker's progress if it grew.
type Writer struct {
	store    Store
	worker   recovery.WorkerIndex
	changes  *dataflow.Output[recovery.KChange]
	frontier *dataflow.Frontier
	act      *dataflow.Activator
	logger   *slog.Logger
	retry    RetryPolicy
	clock    clock.Clock

	progress recovery.Epoch
}

// WriterParams wires a Writer into a worker.
type WriterParams struct {
	Store     Store
	Worker    recovery.WorkerIndex
	Changes   *dataflow.Output[recovery.KChange]
	Frontier  *dataflow.Frontier
	Activator *dataflow.Activator
	// Resume is the epoch the run started at; progress is only written
	// once it moves past it.
	Resume recovery.ResumeEpoch
	Logger *slog.Logger
	// Retry applies to every Append and WriteProgress. Default: one attempt.
	Retry RetryPolicy
	Clock clock.Clock
}

// NewWriter creates a change-log writer.
func NewWriter(p WriterParams) (*Writer, error) {
	if p.Store == nil || p.Changes == nil || p.Frontier == nil || p.Activator == nil {
		return nil, errors.New("changelog writer is not fully wired")
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Writer{
		store:    p.Store,
		worker:   p.Worker,
		changes:  p.Changes,
		frontier: p.Frontier,
		act:      p.Activator,
		logger:   p.Logger,
		retry:    p.Retry,
		clock:    clk,
		progress: p.Resume.Epoch(),
	}, nil
}

// Progress returns the last progress this writer recorded.
func (w *Writer) Progress() recovery.Epoch {
	return w.progress
}

// Schedule implements dataflow.Operator.
func (w *Writer) Schedule(ctx context.Context) error {
	if err := w.flush(ctx); err != nil {
		return err
	}

	// held must decide the re-arm below: a sibling can release the last
	// hold while progress is being written.
	next := w.progress
	low, held := w.frontier.Min()
	if held {
		next = low
	} else if high, ok := w.frontier.High(); ok {
		next = high + 1
	}
	if next > w.progress {
		err := w.retry.do(ctx, w.clock, func() error {
			return w.store.WriteProgress(w.worker, next)
		})
		if err != nil {
			return fmt.Errorf("worker %d: %w", w.worker, err)
		}
		w.progress = next
		observability.LogProgress(w.logger, int(w.worker), uint64(next))
	}

	if held || !w.frontier.Empty() {
		w.act.Activate()
	}
	return nil
}

func (w *Writer) flush(ctx context.Context) error {
	pending := w.changes.Pending()
	for start := 0; start < len(pending); {
		e := pending[start].Epoch
		end := start
		batch := make([]recovery.KChange, 0, len(pending)-start)
		for end < len(pending) && pending[end].Epoch == e {
			batch = append(batch, pending[end].Value)
			end++
		}
		err := w.retry.do(ctx, w.clock, func() error {
			return w.store.Append(e, batch)
		})
		if err != nil {
			return fmt.Errorf("worker %d epoch %d: %w", w.worker, e, err)
		}
		observability.LogChangesWritten(w.logger, uint64(e), len(batch))
		w.changes.Ack(end - start)
		pending = w.changes.Pending()
		start = 0
	}
	return nil
}
