package epochflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/dataflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/epoch"
	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/observability"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// RunMain runs the dataflow on a single worker. It returns when the input
// is exhausted and every epoch has been recorded, or on the first error.
func RunMain[T any](ctx context.Context, flow *Dataflow[T], opts ...RunOption) error {
	return Cluster(ctx, flow, 1, opts...)
}

// Cluster runs the dataflow on workers goroutines that share one progress
// frontier. The first worker error cancels the others and is returned.
//
// Execution flow:
//  1. Read the resume epoch from the recovery store and record it as the
//     progress of exactly this run's workers
//  2. Build every worker's input from its state as of that epoch
//  3. Run the workers until all inputs are exhausted
//
// All workers are built before any of them runs, so none can record
// progress past an epoch another worker has yet to start.
func Cluster[T any](ctx context.Context, flow *Dataflow[T], workers int, opts ...RunOption) (runErr error) {
	if ctx == nil {
		return ErrNilContext
	}
	if workers < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, workers)
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.epochs.Validate(); err != nil {
		return err
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	store := cfg.store
	if store == nil {
		mem := changelog.NewMemoryStore()
		defer mem.Close()
		store = mem
	}

	resume, err := store.ResumeEpoch()
	if err != nil {
		return fmt.Errorf("read resume epoch: %w", err)
	}
	if err := store.ResetProgress(recovery.WorkerCount(workers), resume.Epoch()); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID, flow.name, workers)
	observability.LogResume(cfg.logger, uint64(resume), resume.Fresh())

	runCtx := ctx
	if cfg.tracingEnabled {
		var runSpan trace.Span
		runCtx, runSpan = cfg.spans.StartRunSpan(ctx, flow.name, cfg.runID, uint64(resume))
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var items atomic.Int64
	runErr = runWorkers(runCtx, flow, &cfg, store, resume, workers, &items)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())
	cfg.metrics.RecordRun(ctx, runErr == nil, duration)
	if runErr != nil {
		observability.LogRunError(cfg.logger, cfg.runID, runErr, durationMs)
	} else {
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, items.Load())
	}
	return runErr
}

func runWorkers[T any](ctx context.Context, flow *Dataflow[T], cfg *runConfig, store changelog.Store, resume recovery.ResumeEpoch, workers int, items *atomic.Int64) error {
	frontier := dataflow.NewFrontier()
	execs := make([]*execution[T], 0, workers)
	defer func() {
		for _, ex := range execs {
			ex.close()
		}
	}()

	for i := 0; i < workers; i++ {
		ex, err := buildWorker(flow, cfg, store, frontier, resume, recovery.WorkerIndex(i), recovery.WorkerCount(workers), items)
		if err != nil {
			return err
		}
		execs = append(execs, ex)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range execs {
		g.Go(func() error {
			return ex.run(gctx)
		})
	}
	return g.Wait()
}

// execution is one worker's share of a run.
type execution[T any] struct {
	worker *dataflow.Worker
	source input.Source[T]
	coord  *epoch.Coordinator[T]
	writer *changelog.Writer
	logger *slog.Logger
	cfg    *runConfig
	closed bool
}

func buildWorker[T any](
	flow *Dataflow[T],
	cfg *runConfig,
	store changelog.Store,
	frontier *dataflow.Frontier,
	resume recovery.ResumeEpoch,
	idx recovery.WorkerIndex,
	count recovery.WorkerCount,
	items *atomic.Int64,
) (*execution[T], error) {
	logger := observability.EnrichLogger(cfg.logger, cfg.runID, int(idx), int(count))
	key := recovery.NewFlowKey(flow.inputID, recovery.WorkerKey(idx))

	var state *recovery.StateBytes
	b, err := store.ResumeState(key, resume)
	switch {
	case err == nil:
		state = &b
	case !errors.Is(err, changelog.ErrNotFound):
		return nil, fmt.Errorf("load resume state %s: %w", key, err)
	}

	src, err := flow.input.Build(idx, count, state)
	if err != nil {
		return nil, &epoch.SourceError{Step: flow.inputID, Epoch: resume.Epoch(), Op: "build", Err: err}
	}

	w := dataflow.NewWorker(idx, count, frontier)
	data := dataflow.NewOutput[T](string(flow.inputID), frontier)
	changes := dataflow.NewOutput[recovery.KChange](string(flow.inputID)+".changes", frontier)
	inputAct, stepsAct, writerAct := w.NewActivator(), w.NewActivator(), w.NewActivator()

	outCap := frontier.Mint(resume.Epoch())
	changeCap := frontier.Mint(resume.Epoch())
	coord, err := epoch.New(epoch.Params[T]{
		Step:      flow.inputID,
		Key:       recovery.WorkerKey(idx),
		Source:    src,
		Resume:    resume,
		Probe:     frontier,
		Output:    data,
		Changes:   changes,
		OutputCap: outCap,
		ChangeCap: changeCap,
		Activator: inputAct,
	}, cfg.epochs,
		epoch.WithLogger(logger),
		epoch.WithMetrics(cfg.metrics),
		epoch.WithClock(cfg.clock),
	)
	if err != nil {
		outCap.Drop()
		changeCap.Drop()
		closeSource(src)
		return nil, err
	}

	writer, err := changelog.NewWriter(changelog.WriterParams{
		Store:     store,
		Worker:    idx,
		Changes:   changes,
		Frontier:  frontier,
		Activator: writerAct,
		Resume:    resume,
		Logger:    logger,
		Retry:     cfg.retry,
		Clock:     cfg.clock,
	})
	if err != nil {
		coord.Close()
		closeSource(src)
		return nil, err
	}

	w.Register(string(flow.inputID), dataflow.OperatorFunc(func(ctx context.Context) error {
		err := coord.Schedule(ctx)
		if data.Len() > 0 {
			stepsAct.Activate()
		}
		if changes.Len() > 0 {
			writerAct.Activate()
		}
		return err
	}), inputAct)
	w.Register("steps", &pipeline[T]{steps: flow.steps, sink: flow.sink, data: data, items: items}, stepsAct)
	w.Register("changelog", writer, writerAct)

	return &execution[T]{
		worker: w,
		source: src,
		coord:  coord,
		writer: writer,
		logger: logger,
		cfg:    cfg,
	}, nil
}

func (ex *execution[T]) run(ctx context.Context) (err error) {
	workerCtx := ctx
	if ex.cfg.tracingEnabled {
		var span trace.Span
		workerCtx, span = ex.cfg.spans.StartWorkerSpan(ctx, int(ex.worker.Index()))
		defer func() {
			ex.cfg.spans.EndSpanWithError(span, err)
		}()
	}

	err = ex.worker.Run(workerCtx)
	if err != nil {
		return err
	}
	if ex.cfg.tracingEnabled {
		ex.cfg.spans.AddSpanEvent(workerCtx, "worker.finished",
			attribute.Int64("progress", int64(ex.writer.Progress())),
			attribute.Int64("rounds", int64(ex.worker.Rounds())),
		)
	}
	return nil
}

// close releases what an unfinished worker still holds.
func (ex *execution[T]) close() {
	if ex.closed {
		return
	}
	ex.closed = true
	if !ex.coord.Terminal() {
		ex.coord.Close()
		if err := closeSource(ex.source); err != nil {
			ex.logger.Warn("close input failed", slog.String("error", err.Error()))
		}
	}
}

func closeSource(src any) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pipeline applies the dataflow's steps to each input item in order and
// writes the survivors to the sink.
type pipeline[T any] struct {
	steps []step[T]
	sink  Sink[T]
	data  *dataflow.Output[T]
	items *atomic.Int64
}

// Schedule implements dataflow.Operator.
func (p *pipeline[T]) Schedule(_ context.Context) error {
	return p.data.Drain(p.process)
}

func (p *pipeline[T]) process(r dataflow.Record[T]) (err error) {
	current := CaptureStep

	// Panic recovery
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{
				Step:  current,
				Value: v,
				Stack: string(debug.Stack()),
			}
		}
	}()

	item := r.Value
	for _, s := range p.steps {
		current = s.id
		switch s.kind {
		case stepMap:
			out, mapErr := s.mapFn(item)
			if mapErr != nil {
				return &StepError{Step: s.id, Epoch: r.Epoch, Err: mapErr}
			}
			item = out
		case stepFilter:
			if !s.keep(item) {
				return nil
			}
		case stepInspect:
			s.inspect(r.Epoch, item)
		}
	}

	current = CaptureStep
	if err := p.sink.Write(r.Epoch, item); err != nil {
		return &StepError{Step: CaptureStep, Epoch: r.Epoch, Err: err}
	}
	p.items.Add(1)
	return nil
}
