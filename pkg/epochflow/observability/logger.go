// Package observability provides structured logging, metrics and tracing
// for epochflow runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds worker context to a logger.
// Returns a new logger with run_id, worker_index and worker_count fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", 0, 4)
//	enriched.Info("doing work") // includes run_id, worker_index, worker_count
func EnrichLogger(logger *slog.Logger, runID string, workerIndex, workerCount int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.Int("worker_index", workerIndex),
		slog.Int("worker_count", workerCount),
	)
}

// LogRunStart logs the start of a dataflow run.
func LogRunStart(logger *slog.Logger, runID, flow string, workers int) {
	if logger == nil {
		return
	}
	logger.Info("dataflow run starting",
		slog.String("run_id", runID),
		slog.String("flow", flow),
		slog.Int("workers", workers),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, items int64) {
	if logger == nil {
		return
	}
	logger.Info("dataflow run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int64("items", items),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("dataflow run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogResume logs the epoch a run resumes from.
func LogResume(logger *slog.Logger, resumeEpoch uint64, fresh bool) {
	if logger == nil {
		return
	}
	logger.Info("resuming dataflow",
		slog.Uint64("resume_epoch", resumeEpoch),
		slog.Bool("fresh", fresh),
	)
}

// LogEpochAdvance logs an input closing an epoch.
func LogEpochAdvance(logger *slog.Logger, step string, epoch uint64, snapshotBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("epoch closed",
		slog.String("step", step),
		slog.Uint64("epoch", epoch),
		slog.Int("snapshot_bytes", snapshotBytes),
	)
}

// LogInputEOF logs an input reaching end of stream.
func LogInputEOF(logger *slog.Logger, step string, epoch uint64) {
	if logger == nil {
		return
	}
	logger.Debug("input exhausted",
		slog.String("step", step),
		slog.Uint64("epoch", epoch),
	)
}

// LogChangesWritten logs a batch of state changes made durable.
func LogChangesWritten(logger *slog.Logger, epoch uint64, count int) {
	if logger == nil {
		return
	}
	logger.Debug("state changes written",
		slog.Uint64("epoch", epoch),
		slog.Int("changes", count),
	)
}

// LogProgress logs a worker's recorded progress.
func LogProgress(logger *slog.Logger, workerIndex int, epoch uint64) {
	if logger == nil {
		return
	}
	logger.Debug("progress recorded",
		slog.Int("worker_index", workerIndex),
		slog.Uint64("epoch", epoch),
	)
}

// LogInputStalled logs an input held back by the backpressure probe for
// longer than expected.
func LogInputStalled(logger *slog.Logger, step string, epoch uint64, waited time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("input stalled on backpressure; workers may have produced unequal item counts",
		slog.String("step", step),
		slog.Uint64("epoch", epoch),
		slog.Duration("waited", waited),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
