/*
Package epochflow runs resumable streaming dataflows.

# Overview

A dataflow pulls items from one input, passes them through a chain of
steps and writes them to a sink. The input's stream is cut into epochs.
At every epoch boundary the input's position is snapshotted and written
to a recovery store together with each worker's progress, so a later
run can pick up from the last epoch every worker completed.

# Basic Usage

	flow := epochflow.NewDataflow[int]("numbers").
	    Input("inp", input.Testing([]int{10, 20, 30})).
	    Map("double", func(x int) (int, error) { return x * 2, nil }).
	    Capture(collector)

	store, _ := changelog.Open(changelog.BackendSQLite, "recovery.db")
	defer store.Close()

	err := epochflow.RunMain(ctx, flow, epochflow.WithRecovery(store))

Running the same flow again with the same store resumes after the last
completed epoch instead of starting over.

# Workers

Cluster runs the flow on several workers in one process. Each worker
builds its own copy of the input with its index and the worker count, so
inputs partition their data themselves (see input.Distribute). Workers
share one progress frontier: no worker's input starts an epoch until
every worker has finished the epochs before it.

# Epochs

By default every item is its own epoch. epoch.Periodic groups items by
wall-clock time and epoch.Testing enforces one item per epoch strictly.
Select one with WithEpochConfig.

# Observability

Runs log through log/slog, record OpenTelemetry metrics with WithMetrics
and emit spans with WithTracing.
*/
package epochflow
