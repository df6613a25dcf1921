package epochflow_test

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/epochflow/pkg/epochflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/dataflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/epoch"
	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRunMain_TenTwentyThirty(t *testing.T) {
	store := changelog.NewMemoryStore()
	defer store.Close()
	out := epochflow.NewCollector[int]()

	err := epochflow.RunMain(context.Background(), numbersFlow([]int{10, 20, 30}, out),
		epochflow.WithRecovery(store))
	require.NoError(t, err)

	assert.Equal(t, []epochflow.Captured[int]{
		{Epoch: 0, Item: 10},
		{Epoch: 1, Item: 20},
		{Epoch: 2, Item: 30},
	}, out.Items())

	// Done closes epoch 3, so every epoch through 3 is durable.
	assert.Equal(t, []changelog.WorkerProgress{{Worker: 0, Epoch: 4}}, progressOf(t, store))

	key := recovery.NewFlowKey("inp", recovery.WorkerKey(0))
	for at, want := range map[recovery.ResumeEpoch]int{1: 1, 2: 2, 3: 3, 4: 3} {
		assert.Equal(t, want, stateOf(t, store, key, at), "state before epoch %d", at)
	}
}

func TestRunMain_Steps(t *testing.T) {
	out := epochflow.NewCollector[int]()
	var seen []string

	flow := epochflow.NewDataflow[int]("steps").
		Input("inp", input.Testing([]int{1, 2, 3, 4})).
		Map("double", func(x int) (int, error) { return x * 2, nil }).
		Filter("big", func(x int) bool { return x > 4 }).
		Inspect("peek", func(e recovery.Epoch, x int) {
			seen = append(seen, strings.Repeat("*", x))
		}).
		Capture(out)

	require.NoError(t, epochflow.RunMain(context.Background(), flow))

	assert.Equal(t, []int{6, 8}, out.Values())
	assert.Equal(t, []string{"******", "********"}, seen)
	assert.Equal(t, recovery.Epoch(2), out.Items()[0].Epoch, "items keep their input epoch")
}

func TestRunMain_RerunAfterCompletion(t *testing.T) {
	store := changelog.NewMemoryStore()
	defer store.Close()

	first := epochflow.NewCollector[int]()
	require.NoError(t, epochflow.RunMain(context.Background(), numbersFlow([]int{1, 2}, first),
		epochflow.WithRecovery(store)))
	assert.Equal(t, []int{1, 2}, first.Values())

	second := epochflow.NewCollector[int]()
	require.NoError(t, epochflow.RunMain(context.Background(), numbersFlow([]int{1, 2}, second),
		epochflow.WithRecovery(store)))
	assert.Zero(t, second.Len(), "a finished input stays finished")

	// The empty rerun closes one more epoch.
	assert.Equal(t, []changelog.WorkerProgress{{Worker: 0, Epoch: 4}}, progressOf(t, store))
}

func TestRunMain_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		flow    func(sink epochflow.Sink[int]) *epochflow.Dataflow[int]
		step    recovery.StepID
		epoch   recovery.Epoch
		wantErr error
	}{
		{
			name: "map error",
			flow: func(sink epochflow.Sink[int]) *epochflow.Dataflow[int] {
				return epochflow.NewDataflow[int]("f").
					Input("inp", input.Testing([]int{1, 2, 3})).
					Map("fail-on-2", func(x int) (int, error) {
						if x == 2 {
							return 0, boom
						}
						return x, nil
					}).
					Capture(sink)
			},
			step:    "fail-on-2",
			epoch:   1,
			wantErr: boom,
		},
		{
			name: "sink error",
			flow: func(epochflow.Sink[int]) *epochflow.Dataflow[int] {
				return epochflow.NewDataflow[int]("f").
					Input("inp", input.Testing([]int{1})).
					Capture(epochflow.SinkFunc[int](func(recovery.Epoch, int) error { return boom }))
			},
			step:    epochflow.CaptureStep,
			epoch:   0,
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := epochflow.RunMain(context.Background(), tt.flow(epochflow.NewCollector[int]()))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var stepErr *epochflow.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.step, stepErr.Step)
			assert.Equal(t, tt.epoch, stepErr.Epoch)

			var opErr *dataflow.OperatorError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "steps", opErr.Name)
		})
	}
}

func TestRunMain_Panic(t *testing.T) {
	flow := epochflow.NewDataflow[int]("f").
		Input("inp", input.Testing([]int{1})).
		Map("explode", func(int) (int, error) { panic("kaboom") }).
		Capture(epochflow.NewCollector[int]())

	err := epochflow.RunMain(context.Background(), flow)

	var panicErr *epochflow.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, recovery.StepID("explode"), panicErr.Step)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Contains(t, panicErr.Stack, "goroutine")
}

func TestRunMain_InputErrors(t *testing.T) {
	t.Run("build", func(t *testing.T) {
		boom := errors.New("no such topic")
		in := input.NewManual[int, int](func(recovery.WorkerIndex, recovery.WorkerCount, *int) (input.Iterator, error) {
			return nil, boom
		})
		flow := epochflow.NewDataflow[int]("f").Input("inp", in).Capture(epochflow.NewCollector[int]())

		err := epochflow.RunMain(context.Background(), flow)
		assert.ErrorIs(t, err, boom)

		var srcErr *epoch.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, "build", srcErr.Op)
	})

	t.Run("malformed yield", func(t *testing.T) {
		in := input.NewManual[int, int](func(recovery.WorkerIndex, recovery.WorkerCount, *int) (input.Iterator, error) {
			return input.IteratorFunc(func() input.Poll[any] {
				return input.Ready[any]("not a pair")
			}), nil
		})
		flow := epochflow.NewDataflow[int]("f").Input("inp", in).Capture(epochflow.NewCollector[int]())

		err := epochflow.RunMain(context.Background(), flow)
		assert.ErrorIs(t, err, input.ErrMalformedYield)
	})
}

func TestRunMain_StopsSequenceOnError(t *testing.T) {
	stopped := false
	in := input.FromSeq[int, int](func(_ recovery.WorkerIndex, _ recovery.WorkerCount, _ *int) iter.Seq2[int, int] {
		return func(yield func(int, int) bool) {
			defer func() { stopped = true }()
			for i := 0; ; i++ {
				if !yield(i+1, i) {
					return
				}
			}
		}
	})

	flow := epochflow.NewDataflow[int]("f").
		Input("inp", in).
		Map("fail", func(x int) (int, error) {
			if x == 3 {
				return 0, errors.New("stop here")
			}
			return x, nil
		}).
		Capture(epochflow.NewCollector[int]())

	require.Error(t, epochflow.RunMain(context.Background(), flow))
	assert.True(t, stopped, "unfinished input is closed")
}

func TestRunMain_ContextDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pending := input.NewManual[int, int](func(recovery.WorkerIndex, recovery.WorkerCount, *int) (input.Iterator, error) {
		return input.IteratorFunc(func() input.Poll[any] { return input.Pending[any]() }), nil
	})
	flow := epochflow.NewDataflow[int]("f").Input("inp", pending).Capture(epochflow.NewCollector[int]())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := epochflow.RunMain(ctx, flow)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunMain_Validation(t *testing.T) {
	out := epochflow.NewCollector[int]()

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // testing nil context handling
		err := epochflow.RunMain(nil, numbersFlow([]int{1}, out))
		assert.ErrorIs(t, err, epochflow.ErrNilContext)
	})

	t.Run("no input", func(t *testing.T) {
		err := epochflow.RunMain(context.Background(), epochflow.NewDataflow[int]("f").Capture(out))
		assert.ErrorIs(t, err, epochflow.ErrNoInput)
	})

	t.Run("bad workers", func(t *testing.T) {
		err := epochflow.Cluster(context.Background(), numbersFlow([]int{1}, out), 0)
		assert.ErrorIs(t, err, epochflow.ErrInvalidWorkers)
	})

	t.Run("bad epoch config", func(t *testing.T) {
		err := epochflow.RunMain(context.Background(), numbersFlow([]int{1}, out),
			epochflow.WithEpochConfig(epoch.Periodic(0)))
		assert.ErrorIs(t, err, epoch.ErrInvalidConfig)
	})

	assert.Zero(t, out.Len())
}

func TestRunMain_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	err := epochflow.RunMain(context.Background(), numbersFlow([]int{1}, epochflow.NewCollector[int]()),
		epochflow.WithLogger(logger), epochflow.WithRunID("run-42"))
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "dataflow run starting")
	assert.Contains(t, logs, "dataflow run completed")
	assert.Contains(t, logs, "run_id=run-42")
	assert.Contains(t, logs, "worker_index=0")
	assert.Contains(t, logs, "epoch closed")
	assert.Contains(t, logs, "input exhausted")
	assert.Contains(t, logs, "progress recorded")
}

func TestRunMain_Periodic(t *testing.T) {
	out := epochflow.NewCollector[int]()

	// A period no test run reaches: every item lands in the resume epoch
	// and only Done closes it.
	err := epochflow.RunMain(context.Background(), numbersFlow([]int{1, 2, 3}, out),
		epochflow.WithEpochConfig(epoch.Periodic(time.Hour)))
	require.NoError(t, err)

	for _, c := range out.Items() {
		assert.Equal(t, recovery.Epoch(0), c.Epoch)
	}
	assert.Equal(t, []int{1, 2, 3}, out.Values())
}

func TestCluster_PartitionsInput(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := changelog.NewMemoryStore()
	defer store.Close()
	out := epochflow.NewCollector[int]()

	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.NoError(t, epochflow.Cluster(context.Background(), numbersFlow(items, out), 3,
		epochflow.WithRecovery(store)))

	assert.ElementsMatch(t, items, out.Values())
	for _, c := range out.Items() {
		// Worker w's k-th item is items[w+3k], emitted at epoch k.
		assert.Equal(t, recovery.Epoch((c.Item-1)/3), c.Epoch, "item %d", c.Item)
	}

	assert.Equal(t, []changelog.WorkerProgress{
		{Worker: 0, Epoch: 4},
		{Worker: 1, Epoch: 4},
		{Worker: 2, Epoch: 4},
	}, progressOf(t, store))

	infos, err := store.List(changelog.Latest)
	require.NoError(t, err)
	assert.Len(t, infos, 3, "one state key per worker")
}

func TestCluster_FailureCancelsSiblings(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("worker 1 failed")
	flow := epochflow.NewDataflow[int]("f").
		Input("inp", input.Testing([]int{1, 2, 3, 4, 5, 6})).
		Map("fail", func(x int) (int, error) {
			if x == 4 {
				return 0, boom
			}
			return x, nil
		}).
		Capture(epochflow.NewCollector[int]())

	err := epochflow.Cluster(context.Background(), flow, 2)
	assert.ErrorIs(t, err, boom)
}
