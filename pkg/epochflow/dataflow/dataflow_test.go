package dataflow

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontier_Multiset(t *testing.T) {
	f := NewFrontier()
	assert.True(t, f.Empty())
	_, ok := f.Min()
	assert.False(t, ok)
	_, ok = f.High()
	assert.False(t, ok)

	f.Update(3, 1)
	f.Update(1, 2)
	f.Update(5, 1)

	m, ok := f.Min()
	require.True(t, ok)
	assert.Equal(t, recovery.Epoch(1), m)
	assert.Equal(t, "[1:2 3:1 5:1]", f.String())

	f.Update(1, -1)
	m, _ = f.Min()
	assert.Equal(t, recovery.Epoch(1), m, "one hold left at epoch 1")

	f.Update(1, -1)
	m, _ = f.Min()
	assert.Equal(t, recovery.Epoch(3), m)

	f.Update(3, -1)
	f.Update(5, -1)
	assert.True(t, f.Empty())

	high, ok := f.High()
	require.True(t, ok)
	assert.Equal(t, recovery.Epoch(5), high, "high survives releases")
}

func TestFrontier_LessThan(t *testing.T) {
	f := NewFrontier()
	assert.False(t, f.LessThan(10), "empty frontier never blocks")

	f.Update(4, 1)
	tests := []struct {
		e    recovery.Epoch
		want bool
	}{
		{3, false},
		{4, false},
		{5, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.LessThan(tt.e), "LessThan(%d)", tt.e)
	}
}

func TestFrontier_NegativePanics(t *testing.T) {
	f := NewFrontier()
	assert.Panics(t, func() { f.Update(0, -1) })
}

func TestCapability(t *testing.T) {
	f := NewFrontier()
	c := f.Mint(0)
	assert.Equal(t, recovery.Epoch(0), c.Time())
	assert.True(t, c.Valid())

	next := c.Delayed(2)
	assert.Equal(t, recovery.Epoch(2), next.Time())
	c.Drop()
	assert.False(t, c.Valid())
	c.Drop()

	m, _ := f.Min()
	assert.Equal(t, recovery.Epoch(2), m)

	assert.Panics(t, func() { next.Delayed(1) })
	assert.Panics(t, func() { c.Delayed(3) })

	next.Drop()
	assert.True(t, f.Empty())

	var nilCap *Capability
	assert.False(t, nilCap.Valid())
}

func TestOutput_GiveDrain(t *testing.T) {
	f := NewFrontier()
	out := NewOutput[string]("down", f)
	c := f.Mint(1)

	out.Give(c, "a")
	out.GiveAt(1, "b")
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "down", out.Name())

	c.Drop()
	assert.False(t, f.Empty(), "buffered records hold their epoch")

	var got []string
	require.NoError(t, out.Drain(func(r Record[string]) error {
		assert.Equal(t, recovery.Epoch(1), r.Epoch)
		got = append(got, r.Value)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 0, out.Len())
	assert.True(t, f.Empty())
}

func TestOutput_DrainStopsOnError(t *testing.T) {
	f := NewFrontier()
	out := NewOutput[int]("down", f)
	out.GiveAt(0, 1)
	out.GiveAt(0, 2)

	boom := errors.New("boom")
	err := out.Drain(func(r Record[int]) error {
		if r.Value == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, 2, out.Pending()[0].Value)
	assert.False(t, f.Empty())
}

func TestOutput_GiveWithDroppedCapabilityPanics(t *testing.T) {
	f := NewFrontier()
	out := NewOutput[int]("down", f)
	c := f.Mint(0)
	c.Drop()
	assert.Panics(t, func() { out.Give(c, 1) })
}

func TestOutput_Ack(t *testing.T) {
	f := NewFrontier()
	out := NewOutput[int]("down", f)
	out.GiveAt(0, 1)
	out.GiveAt(1, 2)
	out.GiveAt(1, 3)

	out.Ack(1)
	m, _ := f.Min()
	assert.Equal(t, recovery.Epoch(1), m)

	out.Ack(10)
	assert.Equal(t, 0, out.Len())
	assert.True(t, f.Empty())
}

func TestWorker_RunsUntilQuiescent(t *testing.T) {
	w := NewWorker(0, 1, nil)
	var order []string

	remaining := 3
	act := w.NewActivator()
	w.Register("countdown", OperatorFunc(func(ctx context.Context) error {
		order = append(order, "countdown")
		remaining--
		if remaining > 0 {
			act.Activate()
		}
		return nil
	}), act)

	w.Register("once", OperatorFunc(func(ctx context.Context) error {
		order = append(order, "once")
		return nil
	}), w.NewActivator())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []string{"countdown", "once", "countdown", "countdown"}, order)
	assert.Equal(t, uint64(3), w.Rounds())
	assert.Equal(t, recovery.WorkerIndex(0), w.Index())
	assert.Equal(t, recovery.WorkerCount(1), w.Count())
	assert.NotNil(t, w.Frontier())
}

func TestWorker_OperatorError(t *testing.T) {
	w := NewWorker(0, 1, NewFrontier())
	boom := errors.New("boom")
	w.Register("bad", OperatorFunc(func(ctx context.Context) error {
		return boom
	}), w.NewActivator())

	err := w.Run(context.Background())
	require.Error(t, err)

	var opErr *OperatorError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "bad", opErr.Name)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "operator bad")
}

func TestWorker_ContextCancel(t *testing.T) {
	w := NewWorker(0, 1, nil)
	act := w.NewActivator()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	w.Register("forever", OperatorFunc(func(ctx context.Context) error {
		calls++
		if calls == 5 {
			cancel()
		}
		act.Activate()
		return nil
	}), act)

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, calls)
}

func TestWorker_RegisterNilPanics(t *testing.T) {
	w := NewWorker(0, 1, nil)
	assert.Panics(t, func() { w.Register("x", nil, w.NewActivator()) })
	assert.Panics(t, func() { w.Register("x", OperatorFunc(func(context.Context) error { return nil }), nil) })
}
