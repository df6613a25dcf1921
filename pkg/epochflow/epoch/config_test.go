package epoch

import (
	"context"
	"testing"
	"time"

	"github.com/randalmurphal/epochflow/pkg/epochflow/dataflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		length  time.Duration
		stall   time.Duration
		want    Mode
		wantErr bool
	}{
		{"default", "", 0, 0, ModePerItem, false},
		{"per item", "per_item", 0, 0, ModePerItem, false},
		{"testing with stall", "testing", 0, time.Minute, ModeTesting, false},
		{"periodic", "periodic", 5 * time.Second, 0, ModePeriodic, false},
		{"periodic without length", "periodic", 0, 0, 0, true},
		{"negative stall", "testing", 0, -time.Second, 0, true},
		{"unknown", "hourly", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(tt.mode, tt.length, tt.stall)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Mode())
			assert.Equal(t, tt.stall, cfg.StallWarning())
			if tt.want == ModePeriodic {
				assert.Equal(t, tt.length, cfg.Length())
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "per_item", ModePerItem.String())
	assert.Equal(t, "testing", ModeTesting.String())
	assert.Equal(t, "periodic", ModePeriodic.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
	assert.ErrorIs(t, Config{mode: Mode(9)}.Validate(), ErrInvalidConfig)
}

// endless always has another item ready.
type endless struct{ n int }

func (s *endless) Next() (input.Poll[int], error) {
	s.n++
	return input.Ready(s.n), nil
}

func (s *endless) Snapshot() (recovery.StateBytes, error) { return recovery.Ser(s.n) }

func TestCoordinator_TestingModeOneItemPerEpoch(t *testing.T) {
	f := dataflow.NewFrontier()
	w := dataflow.NewWorker(0, 1, f)
	act := w.NewActivator()
	out := dataflow.NewOutput[int]("inp", f)
	changes := dataflow.NewOutput[recovery.KChange]("inp.changes", f)
	c, err := New(Params[int]{
		Step:      "inp",
		Source:    &endless{},
		Probe:     f,
		Output:    out,
		Changes:   changes,
		OutputCap: f.Mint(0),
		ChangeCap: f.Mint(0),
		Activator: act,
	}, Testing())
	require.NoError(t, err)
	w.Register("inp", c, act)

	perEpoch := map[recovery.Epoch]int{}
	for i := 0; i < 5; i++ {
		more, err := w.Step(context.Background())
		require.NoError(t, err)
		require.True(t, more)
		require.NoError(t, out.Drain(func(r dataflow.Record[int]) error {
			perEpoch[r.Epoch]++
			return nil
		}))
		require.NoError(t, changes.Drain(func(dataflow.Record[recovery.KChange]) error { return nil }))
	}

	assert.Equal(t, map[recovery.Epoch]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 1}, perEpoch)
	e, ok := c.Epoch()
	require.True(t, ok)
	assert.Equal(t, recovery.Epoch(5), e)
	c.Close()
}
