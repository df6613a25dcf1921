package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/epochflow/pkg/epochflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default", "default"},
		{"nested path", map[string]any{"recovery": map[string]any{"backend": "sqlite"}}, "recovery.backend", "memory", "sqlite"},
		{"nested missing", map[string]any{"recovery": map[string]any{}}, "recovery.backend", "memory", "memory"},
		{"path through scalar", map[string]any{"recovery": "sqlite"}, "recovery.backend", "memory", "memory"},
		{"literal dotted key wins", map[string]any{"a.b": "flat", "a": map[string]any{"b": "nested"}}, "a.b", "", "flat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, tt.defaultVal))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "250ms", 250 * time.Millisecond},
		{"int seconds", 3, 3 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 5 * time.Minute, 5 * time.Minute},
		{"bad string", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"epoch": map[string]any{"length": tt.val}})
			assert.Equal(t, tt.want, cfg.Duration("epoch.length", time.Hour))
		})
	}
}

func TestBoolAndInt(t *testing.T) {
	cfg := config.New(map[string]any{
		"debug":    true,
		"workers":  4,
		"big":      int64(8),
		"unsigned": uint64(9),
		"float":    2.0,
		"frac":     2.5,
		"text":     "3",
	})

	assert.True(t, cfg.Bool("debug", false))
	assert.False(t, cfg.Bool("missing", false))
	assert.True(t, cfg.Bool("workers", true), "wrong type falls back")

	assert.Equal(t, 4, cfg.Int("workers", 1))
	assert.Equal(t, 8, cfg.Int("big", 1))
	assert.Equal(t, 9, cfg.Int("unsigned", 1))
	assert.Equal(t, 2, cfg.Int("float", 1))
	assert.Equal(t, 1, cfg.Int("frac", 1))
	assert.Equal(t, 1, cfg.Int("text", 1))
}

func TestHasAnySub(t *testing.T) {
	cfg := config.New(map[string]any{
		"recovery": map[string]any{
			"backend": "pebble",
			"path":    "/tmp/state",
		},
		"workers": 2,
	})

	assert.True(t, cfg.Has("recovery.backend"))
	assert.False(t, cfg.Has("recovery.missing"))
	assert.Equal(t, 2, cfg.Any("workers", nil))
	assert.Nil(t, cfg.Any("nope", nil))

	sub := cfg.Sub("recovery")
	assert.Equal(t, "pebble", sub.String("backend", ""))
	assert.Equal(t, "/tmp/state", sub.String("path", ""))

	assert.Empty(t, cfg.Sub("workers").Raw(), "scalar section is empty")
	assert.Empty(t, cfg.Sub("missing").Raw())
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
workers: 3
epoch:
  mode: periodic
  length: 5s
recovery:
  backend: sqlite
  path: ./recovery.db
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Int("workers", 1))
	assert.Equal(t, "periodic", cfg.String("epoch.mode", ""))
	assert.Equal(t, 5*time.Second, cfg.Duration("epoch.length", 0))
	assert.Equal(t, "sqlite", cfg.Sub("recovery").String("backend", ""))

	_, err = config.FromYAML([]byte("workers: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"workers": 2, "epoch": {"mode": "testing"}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Int("workers", 1))
	assert.Equal(t, "testing", cfg.String("epoch.mode", ""))

	_, err = config.FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml with env expansion", func(t *testing.T) {
		t.Setenv("EPOCHFLOW_TEST_DIR", "/var/lib/flow")
		path := filepath.Join(dir, "flow.YML")
		require.NoError(t, os.WriteFile(path, []byte("recovery:\n  path: ${EPOCHFLOW_TEST_DIR}/db\n"), 0o644))

		cfg, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/flow/db", cfg.String("recovery.path", ""))
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "flow.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"workers": 5}`), 0o644))

		cfg, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Int("workers", 1))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "flow.toml")
		require.NoError(t, os.WriteFile(path, []byte(`workers = 1`), 0o644))

		_, err := config.FromFile(path)
		assert.ErrorIs(t, err, config.ErrUnsupportedFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.FromFile(filepath.Join(dir, "nope.yaml"))
		assert.ErrorContains(t, err, "read config file")
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		format  config.Format
		data    string
		workers int
		wantErr error
	}{
		{"yaml", config.FormatYAML, "workers: 4\n", 4, nil},
		{"json", config.FormatJSON, `{"workers": 4}`, 4, nil},
		{"empty yaml takes defaults", config.FormatYAML, "", 1, nil},
		{"empty json takes defaults", config.FormatJSON, "  \n", 1, nil},
		{"toml", config.Format("toml"), "workers = 4", 0, config.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse(tt.format, []byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.workers, cfg.Int("workers", 1))
		})
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]config.Format{
		"epochflow.yaml": config.FormatYAML,
		"run.YML":        config.FormatYAML,
		"run.json":       config.FormatJSON,
	} {
		got, err := config.FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := config.FormatOf("run.ini")
	assert.ErrorIs(t, err, config.ErrUnsupportedFormat)
}
