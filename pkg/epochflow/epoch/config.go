package epoch

import (
	"fmt"
	"time"
)

// Mode selects when an input closes its current epoch.
type Mode int

const (
	// ModePerItem closes an epoch after every item.
	ModePerItem Mode = iota
	// ModeTesting closes an epoch after every item. A poll that yields an
	// item always closes the epoch in the same tick, so no epoch carries two.
	ModeTesting
	// ModePeriodic closes an epoch when a wall-clock period has elapsed.
	ModePeriodic
)

// String returns the mode name as used in config files.
func (m Mode) String() string {
	switch m {
	case ModePerItem:
		return "per_item"
	case ModeTesting:
		return "testing"
	case ModePeriodic:
		return "periodic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config describes how inputs divide their stream into epochs.
type Config struct {
	mode   Mode
	length time.Duration
	stall  time.Duration
}

// PerItem is the default: every item gets its own epoch.
func PerItem() Config {
	return Config{mode: ModePerItem}
}

// Testing gives every item its own epoch, deterministically, for tests.
//
// Every worker must produce the same number of items. A worker that runs
// out early leaves its peers blocked on backpressure forever; use
// WithStallWarning to get a log line when that happens.
func Testing() Config {
	return Config{mode: ModeTesting}
}

// Periodic closes an epoch each time at least d has elapsed since it
// began. Items do not close epochs by themselves.
func Periodic(d time.Duration) Config {
	return Config{mode: ModePeriodic, length: d}
}

// WithStallWarning logs one warning when backpressure holds an input
// back for at least d. Zero disables the warning.
func (c Config) WithStallWarning(d time.Duration) Config {
	c.stall = d
	return c
}

// Mode returns the epoch mode.
func (c Config) Mode() Mode { return c.mode }

// Length returns the period of ModePeriodic.
func (c Config) Length() time.Duration { return c.length }

// StallWarning returns the stall warning threshold, zero if disabled.
func (c Config) StallWarning() time.Duration { return c.stall }

// Validate checks the config for consistency.
func (c Config) Validate() error {
	switch c.mode {
	case ModePerItem, ModeTesting:
	case ModePeriodic:
		if c.length <= 0 {
			return fmt.Errorf("%w: periodic epoch length must be positive, got %s", ErrInvalidConfig, c.length)
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidConfig, c.mode)
	}
	if c.stall < 0 {
		return fmt.Errorf("%w: negative stall warning %s", ErrInvalidConfig, c.stall)
	}
	return nil
}

// ParseConfig builds a Config from config-file values. An empty mode
// means per_item.
func ParseConfig(mode string, length, stall time.Duration) (Config, error) {
	var c Config
	switch mode {
	case "", "per_item":
		c = PerItem()
	case "testing":
		c = Testing()
	case "periodic":
		c = Periodic(length)
	default:
		return Config{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, mode)
	}
	c = c.WithStallWarning(stall)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
