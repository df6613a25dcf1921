package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat means a run config is neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Format is the encoding of a run config document.
type Format string

// Supported run config formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format of a run config from its file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: file extension %q", ErrUnsupportedFormat, ext)
	}
}

// FromFile loads a run config such as epochflow.yaml: the workers, epoch
// and recovery sections read by epochflow.SettingsFromConfig.
//
// ${VAR} references are expanded from the environment before parsing, so
// one file can point recovery.path at a per-host directory.
func FromFile(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(format, []byte(os.ExpandEnv(string(data))))
}

// Parse decodes a run config document. An empty document yields an empty
// Config, so every setting takes its default.
func Parse(format Format, data []byte) (Config, error) {
	var m map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse yaml run config: %w", err)
		}
	case FormatJSON:
		if len(strings.TrimSpace(string(data))) == 0 {
			break
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse json run config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return New(m), nil
}

// FromYAML parses a YAML run config.
func FromYAML(data []byte) (Config, error) {
	return Parse(FormatYAML, data)
}

// FromJSON parses a JSON run config.
func FromJSON(data []byte) (Config, error) {
	return Parse(FormatJSON, data)
}
