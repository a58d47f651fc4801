// Package config loads YAML configuration files into typed structs,
// expanding ${VAR} environment references before decoding.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration structs that check their own
// invariants after decoding.
type Validator interface {
	Validate() error
}

// Load decodes the YAML file at path into target. Environment references
// like ${HOME} are expanded before decoding. When target implements
// Validator, validation runs after decoding.
func Load[T any](path string, target *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(path, data, target)
}

// LoadIfPresent behaves like Load but treats a missing file as "keep the
// target's current values". It reports whether the file was found. The
// target is validated either way, so callers can rely on defaults having
// passed the same checks as a loaded file.
func LoadIfPresent[T any](path string, target *T) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, validate(target)
	}
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	return true, decode(path, data, target)
}

func decode(path string, data []byte, target any) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return validate(target)
}

func validate(target any) error {
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
	}
	return nil
}
