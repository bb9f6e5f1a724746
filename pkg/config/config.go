// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable expansion.
// Fields absent from the file keep the values already set on target.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Decode(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// LoadOptional behaves like Load but leaves target untouched, apart from
// validation, when the file does not exist.
func LoadOptional[T any](filename string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

// Decode expands environment variables in data, unmarshals it into target
// and validates the result.
func Decode[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return err
	}
	return validate(target)
}

// Marshal renders target as YAML, e.g. to scaffold a config file.
func Marshal[T any](target *T) ([]byte, error) {
	return yaml.Marshal(target)
}

func validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
