package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// LoadJSON loads configuration from a JSON file
func LoadJSON(path string, target interface{}) error {
	// #nosec G304 -- path comes from the operator (flag or CONFIG_PATH).
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}

	if err := sonic.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// SaveJSON writes config as indented JSON
func SaveJSON(path string, config interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return writeFileAtomic(path, append(data, '\n'))
}
