package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteDefault writes the default configuration to the provided path, encoded
// to match its extension.
func WriteDefault(path string) error {
	data, err := encode(path, Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	return nil
}
