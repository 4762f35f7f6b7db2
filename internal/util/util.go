// Package util provides small filesystem helpers shared across the service,
// primarily XDG-aware path resolution for config and data files.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath normalizes a configuration path for consistent reuse.
// It handles:
//   - "$XDG_CONFIG_HOME/..." -> expands XDG_CONFIG_HOME env var
//   - "~..." -> expands to the user's home directory
//   - Returns a cleaned path otherwise
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "$XDG_CONFIG_HOME") {
		xdg := os.Getenv("XDG_CONFIG_HOME")
		if xdg == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve path: %w", err)
			}
			xdg = filepath.Join(home, ".config")
		}
		remainder := strings.TrimPrefix(path, "$XDG_CONFIG_HOME")
		remainder = strings.TrimLeft(remainder, "/\\")
		if remainder == "" {
			return filepath.Clean(xdg), nil
		}
		normalized := strings.ReplaceAll(remainder, "\\", "/")
		return filepath.Clean(filepath.Join(xdg, filepath.FromSlash(normalized))), nil
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		remainder := strings.TrimPrefix(path, "~")
		remainder = strings.TrimLeft(remainder, "/\\")
		if remainder == "" {
			return filepath.Clean(home), nil
		}
		normalized := strings.ReplaceAll(remainder, "\\", "/")
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(normalized))), nil
	}

	return filepath.Clean(path), nil
}

// DefaultConfigDir returns the llmgate config directory following the XDG
// Base Directory spec: $XDG_CONFIG_HOME/llmgate if set, else ~/.config/llmgate.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "llmgate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "llmgate")
	}
	return ""
}
