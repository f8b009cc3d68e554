package middleware

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Input validation for sidecar requests. The sidecar reads files named by
// the caller, so paths get the same scrutiny any file-reading endpoint
// needs.

// ValidateConfigPath checks a swingft config path from an analyze request.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config_path cannot be empty")
	}

	cleaned := filepath.Clean(path)

	// Block path traversal attempts
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("path traversal detected")
	}

	// Block sensitive system directories
	blocked := []string{"/etc", "/proc", "/sys", "/dev", "/root", "/boot"}
	for _, b := range blocked {
		if strings.HasPrefix(cleaned, b+"/") || cleaned == b {
			return fmt.Errorf("access to %s is not allowed", b)
		}
	}

	// Block shell metacharacters and control characters
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(path, d) {
			return fmt.Errorf("invalid characters in path")
		}
	}

	return nil
}

// ValidateModeParam checks the mode field of an analyze request.
func ValidateModeParam(mode string) error {
	switch mode {
	case "exclude", "sensitive", "both":
		return nil
	default:
		return fmt.Errorf("invalid mode: %s (allowed: exclude, sensitive, both)", mode)
	}
}
