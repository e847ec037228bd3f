package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Directory names under an output root: lowercase id charset only
var dirNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateCharacterDir validates a per-character directory name to prevent path traversal attacks.
// It checks for:
//   - Path traversal attempts (..)
//   - Absolute paths
//   - Path separators (the name must be a single directory level)
//   - Expected charset
//   - Path escaping the output root
//
// This prevents CWE-22 (Improper Limitation of a Pathname to a Restricted Directory)
func ValidateCharacterDir(root, name string) error {
	// Check for empty
	if name == "" {
		return fmt.Errorf("directory name cannot be empty")
	}

	// Check for path traversal attempts
	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid directory name: contains '..' (path traversal attempt)")
	}

	// Check for path separators
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid directory name: must be directory name without path separators")
	}

	// Check for absolute paths
	if filepath.IsAbs(name) {
		return fmt.Errorf("invalid directory name: must be relative path")
	}

	if !dirNameRegex.MatchString(name) {
		return fmt.Errorf("invalid directory name format: expected %s, got '%s'", dirNameRegex.String(), name)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	// Use separator suffix to prevent prefix attacks like "/var/image" matching "/var/image-user"
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("directory path escapes output directory")
	}

	return nil
}
