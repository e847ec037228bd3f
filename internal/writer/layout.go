package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// MetadataFileName is the per-character run document
	MetadataFileName = "training_metadata.json"

	// LogFileName is the JSON log written next to generated data
	LogFileName = "animeforge.log"
)

// Layout manages the directories under an output root
type Layout struct {
	root   string
	logger *slog.Logger
}

// NewLayout creates the output root if needed
func NewLayout(root string, logger *slog.Logger) (*Layout, error) {
	if root == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Layout{root: root, logger: logger}, nil
}

// CharacterDir creates and returns the directory for one character's images
func (l *Layout) CharacterDir(id string) (string, error) {
	if err := ValidateCharacterDir(l.root, id); err != nil {
		return "", err
	}

	dir := filepath.Join(l.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create character directory: %w", err)
	}

	l.logger.Debug("Using character directory", "path", dir)
	return dir, nil
}

// MetadataPath returns the metadata path inside a character directory
func MetadataPath(dir string) string {
	return filepath.Join(dir, MetadataFileName)
}
