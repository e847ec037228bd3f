package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lamim/animeforge/pkg/models"
)

// TimestampLayout is the filename timestamp format (YYYYMMDD_HHMMSS)
const TimestampLayout = "20060102_150405"

// ArtifactBaseName returns "<character>_<NNN>_<timestamp>" for 1-based number n
func ArtifactBaseName(character string, n int, ts time.Time) string {
	return fmt.Sprintf("%s_%03d_%s", character, n, ts.Format(TimestampLayout))
}

// StudioFileName returns "<prefix>_<timestamp>.png"
func StudioFileName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.png", prefix, ts.Format(TimestampLayout))
}

// ImageExtension maps a backend MIME type to a file extension, defaulting to .png
func ImageExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// WriteImage writes encoded image bytes to path
func WriteImage(path string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty image to %s", path)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// WriteCaption writes a UTF-8 caption file
func WriteCaption(path, caption string) error {
	if err := writeFileAtomic(path, []byte(caption)); err != nil {
		return fmt.Errorf("failed to write caption: %w", err)
	}
	return nil
}

// WriteMetadata writes the run metadata as indented JSON into dir
func WriteMetadata(dir string, meta *models.BatchMetadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := MetadataPath(dir)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	return path, nil
}

// ReadMetadata loads a metadata document written by WriteMetadata
func ReadMetadata(path string) (*models.BatchMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta models.BatchMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// writeFileAtomic writes to a temp file and renames it over path so readers
// never observe a partially written file
func writeFileAtomic(path string, data []byte) error {
	tempPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}
