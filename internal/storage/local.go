package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jacoelt/backrecorder/internal/types"
)

// LocalStorage persists merged recordings into a dated output tree.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// SaveRecording copies the merged artifact at mergedPath into
// outputs/YYYY/MM/DD/ under a timestamped name derived from requestName,
// and returns the destination path. The source file is left in place; the
// save pipeline owns its cleanup.
func (ls *LocalStorage) SaveRecording(requestName, mergedPath string) (string, error) {
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	timestamp := now.Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s%s", timestamp, sanitizeFilename(requestName), types.SegmentExtension)
	destPath := filepath.Join(dateDir, filename)

	src, err := os.Open(mergedPath)
	if err != nil {
		return "", fmt.Errorf("failed to open merged file: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to finalize output file: %w", err)
	}

	return destPath, nil
}

// RemoteName returns the name a saved recording gets in the cloud folder.
func RemoteName(t time.Time) string {
	return fmt.Sprintf("record_%s%s", t.Format("20060102_150405"), types.SegmentExtension)
}

// sanitizeFilename removes path separators and other invalid characters.
func sanitizeFilename(name string) string {
	if name == "" {
		return "untitled"
	}
	invalid := "/\\:*?\"<>|"
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, name)
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
