package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MergeError reports a failed merge with the executor's diagnostic output.
type MergeError struct {
	Detail string
	Err    error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge failed: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("merge failed: %s", e.Detail)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Executor performs the lossless concatenation described by a manifest file
// listing input paths in order, writing the result to outputPath.
type Executor interface {
	Concat(ctx context.Context, manifestPath, outputPath string) error
}

// FFmpegExecutor concatenates with ffmpeg's concat demuxer and stream copy:
// a container-level splice, never a re-encode.
type FFmpegExecutor struct{}

// Concat runs ffmpeg over the manifest.
func (FFmpegExecutor) Concat(ctx context.Context, manifestPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %v\nOutput: %s", err, string(output))
	}
	return nil
}

// Engine merges an ordered list of segment files into one continuous
// artifact. The caller's order is authoritative; nothing is re-sorted.
type Engine struct {
	executor Executor
}

// NewEngine returns an engine backed by executor.
func NewEngine(executor Executor) *Engine {
	return &Engine{executor: executor}
}

// Merge concatenates inputPaths, in order, into outputPath. Any pre-existing
// file at outputPath is deleted first. The manifest is a temporary artifact
// removed on success and failure alike, and no partial output survives a
// failed run: outputPath is only valid once the executor reports success.
func (e *Engine) Merge(ctx context.Context, inputPaths []string, outputPath string) (string, error) {
	if len(inputPaths) == 0 {
		return "", &MergeError{Detail: "no segments to merge"}
	}

	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return "", &MergeError{Detail: "failed to remove previous output", Err: err}
	}

	manifestPath, err := writeManifest(inputPaths, filepath.Dir(outputPath))
	if err != nil {
		return "", &MergeError{Detail: "failed to write manifest", Err: err}
	}
	defer func() {
		if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete merge manifest %s: %v", manifestPath, err)
		}
	}()

	if err := e.executor.Concat(ctx, manifestPath, outputPath); err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("Failed to delete partial merge output %s: %v", outputPath, rmErr)
		}
		return "", &MergeError{Detail: "concat executor failed", Err: err}
	}

	return outputPath, nil
}

// writeManifest writes the concat manifest, one input per line in caller
// order, next to the output so it shares the same filesystem.
func writeManifest(inputPaths []string, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "file_list_*.txt")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range inputPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
