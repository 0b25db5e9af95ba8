// Package storage keeps uploaded inputs and compressed results on a
// filesystem shared by the api and worker processes. Inputs live in the
// pending directory as <job_id><ext>; results live in the done directory as
// <job_id><archive ext>.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned when an upload exceeds the configured limit
var ErrTooLarge = errors.New("upload exceeds size limit")

// Config holds storage locations
type Config struct {
	PendingDir     string
	DoneDir        string
	MaxUploadBytes int64
}

// Local stores files on the local (or mounted) filesystem
type Local struct {
	pendingDir string
	doneDir    string
	maxBytes   int64
}

// NewLocal creates both directories if needed
func NewLocal(config Config) (*Local, error) {
	for _, dir := range []string{config.PendingDir, config.DoneDir} {
		if dir == "" {
			return nil, fmt.Errorf("storage directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &Local{
		pendingDir: config.PendingDir,
		doneDir:    config.DoneDir,
		maxBytes:   config.MaxUploadBytes,
	}, nil
}

// inputExt keeps the extension of the client filename so workers can name the
// archive entry sensibly. Anything that is not a plain extension is dropped.
func inputExt(originalName string) string {
	base := filepath.Base(originalName)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	ext := filepath.Ext(base)
	if ext == "." || len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

// PendingPath is where the input of jobID is staged
func (l *Local) PendingPath(jobID, originalName string) string {
	return filepath.Join(l.pendingDir, jobID+inputExt(originalName))
}

// ResultPath is where the result of jobID is written
func (l *Local) ResultPath(jobID, ext string) string {
	return filepath.Join(l.doneDir, jobID+ext)
}

// Stage copies r to the pending path of jobID. The file only appears under its
// final name once fully written.
func (l *Local) Stage(ctx context.Context, jobID, originalName string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(l.pendingDir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	src := r
	if l.maxBytes > 0 {
		// one extra byte tells an exact-size upload from an oversized one
		src = io.LimitReader(r, l.maxBytes+1)
	}

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write staging file: %w", err)
	}
	if l.maxBytes > 0 && n > l.maxBytes {
		tmp.Close()
		return 0, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(tmpName, l.PendingPath(jobID, originalName)); err != nil {
		return 0, fmt.Errorf("failed to publish staging file: %w", err)
	}
	return n, nil
}

// Discard removes the staged input of jobID. A missing file is not an error.
func (l *Local) Discard(jobID, originalName string) error {
	if err := os.Remove(l.PendingPath(jobID, originalName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove staged input: %w", err)
	}
	return nil
}

// OpenResult opens the result of jobID for reading
func (l *Local) OpenResult(jobID, ext string) (*os.File, error) {
	f, err := os.Open(l.ResultPath(jobID, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to open result: %w", err)
	}
	return f, nil
}
