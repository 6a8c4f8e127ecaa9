package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaseDir is the fallback recording directory, created on demand.
const DefaultBaseDir = "OUTPUT"

// sanitizeFilename replaces filesystem-illegal characters so program titles
// can be used as directory and file names.
func sanitizeFilename(name string) string {
	repl := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	s := repl.Replace(name)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		s = "untitled"
	}
	return s
}

// OutputLayout resolves where recording files are placed: a base directory,
// a per-station subdirectory and optionally a per-program subdirectory.
type OutputLayout struct {
	BaseDir       string
	ProgramSubdir bool
}

// Path builds the extension-less output path for a recording starting at
// start, creating directories as needed. Directory creation failures degrade
// to the base directory rather than failing the recording; only an unusable
// base directory is surfaced.
func (l OutputLayout) Path(stationID, programTitle string, start time.Time) (string, error) {
	base := l.BaseDir
	if base == "" {
		base = DefaultBaseDir
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", fmt.Errorf("create base recording directory %s: %w", base, err)
	}
	dir := filepath.Join(base, sanitizeFilename(stationID))
	if l.ProgramSubdir && programTitle != "" {
		dir = filepath.Join(dir, sanitizeFilename(programTitle))
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		slog.Warn("falling back to base recording directory", "dir", dir, "error", err)
		dir = base
	}
	stem := start.Format("20060102_150405")
	if programTitle != "" {
		stem += "_" + sanitizeFilename(programTitle)
	}
	return filepath.Join(dir, stem), nil
}

// retryPath disambiguates the output path of a retried recording. If the
// original file already holds data, the attempt gets a _retryN suffix so the
// partial capture is not overwritten.
func retryPath(path, format string, attempt int) string {
	if _, err := os.Stat(path + "." + format); err != nil {
		return path
	}
	return fmt.Sprintf("%s_retry%d", path, attempt)
}
