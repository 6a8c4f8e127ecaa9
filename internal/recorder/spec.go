package recorder

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/airband/radiorec/internal/logger"
)

// Default encoder settings.
const (
	DefaultEncoderPath = "ffmpeg"
	DefaultLogLevel    = "error"
)

// Filetypes lists the output formats with dedicated quality flags.
var Filetypes = []string{"mp3", "wav"}

// Spec describes one recording: where the stream comes from, where the file
// goes and how the encoder is invoked. OutputPath carries no extension; the
// format decides it.
type Spec struct {
	StationID    string
	StationName  string
	ProgramTitle string
	StreamURL    string
	OutputPath   string
	Format       string

	EncoderPath     string   // encoder binary, defaults to ffmpeg
	EncoderLogLevel string   // passed to -loglevel, defaults to "error"
	ExtraEnv        []string // "K=V" entries layered over the OS environment
	Log             logger.Config
}

// File returns the full output file name including the format extension.
func (s *Spec) File() string { return s.OutputPath + "." + s.Format }

// LookupEncoder resolves the encoder binary on PATH.
// A missing binary is a StartupError: fail fast, no retry.
func (s *Spec) LookupEncoder() (string, error) {
	bin := s.EncoderPath
	if bin == "" {
		bin = DefaultEncoderPath
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", &StartupError{Encoder: bin, Err: err}
	}
	return path, nil
}

// BuildArgs constructs the encoder argument list. Stream copy is used for
// unknown formats; wav and mp3 get fixed quality flags matching what the
// station streams are mastered for.
func (s *Spec) BuildArgs() []string {
	level := s.EncoderLogLevel
	if level == "" {
		level = DefaultLogLevel
	}
	args := []string{
		"-y",
		"-loglevel", level,
		"-i", s.StreamURL,
		"-vn",
		"-ac", "2",
	}
	switch strings.ToLower(s.Format) {
	case "wav":
		args = append(args, "-acodec", "pcm_s24le", "-ar", "48000")
	case "mp3":
		args = append(args, "-acodec", "libmp3lame", "-b:a", "192k")
	default:
		args = append(args, "-c", "copy")
	}
	args = append(args, "-f", s.Format, s.File())
	return args
}

func (s *Spec) validate() error {
	if s.StreamURL == "" {
		return fmt.Errorf("recording requires a stream url")
	}
	if s.OutputPath == "" {
		return fmt.Errorf("recording requires an output path")
	}
	if s.Format == "" {
		return fmt.Errorf("recording requires a format")
	}
	return nil
}
