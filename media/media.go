// Package media prepares uploaded recordings for transcription using
// ffmpeg and ffprobe: probing duration, normalizing to mono 16k PCM with
// loudness correction and silence stripping, and splitting into
// fixed-length chunks.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Processor runs ffmpeg/ffprobe against local files.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	logger      *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithBinaries overrides the ffmpeg and ffprobe executable paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(p *Processor) {
		p.ffmpegPath = ffmpeg
		p.ffprobePath = ffprobe
	}
}

// withRunner injects a command runner for tests.
func withRunner(r commandRunner) Option {
	return func(p *Processor) {
		p.runner = r
	}
}

// NewProcessor constructs a Processor that finds ffmpeg and ffprobe on
// PATH.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      &execRunner{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the audio duration of the file at path.
func (p *Processor) Probe(ctx context.Context, path string) (time.Duration, error) {
	args := buildProbeArgs(path)
	res, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("voxpipe/media: probe %s: %w (stderr: %s)", path, err, strings.TrimSpace(res.Stderr))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("voxpipe/media: probe %s: parse duration %q: %w", path, res.Stdout, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Preprocess converts the input to mono 16k PCM WAV with loudness
// normalization and long silences stripped, writing the result to
// outputPath.
func (p *Processor) Preprocess(ctx context.Context, inputPath, outputPath string) error {
	args := buildPreprocessArgs(inputPath, outputPath)
	res, err := p.runner.Run(ctx, p.ffmpegPath, args...)
	p.logger.Debug("ffmpeg preprocess",
		slog.String("input", inputPath),
		slog.Int("exit_code", res.ExitCode),
	)
	if err != nil {
		return fmt.Errorf("voxpipe/media: preprocess %s: %w (stderr: %s)", inputPath, err, strings.TrimSpace(res.Stderr))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("voxpipe/media: preprocess %s: output missing: %w", inputPath, err)
	}
	return nil
}

// Split segments the input into chunks of the given length inside
// outDir and returns the chunk paths in part order.
func (p *Processor) Split(ctx context.Context, inputPath string, chunkLength time.Duration, outDir string) ([]string, error) {
	if chunkLength <= 0 {
		return nil, fmt.Errorf("voxpipe/media: split %s: chunk length %v must be positive", inputPath, chunkLength)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("voxpipe/media: split %s: %w", inputPath, err)
	}

	pattern := filepath.Join(outDir, "part-%04d.wav")
	args := buildSplitArgs(inputPath, chunkLength, pattern)
	res, err := p.runner.Run(ctx, p.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/media: split %s: %w (stderr: %s)", inputPath, err, strings.TrimSpace(res.Stderr))
	}

	matches, err := filepath.Glob(filepath.Join(outDir, "part-*.wav"))
	if err != nil {
		return nil, fmt.Errorf("voxpipe/media: split %s: %w", inputPath, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("voxpipe/media: split %s: ffmpeg produced no chunks", inputPath)
	}
	sort.Strings(matches)
	return matches, nil
}

// buildProbeArgs asks ffprobe for the container duration in seconds.
func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

// buildPreprocessArgs builds CLI args for mono 16k PCM WAV output with
// loudness normalization and removal of silences longer than two
// seconds.
func buildPreprocessArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11,silenceremove=stop_periods=-1:stop_duration=2:stop_threshold=-40dB",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildSplitArgs builds CLI args for fixed-length segmenting without
// re-encoding.
func buildSplitArgs(inputPath string, chunkLength time.Duration, outPattern string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(chunkLength.Seconds(), 'f', -1, 64),
		"-c", "copy",
		outPattern,
	}
}
