// Package pipeline implements the event-driven orchestrator that moves
// an uploaded recording through preprocess, split, transcribe, merge,
// and summarize. The orchestrator owns no state machine of its own:
// every stage move goes through the engine, and every trigger is safe
// to deliver more than once.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/voxpipe/voxpipe/summarize"
)

// MediaProcessor prepares local audio files for transcription.
type MediaProcessor interface {
	// Probe returns the audio duration of the file at path.
	Probe(ctx context.Context, path string) (time.Duration, error)

	// Preprocess normalizes the input into the transcription format,
	// writing the result to outputPath.
	Preprocess(ctx context.Context, inputPath, outputPath string) error

	// Split segments the input into chunks of the given length inside
	// outDir and returns the chunk paths in part order.
	Split(ctx context.Context, inputPath string, chunkLength time.Duration, outDir string) ([]string, error)
}

// Transcriber converts one audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// Summarizer produces a structured summary from a merged transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*summarize.Summary, error)
}
