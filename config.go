package voxpipe

import "time"

// Config holds pipeline-wide tunables.
type Config struct {
	// ChunkLength is the target duration of each audio part.
	ChunkLength time.Duration

	// MaxChunkBytes caps a part's size regardless of duration. Zero
	// disables the size threshold.
	MaxChunkBytes int64

	// TranscribeConcurrency limits how many parts of a single job are
	// dispatched to the transcription engine simultaneously.
	TranscribeConcurrency int

	// TranscribeRate is the sustained transcription dispatches per second
	// across all jobs. Zero disables rate limiting.
	TranscribeRate float64

	// StageTimeout bounds a single stage step's external call.
	StageTimeout time.Duration

	// StallThreshold is how long a job may sit in an in-progress stage
	// without an update before the sweeper fails it.
	StallThreshold time.Duration

	// UploadPrefix, ChunkPrefix, TranscriptPrefix, and SummaryPrefix are
	// the blob key namespaces for each artifact kind.
	UploadPrefix     string
	ChunkPrefix      string
	TranscriptPrefix string
	SummaryPrefix    string
}

// DefaultConfig returns a Config with sensible defaults. The one-minute
// chunk length matches what the transcription engine handles comfortably.
func DefaultConfig() Config {
	return Config{
		ChunkLength:           time.Minute,
		MaxChunkBytes:         0,
		TranscribeConcurrency: 8,
		TranscribeRate:        0,
		StageTimeout:          10 * time.Minute,
		StallThreshold:        30 * time.Minute,
		UploadPrefix:          "uploads/",
		ChunkPrefix:           "chunks/",
		TranscriptPrefix:      "transcriptions/",
		SummaryPrefix:         "summaries/",
	}
}
