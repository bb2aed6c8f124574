package job

import (
	"sort"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
)

// Stage is the named pipeline step a job currently occupies.
type Stage string

const (
	// StageUploaded means the source recording has landed in blob storage
	// and the job record exists.
	StageUploaded Stage = "uploaded"
	// StageSplit means the recording has been normalized and partitioned
	// into chunks; TotalParts is known.
	StageSplit Stage = "split"
	// StageTranscribeInProgress means chunk transcriptions have been
	// dispatched and completions are being collected.
	StageTranscribeInProgress Stage = "transcribe_in_progress"
	// StageTranscribeCompleted means every part's transcript has arrived.
	StageTranscribeCompleted Stage = "transcribe_completed"
	// StageMerged means the part transcripts have been joined into one
	// document.
	StageMerged Stage = "merged"
	// StageSummarizeInProgress means the summarization call is in flight.
	StageSummarizeInProgress Stage = "summarize_in_progress"
	// StageSummarized means the summary artifact is ready (terminal).
	StageSummarized Stage = "summarized"

	// StagePreprocessFailed means normalization or silence-stripping of
	// the source recording failed (terminal unless retried).
	StagePreprocessFailed Stage = "preprocess_failed"
	// StageConvertFailed means the source could not be decoded or
	// converted to the transcription format (terminal unless retried).
	StageConvertFailed Stage = "convert_failed"
	// StageTranscribeFailed means a part failed permanently or the merge
	// step failed (terminal unless retried).
	StageTranscribeFailed Stage = "transcribe_failed"
	// StageSummarizeFailed means the summarization call failed
	// (terminal unless retried).
	StageSummarizeFailed Stage = "summarize_failed"
)

// Failed reports whether s is a failure variant.
func (s Stage) Failed() bool {
	switch s {
	case StagePreprocessFailed, StageConvertFailed, StageTranscribeFailed, StageSummarizeFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic progress occurs from s.
// Failure stages are terminal for the pipeline; only an explicit operator
// retry moves a job out of one.
func (s Stage) Terminal() bool {
	return s == StageSummarized || s.Failed()
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUploaded, StageSplit, StageTranscribeInProgress,
		StageTranscribeCompleted, StageMerged, StageSummarizeInProgress,
		StageSummarized, StagePreprocessFailed, StageConvertFailed,
		StageTranscribeFailed, StageSummarizeFailed:
		return true
	default:
		return false
	}
}

// Job is one unit of work: a single uploaded recording moving through the
// pipeline. The completed-part set is stored as a sorted index slice; the
// completed count is always derived from it, never incremented directly,
// so duplicate part-completion deliveries cannot overcount.
type Job struct {
	voxpipe.Entity

	ID           id.JobID `json:"id"`
	OriginalName string   `json:"original_name"`
	SourceKey    string   `json:"source_key"`
	Stage        Stage    `json:"stage"`

	// TotalParts is fixed once splitting completes; zero means the
	// partition is not yet known.
	TotalParts int `json:"total_parts"`

	// DoneParts holds the distinct completed part indices in ascending
	// order. Use MarkPart / PartDone to maintain it.
	DoneParts []int `json:"done_parts,omitempty"`

	// MergedKey and ResultKey point at the merged transcript and the
	// summary artifact in blob storage. ResultKey is set only when Stage
	// is StageSummarized.
	MergedKey string `json:"merged_key,omitempty"`
	ResultKey string `json:"result_key,omitempty"`

	// ErrorDetail is set only when Stage is a failure variant.
	ErrorDetail string `json:"error_detail,omitempty"`

	// Attempts counts operator-driven retries from a failure stage.
	Attempts int `json:"attempts,omitempty"`
}

// CompletedParts returns the number of distinct parts that have reported
// completion.
func (j *Job) CompletedParts() int { return len(j.DoneParts) }

// PartDone reports whether the given part index has already completed.
func (j *Job) PartDone(index int) bool {
	for _, p := range j.DoneParts {
		if p == index {
			return true
		}
	}
	return false
}

// MarkPart records a completed part index. It returns false if the index
// was already present (a duplicate delivery).
func (j *Job) MarkPart(index int) bool {
	if j.PartDone(index) {
		return false
	}
	j.DoneParts = append(j.DoneParts, index)
	sort.Ints(j.DoneParts)
	return true
}

// AllPartsDone reports whether every part in the known partition has
// completed. It is false while the partition is unknown.
func (j *Job) AllPartsDone() bool {
	return j.TotalParts > 0 && len(j.DoneParts) == j.TotalParts
}

// Clone returns a deep copy of the job. Stores hand mutators a clone so a
// failed update cannot leave a shared record half-modified.
func (j *Job) Clone() *Job {
	c := *j
	if j.DoneParts != nil {
		c.DoneParts = append([]int(nil), j.DoneParts...)
	}
	return &c
}

// New creates a job record in the uploaded stage.
func New(jobID id.JobID, originalName, sourceKey string) *Job {
	return &Job{
		Entity:       voxpipe.NewEntity(),
		ID:           jobID,
		OriginalName: originalName,
		SourceKey:    sourceKey,
		Stage:        StageUploaded,
	}
}
