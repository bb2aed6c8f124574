package client

import (
	"time"

	"github.com/voxpipe/voxpipe/job"
)

// Progress is a point-in-time view of how far a job has moved through
// the pipeline.
type Progress struct {
	Stage          job.Stage
	CompletedParts int
	TotalParts     int

	// Percent is a 0-100 estimate of overall completion. Transcription
	// dominates the pipeline's wall time, so it spans most of the range
	// and advances with the completed-part count.
	Percent float64

	// Remaining estimates the time left, based on the configured
	// per-part transcription estimate. Zero when no estimate is
	// possible.
	Remaining time.Duration
}

// Stage percent anchors. Transcription covers 25-85; the remaining
// stages are quick bookkeeping by comparison.
const (
	percentUploaded            = 10
	percentSplit               = 25
	percentTranscribeSpan      = 60
	percentTranscribeCompleted = 85
	percentMerged              = 88
	percentSummarizing         = 92
	percentDone                = 100
)

// progressFor converts a status body into a Progress estimate.
func (p *Poller) progressFor(st *status) Progress {
	pr := Progress{
		Stage:          job.Stage(st.Stage),
		CompletedParts: st.CompletedParts,
		TotalParts:     st.TotalParts,
	}

	switch pr.Stage {
	case job.StageUploaded:
		pr.Percent = percentUploaded
	case job.StageSplit:
		pr.Percent = percentSplit
	case job.StageTranscribeInProgress:
		pr.Percent = percentSplit
		if st.TotalParts > 0 {
			pr.Percent += percentTranscribeSpan * float64(st.CompletedParts) / float64(st.TotalParts)
		}
	case job.StageTranscribeCompleted:
		pr.Percent = percentTranscribeCompleted
	case job.StageMerged:
		pr.Percent = percentMerged
	case job.StageSummarizeInProgress:
		pr.Percent = percentSummarizing
	case job.StageSummarized:
		pr.Percent = percentDone
	default:
		pr.Percent = 0
	}

	if st.TotalParts > 0 && p.perPart > 0 {
		remainingParts := st.TotalParts - st.CompletedParts
		if remainingParts > 0 && !pr.Stage.Terminal() {
			pr.Remaining = time.Duration(remainingParts) * p.perPart
		}
	}
	return pr
}
