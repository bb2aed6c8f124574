package job

// transitions is the closed forward-transition table. A stage may only
// move to one of its listed successors; everything else is rejected.
// Failure variants are reachable from the step in progress, and merge
// failures map to transcribe_failed since merge is transcript handling.
var transitions = map[Stage][]Stage{
	StageUploaded: {
		StageSplit,
		StagePreprocessFailed,
		StageConvertFailed,
	},
	StageSplit: {
		StageTranscribeInProgress,
		StageTranscribeFailed,
	},
	StageTranscribeInProgress: {
		StageTranscribeCompleted,
		StageTranscribeFailed,
	},
	StageTranscribeCompleted: {
		StageMerged,
		StageTranscribeFailed,
	},
	StageMerged: {
		StageSummarizeInProgress,
		StageSummarizeFailed,
	},
	StageSummarizeInProgress: {
		StageSummarized,
		StageSummarizeFailed,
	},
	StageSummarized: nil,

	// Failure stages permit only the retry edge back to the step that
	// was in progress when they were reached.
	StagePreprocessFailed: {StageUploaded},
	StageConvertFailed:    {StageUploaded},
	StageTranscribeFailed: {StageTranscribeInProgress},
	StageSummarizeFailed:  {StageSummarizeInProgress},
}

// CanTransition reports whether moving from one stage to another is
// permitted by the transition table. A same-stage "move" is always
// permitted: re-observing a stage under at-least-once delivery is a no-op,
// not an error.
func CanTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RetryStage returns the in-progress stage a failure variant retries back
// into, and whether the given stage is retryable at all.
func RetryStage(failure Stage) (Stage, bool) {
	if !failure.Failed() {
		return "", false
	}
	next := transitions[failure]
	if len(next) == 0 {
		return "", false
	}
	return next[0], true
}
