package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobCreated    = "job.created"
	ActionStageChanged  = "job.stage_changed"
	ActionPartCompleted = "job.part_completed"
	ActionJobCompleted  = "job.completed"
	ActionJobFailed     = "job.failed"
	ActionJobRetried    = "job.retried"
	ActionJobSwept      = "job.swept"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "voxpipe.job"
	CategorySweep = "voxpipe.sweep"
)

// ResourceJob is the Resource field used for all job-scoped events.
const ResourceJob = "job"
