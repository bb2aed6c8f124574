package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/voxpipe/voxpipe/id"
)

// ParseUploadKey extracts the embedded job ID and original file name
// from an upload key of the form "uploads/<job_id>/<fileName>". Keys
// minted by the presign endpoint always embed the ID; foreign keys
// (e.g. files dropped into the bucket directly) return ok = false and
// are resolved through the source-key index instead.
func ParseUploadKey(key string) (jobID id.JobID, fileName string, ok bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) < 3 {
		return id.Nil, "", false
	}
	parsed, err := id.ParseJobID(parts[1])
	if err != nil {
		return id.Nil, "", false
	}
	return parsed, path.Base(key), true
}

// chunkKey is the blob key for a job's nth audio chunk.
func (o *Orchestrator) chunkKey(jobID id.JobID, part int) string {
	return fmt.Sprintf("%s%s/part-%04d.wav", o.cfg.ChunkPrefix, jobID, part)
}

// transcriptKey is the blob key for a job's nth part transcript.
func (o *Orchestrator) transcriptKey(jobID id.JobID, part int) string {
	return fmt.Sprintf("%s%s/part-%04d.txt", o.cfg.TranscriptPrefix, jobID, part)
}

// mergedKey is the blob key for a job's merged transcript.
func (o *Orchestrator) mergedKey(jobID id.JobID) string {
	return fmt.Sprintf("%s%s/merged.txt", o.cfg.TranscriptPrefix, jobID)
}

// summaryKey is the blob key for the summary artifact. It is derived
// from the original name so clients can locate summaries by the file
// they uploaded.
func (o *Orchestrator) summaryKey(originalName string) string {
	return fmt.Sprintf("%s%s.summary.json", o.cfg.SummaryPrefix, originalName)
}
