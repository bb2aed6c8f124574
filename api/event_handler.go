package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe/id"
)

// UploadCompleteEvent is a storage notification that a recording landed
// under the given key.
type UploadCompleteEvent struct {
	Key string `json:"key" binding:"required"`
}

// PartCompleteEvent reports the outcome of one part transcription from
// an external worker. Exactly one of ResultKey or Error is set.
type PartCompleteEvent struct {
	JobID     string `json:"job_id" binding:"required"`
	PartIndex int    `json:"part_index"`
	ResultKey string `json:"result_key"`
	Error     string `json:"error"`
}

// uploadComplete ingests an object-created notification and runs the
// pipeline in the background. Redeliveries are safe; the orchestrator
// re-drives from the job's current stage.
func (a *API) uploadComplete(c *gin.Context) {
	var ev UploadCompleteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	a.background(func() {
		if _, err := a.orch.HandleUploadComplete(context.Background(), ev.Key); err != nil {
			a.logger.Error("pipeline run failed", "key", ev.Key, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{"key": ev.Key})
}

// partComplete ingests a part-transcription outcome. Duplicate
// deliveries for an already-counted part are no-ops.
func (a *API) partComplete(c *gin.Context) {
	var ev PartCompleteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id is required"})
		return
	}

	jobID, err := id.ParseJobID(ev.JobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	a.background(func() {
		err := a.orch.HandlePartComplete(context.Background(), jobID, ev.PartIndex, ev.ResultKey, ev.Error)
		if err != nil {
			a.logger.Error("part completion failed",
				"job_id", ev.JobID, "part", ev.PartIndex, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": ev.JobID, "part_index": ev.PartIndex})
}
