package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/blob"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
)

// StatusResponse is the 202 body returned while a job is still moving
// through the pipeline, and the error body for failed jobs.
type StatusResponse struct {
	Stage          string    `json:"stage"`
	CompletedParts int       `json:"completed_parts"`
	TotalParts     int       `json:"total_parts"`
	OriginalName   string    `json:"original_name"`
	InternalID     string    `json:"internal_id"`
	UpdatedAt      time.Time `json:"updated_at"`
	Error          string    `json:"error,omitempty"`
}

// status reports pipeline progress for a job, looked up by id or by the
// uploaded file's name. A finished job returns the summary document
// itself with 200; anything still in flight returns 202 with progress.
func (a *API) status(c *gin.Context) {
	j, ok := a.lookupJob(c)
	if !ok {
		return
	}

	if j.Stage == job.StageSummarized && j.ResultKey != "" {
		summary, err := blob.ReadAll(c.Request.Context(), a.blobs, j.ResultKey)
		if err != nil {
			a.logger.Error("summary artifact unreadable",
				"job_id", j.ID.String(), "key", j.ResultKey, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary artifact unreadable"})
			return
		}
		c.Data(http.StatusOK, "application/json", summary)
		return
	}

	c.JSON(http.StatusAccepted, StatusResponse{
		Stage:          string(j.Stage),
		CompletedParts: j.CompletedParts(),
		TotalParts:     j.TotalParts,
		OriginalName:   j.OriginalName,
		InternalID:     j.ID.String(),
		UpdatedAt:      j.UpdatedAt,
		Error:          j.ErrorDetail,
	})
}

// lookupJob resolves the status query's id or fileName parameter to a
// job record, writing the error response itself when resolution fails.
func (a *API) lookupJob(c *gin.Context) (*job.Job, bool) {
	ctx := c.Request.Context()

	if rawID := c.Query("id"); rawID != "" {
		jobID, err := id.ParseJobID(rawID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
			return nil, false
		}
		j, err := a.store.GetJob(ctx, jobID)
		if err != nil {
			a.notFoundOrError(c, err)
			return nil, false
		}
		return j, true
	}

	if name := c.Query("fileName"); name != "" {
		j, err := a.store.FindJobByName(ctx, name)
		if err != nil {
			a.notFoundOrError(c, err)
			return nil, false
		}
		return j, true
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "id or fileName query parameter is required"})
	return nil, false
}

func (a *API) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, voxpipe.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status found for given file"})
		return
	}
	a.logger.Error("status lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
}
