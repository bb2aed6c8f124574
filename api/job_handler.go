package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/id"
)

// getJob returns the raw job record.
func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	j, err := a.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, voxpipe.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		a.logger.Error("get job failed", "job_id", jobID.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get job failed"})
		return
	}

	c.JSON(http.StatusOK, j)
}

// retryJob moves a failed job back to its retry stage and re-drives the
// pipeline in the background. Jobs that have not failed return 409.
func (a *API) retryJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	// Validate retryability synchronously so the caller gets a real
	// answer; the actual re-drive happens in the background.
	j, err := a.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, voxpipe.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		a.logger.Error("retry lookup failed", "job_id", jobID.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	if !j.Stage.Failed() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is not in a failed stage",
			"stage": string(j.Stage),
		})
		return
	}

	a.background(func() {
		if _, err := a.orch.Retry(context.Background(), jobID); err != nil {
			a.logger.Error("retry failed", "job_id", jobID.String(), "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID.String(), "attempt": j.Attempts + 1})
}
