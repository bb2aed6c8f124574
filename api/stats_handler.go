package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe/job"
)

// StatsResponse summarizes the pipeline's population by stage.
type StatsResponse struct {
	Total    int64            `json:"total"`
	ByStage  map[string]int64 `json:"by_stage"`
	Failed   int64            `json:"failed"`
	Finished int64            `json:"finished"`
}

var statsStages = []job.Stage{
	job.StageUploaded,
	job.StageSplit,
	job.StageTranscribeInProgress,
	job.StageTranscribeCompleted,
	job.StageMerged,
	job.StageSummarizeInProgress,
	job.StageSummarized,
	job.StagePreprocessFailed,
	job.StageConvertFailed,
	job.StageTranscribeFailed,
	job.StageSummarizeFailed,
}

// stats returns per-stage job counts.
func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()

	resp := StatsResponse{ByStage: make(map[string]int64, len(statsStages))}

	total, err := a.store.CountJobs(ctx, "")
	if err != nil {
		a.statsError(c, fmt.Errorf("count all: %w", err))
		return
	}
	resp.Total = total

	for _, stage := range statsStages {
		count, err := a.store.CountJobs(ctx, stage)
		if err != nil {
			a.statsError(c, fmt.Errorf("count %s: %w", stage, err))
			return
		}
		resp.ByStage[string(stage)] = count
		if stage.Failed() {
			resp.Failed += count
		}
	}
	resp.Finished = resp.ByStage[string(job.StageSummarized)]

	c.JSON(http.StatusOK, resp)
}

func (a *API) statsError(c *gin.Context, err error) {
	a.logger.Error("stats query failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
}
