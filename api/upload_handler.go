package api

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe/id"
)

// CreateUploadRequest asks for an upload slot for a recording.
type CreateUploadRequest struct {
	FileName string `json:"file_name" binding:"required"`
}

// CreateUploadResponse carries the minted upload destination. The job ID
// is embedded in the key so the storage event can be matched back to the
// job without a lookup.
type CreateUploadResponse struct {
	JobID     string `json:"job_id"`
	FileKey   string `json:"file_key"`
	UploadURL string `json:"upload_url"`
}

// createUpload mints a job ID and the upload key a client should PUT the
// recording to. The job record itself is created when the upload lands.
func (a *API) createUpload(c *gin.Context) {
	var req CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_name is required"})
		return
	}

	name := path.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == "/" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_name is invalid"})
		return
	}

	jobID := id.NewJobID()
	key := "uploads/" + jobID.String() + "/" + name

	c.JSON(http.StatusOK, CreateUploadResponse{
		JobID:     jobID.String(),
		FileKey:   key,
		UploadURL: "/v1/uploads/" + key,
	})
}

// putUpload accepts the recording body, stores it under the requested
// key, and kicks off the pipeline in the background. This stands in for
// a bucket presigned PUT plus its object-created notification.
func (a *API) putUpload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload key is required"})
		return
	}

	if err := a.blobs.Put(c.Request.Context(), key, c.Request.Body); err != nil {
		a.logger.Error("upload store failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	a.background(func() {
		if _, err := a.orch.HandleUploadComplete(context.Background(), key); err != nil {
			a.logger.Error("pipeline run failed", "key", key, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{"key": key})
}
