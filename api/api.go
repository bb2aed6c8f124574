// Package api exposes the pipeline over HTTP: presigned-style uploads,
// storage event ingestion, status polling, retries, and aggregate
// stats. Handlers acknowledge events quickly and run pipeline work in
// the background; clients observe progress through the status endpoint.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/voxpipe/voxpipe/blob"
	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/job"
	"github.com/voxpipe/voxpipe/pipeline"
)

// API wires the HTTP handlers over the pipeline orchestrator.
type API struct {
	eng   *engine.Engine
	store job.Store
	blobs blob.Store
	orch  *pipeline.Orchestrator

	logger *slog.Logger

	// wg tracks background pipeline runs so Wait can drain them on
	// shutdown (and in tests).
	wg sync.WaitGroup
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the API's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates an API over the given collaborators.
func New(eng *engine.Engine, store job.Store, blobs blob.Store, orch *pipeline.Orchestrator, opts ...Option) *API {
	a := &API{
		eng:    eng,
		store:  store,
		blobs:  blobs,
		orch:   orch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all pipeline API routes on the given router.
func (a *API) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")

	v1.POST("/uploads", a.createUpload)
	v1.PUT("/uploads/*key", a.putUpload)

	v1.POST("/events/upload-complete", a.uploadComplete)
	v1.POST("/events/part-complete", a.partComplete)

	v1.GET("/status", a.status)

	v1.GET("/jobs/:jobId", a.getJob)
	v1.POST("/jobs/:jobId/retry", a.retryJob)

	v1.GET("/stats", a.stats)
}

// Wait blocks until all background pipeline runs started by handlers
// have finished.
func (a *API) Wait() {
	a.wg.Wait()
}

// background runs fn on its own goroutine, detached from the request
// context, and tracks it for Wait.
func (a *API) background(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}
