package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/blob"
	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/id"
	"github.com/voxpipe/voxpipe/job"
	"github.com/voxpipe/voxpipe/limiter"
	"github.com/voxpipe/voxpipe/middleware"
	"github.com/voxpipe/voxpipe/partition"
)

// Orchestrator drives a job through the full pipeline: download the
// uploaded recording, normalize and split it, fan out part
// transcriptions, merge the transcripts, and summarize the result. It
// owns no state of its own; every stage change goes through the engine
// and every artifact through blob storage, so a crashed orchestrator can
// be re-driven from the job record alone.
type Orchestrator struct {
	cfg    voxpipe.Config
	eng    *engine.Engine
	store  job.Store
	blobs  blob.Store
	media  MediaProcessor
	stt    Transcriber
	summer Summarizer
	parts  *partition.Coordinator
	lim    *limiter.Limiter
	chain  middleware.Middleware
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithConfig overrides the default pipeline config.
func WithConfig(cfg voxpipe.Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithMiddleware sets the middleware chain wrapped around each stage
// step. The default chain recovers panics and logs stage execution.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) {
		o.chain = middleware.Chain(mws...)
	}
}

// WithLimiter sets the dispatch limiter shared across jobs.
func WithLimiter(lim *limiter.Limiter) Option {
	return func(o *Orchestrator) {
		o.lim = lim
	}
}

// New creates an Orchestrator. The engine, store, blob store, media
// processor, transcriber, and summarizer are all required.
func New(
	eng *engine.Engine,
	store job.Store,
	blobs blob.Store,
	media MediaProcessor,
	stt Transcriber,
	summer Summarizer,
	opts ...Option,
) (*Orchestrator, error) {
	if eng == nil {
		return nil, fmt.Errorf("voxpipe/pipeline: new: engine is required")
	}
	if store == nil {
		return nil, voxpipe.ErrNoStore
	}
	if blobs == nil {
		return nil, fmt.Errorf("voxpipe/pipeline: new: blob store is required")
	}
	if media == nil || stt == nil || summer == nil {
		return nil, fmt.Errorf("voxpipe/pipeline: new: media processor, transcriber, and summarizer are required")
	}

	o := &Orchestrator{
		cfg:    voxpipe.DefaultConfig(),
		eng:    eng,
		store:  store,
		blobs:  blobs,
		media:  media,
		stt:    stt,
		summer: summer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chain == nil {
		o.chain = middleware.Chain(
			middleware.Logging(o.logger),
			middleware.Recover(o.logger),
			middleware.Timeout(o.cfg.StageTimeout),
		)
	}
	if o.lim == nil {
		o.lim = limiter.New(limiter.Config{
			MaxConcurrency: o.cfg.TranscribeConcurrency,
			RateLimit:      o.cfg.TranscribeRate,
		})
	}
	o.parts = partition.NewCoordinator(o.eng,
		partition.WithChunkLength(o.cfg.ChunkLength),
		partition.WithLogger(o.logger),
	)
	return o, nil
}

// ── upload intake ───────────────────────────────────────────────────

// HandleUploadComplete reacts to a recording landing in blob storage
// under the given key. It resolves or creates the job record, then runs
// the processing half of the pipeline: preprocess, split, and fan out
// part transcription. The summarization half is triggered by the final
// part completion.
//
// The call is idempotent: re-delivering the same upload event re-drives
// the job from its current stage instead of restarting it.
func (o *Orchestrator) HandleUploadComplete(ctx context.Context, key string) (*job.Job, error) {
	j, err := o.resolveJob(ctx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case j.Stage == job.StageUploaded:
		return o.process(ctx, j)
	case j.Stage == job.StageSplit || j.Stage == job.StageTranscribeInProgress:
		// Redelivery mid-flight: re-dispatch only the missing parts.
		if err := o.dispatchParts(ctx, j); err != nil {
			return o.failJob(ctx, j.ID, job.StageTranscribeFailed, err)
		}
		return o.eng.Get(ctx, j.ID)
	default:
		o.logger.Info("upload event ignored",
			slog.String("job_id", j.ID.String()),
			slog.String("stage", string(j.Stage)),
		)
		return j, nil
	}
}

// resolveJob maps an upload key to its job record, creating one when the
// key is new. Presigned keys embed the job ID; foreign keys fall back to
// the source-key index and finally to minting a fresh job.
func (o *Orchestrator) resolveJob(ctx context.Context, key string) (*job.Job, error) {
	jobID, fileName, ok := ParseUploadKey(key)
	if !ok {
		if j, err := o.store.FindJobBySourceKey(ctx, key); err == nil {
			return j, nil
		} else if !errors.Is(err, voxpipe.ErrJobNotFound) {
			return nil, fmt.Errorf("voxpipe/pipeline: resolve job for %q: %w", key, err)
		}
		jobID, fileName = id.NewJobID(), path.Base(key)
	}

	j, err := o.eng.Create(ctx, jobID, fileName, key)
	if err == nil {
		return j, nil
	}
	if errors.Is(err, voxpipe.ErrJobAlreadyExists) {
		return o.eng.Get(ctx, jobID)
	}
	return nil, err
}

// process runs the intake half of the pipeline for a job in the
// uploaded stage: probe, preprocess, split, upload chunks, commit the
// partition, and dispatch transcription.
func (o *Orchestrator) process(ctx context.Context, j *job.Job) (*job.Job, error) {
	workDir, err := os.MkdirTemp("", "voxpipe-"+j.ID.String())
	if err != nil {
		return nil, fmt.Errorf("voxpipe/pipeline: process: temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, "source"+filepath.Ext(j.OriginalName))
	if err := o.download(ctx, j.SourceKey, sourcePath); err != nil {
		return nil, fmt.Errorf("voxpipe/pipeline: process: %w", err)
	}

	// Probe first: an unreadable container is a conversion problem, not
	// a preprocessing one.
	var duration time.Duration
	err = o.chain(ctx, j, func(ctx context.Context) error {
		d, probeErr := o.media.Probe(ctx, sourcePath)
		if probeErr != nil {
			return probeErr
		}
		duration = d
		return nil
	})
	if err != nil {
		return o.failJob(ctx, j.ID, job.StageConvertFailed, err)
	}

	cleanPath := filepath.Join(workDir, "clean.wav")
	err = o.chain(ctx, j, func(ctx context.Context) error {
		return o.media.Preprocess(ctx, sourcePath, cleanPath)
	})
	if err != nil {
		return o.failJob(ctx, j.ID, job.StagePreprocessFailed, err)
	}

	chunkDir := filepath.Join(workDir, "chunks")
	var chunkPaths []string
	err = o.chain(ctx, j, func(ctx context.Context) error {
		paths, splitErr := o.media.Split(ctx, cleanPath, o.cfg.ChunkLength, chunkDir)
		if splitErr != nil {
			return splitErr
		}
		chunkPaths = paths
		return nil
	})
	if err != nil {
		return o.failJob(ctx, j.ID, job.StagePreprocessFailed, err)
	}

	for i, p := range chunkPaths {
		if err := o.upload(ctx, p, o.chunkKey(j.ID, i)); err != nil {
			failed, ferr := o.failJob(ctx, j.ID, job.StagePreprocessFailed, err)
			if ferr != nil {
				return nil, ferr
			}
			return failed, nil
		}
	}

	plan, updated, err := o.parts.Commit(ctx, j.ID, duration)
	if err != nil {
		return nil, fmt.Errorf("voxpipe/pipeline: process: %w", err)
	}
	// ffmpeg's segmenter may round differently than the duration-based
	// plan; the chunk files on disk are the ground truth.
	if plan.TotalParts != len(chunkPaths) {
		updated, err = o.eng.SetPartition(ctx, j.ID, len(chunkPaths))
		if err != nil {
			return nil, fmt.Errorf("voxpipe/pipeline: process: %w", err)
		}
	}

	if err := o.dispatchParts(ctx, updated); err != nil {
		return o.failJob(ctx, j.ID, job.StageTranscribeFailed, err)
	}
	return o.eng.Get(ctx, j.ID)
}

// ── transcription fan-out ───────────────────────────────────────────

// dispatchParts transcribes every not-yet-completed part of the job,
// bounded by the shared limiter. It blocks until all parts finish or
// one fails.
func (o *Orchestrator) dispatchParts(ctx context.Context, j *job.Job) error {
	if j.TotalParts < 1 {
		return voxpipe.ErrNoPartition
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < j.TotalParts; i++ {
		if j.PartDone(i) {
			continue
		}
		part := i
		g.Go(func() error {
			if err := o.lim.Acquire(gctx); err != nil {
				return err
			}
			defer o.lim.Release()
			return o.transcribePart(gctx, j, part)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("voxpipe/pipeline: dispatch parts: %w", err)
	}
	return nil
}

// transcribePart transcribes one chunk, stores the transcript, and
// records the completion. The final part triggers merge and summarize.
func (o *Orchestrator) transcribePart(ctx context.Context, j *job.Job, part int) error {
	key := o.transcriptKey(j.ID, part)

	// Each part counts as its own unit of stage work, so the stage
	// deadline applies per part. The completion record stays outside:
	// the final part triggers merge and summarize, which run under
	// their own deadlines.
	err := o.chain(ctx, j, func(ctx context.Context) error {
		audio, err := o.blobs.Get(ctx, o.chunkKey(j.ID, part))
		if err != nil {
			return fmt.Errorf("fetch chunk: %w", err)
		}
		defer audio.Close()

		text, err := o.stt.Transcribe(ctx, audio)
		if err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}
		return o.blobs.Put(ctx, key, strings.NewReader(text))
	})
	if err != nil {
		return fmt.Errorf("part %d: %w", part, err)
	}
	return o.HandlePartComplete(ctx, j.ID, part, key, "")
}

// HandlePartComplete records a part-transcription outcome. A non-empty
// errDetail fails the job; otherwise the part is marked complete and,
// when it is the last outstanding part, the merge and summarize half of
// the pipeline runs inline. Duplicate deliveries are no-ops.
func (o *Orchestrator) HandlePartComplete(ctx context.Context, jobID id.JobID, partIndex int, resultKey, errDetail string) error {
	if errDetail != "" {
		_, err := o.eng.Fail(ctx, jobID, job.StageTranscribeFailed,
			fmt.Sprintf("part %d: %s", partIndex, errDetail))
		return err
	}

	j, completedNow, err := o.eng.MarkPartComplete(ctx, jobID, partIndex)
	if err != nil {
		return err
	}
	if !completedNow {
		return nil
	}

	o.logger.Info("all parts transcribed",
		slog.String("job_id", jobID.String()),
		slog.Int("total_parts", j.TotalParts),
	)
	return o.finish(ctx, j)
}

// ── merge and summarize ─────────────────────────────────────────────

// finish runs the tail of the pipeline once transcription is complete:
// merge the part transcripts, then summarize the merged document.
func (o *Orchestrator) finish(ctx context.Context, j *job.Job) error {
	merged, err := o.merge(ctx, j)
	if err != nil {
		_, ferr := o.failJob(ctx, j.ID, job.StageTranscribeFailed, err)
		if ferr != nil {
			return ferr
		}
		return nil
	}
	if err := o.summarizeJob(ctx, merged); err != nil {
		_, ferr := o.failJob(ctx, merged.ID, job.StageSummarizeFailed, err)
		if ferr != nil {
			return ferr
		}
	}
	return nil
}

// merge joins the part transcripts in ascending part order into a single
// document and advances the job to merged.
func (o *Orchestrator) merge(ctx context.Context, j *job.Job) (*job.Job, error) {
	var doc bytes.Buffer
	err := o.chain(ctx, j, func(ctx context.Context) error {
		for i := 0; i < j.TotalParts; i++ {
			text, err := blob.ReadAll(ctx, o.blobs, o.transcriptKey(j.ID, i))
			if err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
			if doc.Len() > 0 {
				doc.WriteByte('\n')
			}
			doc.Write(bytes.TrimSpace(text))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge transcripts: %w", err)
	}

	key := o.mergedKey(j.ID)
	if err := o.blobs.Put(ctx, key, bytes.NewReader(doc.Bytes())); err != nil {
		return nil, fmt.Errorf("merge transcripts: store: %w", err)
	}
	updated, err := o.store.UpdateJob(ctx, j.ID, func(j *job.Job) error {
		j.MergedKey = key
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge transcripts: record key: %w", err)
	}
	return o.eng.Advance(ctx, updated.ID, job.StageMerged)
}

// summarizeJob summarizes the merged transcript and stores the summary
// artifact, completing the job.
func (o *Orchestrator) summarizeJob(ctx context.Context, j *job.Job) error {
	if _, err := o.eng.Advance(ctx, j.ID, job.StageSummarizeInProgress); err != nil {
		return err
	}

	transcript, err := blob.ReadAll(ctx, o.blobs, j.MergedKey)
	if err != nil {
		return fmt.Errorf("summarize: load transcript: %w", err)
	}

	var payload []byte
	err = o.chain(ctx, j, func(ctx context.Context) error {
		summary, sumErr := o.summer.Summarize(ctx, string(transcript))
		if sumErr != nil {
			return sumErr
		}
		payload, sumErr = json.MarshalIndent(summary, "", "  ")
		return sumErr
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	key := o.summaryKey(j.OriginalName)
	if err := o.blobs.Put(ctx, key, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("summarize: store summary: %w", err)
	}
	if _, err := o.store.UpdateJob(ctx, j.ID, func(j *job.Job) error {
		j.ResultKey = key
		return nil
	}); err != nil {
		return fmt.Errorf("summarize: record key: %w", err)
	}
	if _, err := o.eng.Advance(ctx, j.ID, job.StageSummarized); err != nil {
		return err
	}
	return nil
}

// ── retry ───────────────────────────────────────────────────────────

// Retry moves a failed job back to the stage its failure retries from
// and re-drives the pipeline from there. Completed transcription parts
// are kept, so a transcription retry redoes only the missing parts.
func (o *Orchestrator) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := o.eng.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch j.Stage {
	case job.StageUploaded:
		return o.process(ctx, j)
	case job.StageSplit, job.StageTranscribeInProgress:
		if err := o.dispatchParts(ctx, j); err != nil {
			return o.failJob(ctx, j.ID, job.StageTranscribeFailed, err)
		}
		// Every part may already have a stored transcript; in that case
		// transcription is complete but the tail never ran.
		current, err := o.eng.Get(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		if current.Stage == job.StageTranscribeCompleted {
			if err := o.finish(ctx, current); err != nil {
				return nil, err
			}
		}
		return o.eng.Get(ctx, j.ID)
	case job.StageTranscribeCompleted:
		// Every part had already counted when the failure was recorded
		// (a merge failure); rerun the tail directly.
		if err := o.finish(ctx, j); err != nil {
			return nil, err
		}
		return o.eng.Get(ctx, j.ID)
	case job.StageSummarizeInProgress:
		if err := o.summarizeJob(ctx, j); err != nil {
			return o.failJob(ctx, j.ID, job.StageSummarizeFailed, err)
		}
		return o.eng.Get(ctx, j.ID)
	default:
		return j, nil
	}
}

// ── helpers ─────────────────────────────────────────────────────────

// failJob records a failure stage and returns the failed job. The
// original error is folded into the job's error detail.
func (o *Orchestrator) failJob(ctx context.Context, jobID id.JobID, failure job.Stage, cause error) (*job.Job, error) {
	failed, err := o.eng.Fail(ctx, jobID, failure, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("voxpipe/pipeline: %w (while recording %v)", err, cause)
	}
	return failed, nil
}

func (o *Orchestrator) download(ctx context.Context, key, dst string) error {
	rc, err := o.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("download %q: %w", key, err)
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("download %q: %w", key, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("download %q: %w", key, err)
	}
	return f.Close()
}

func (o *Orchestrator) upload(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("upload %q: %w", key, err)
	}
	defer f.Close()
	if err := o.blobs.Put(ctx, key, f); err != nil {
		return fmt.Errorf("upload %q: %w", key, err)
	}
	return nil
}
