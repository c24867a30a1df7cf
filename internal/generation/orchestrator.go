package generation

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cinegen/internal/infra"
	"cinegen/internal/leonardo"
	"cinegen/internal/prompt"
	"cinegen/internal/reference"
	"cinegen/internal/script"
)

// ErrNoCredentials aborts a run before any job is submitted when the client
// has no API key configured.
var ErrNoCredentials = errors.New("generation: api credentials are missing")

// Client is the slice of the Leonardo client the orchestrator depends on.
type Client interface {
	HasCredentials() bool
	Submit(ctx context.Context, prompt string, refs []reference.Image) (string, error)
	Await(ctx context.Context, id string, timeout time.Duration) ([]byte, error)
}

// Progress is emitted after every job reaches a terminal state.
type Progress struct {
	Completed int
	Total     int
}

// Options tunes a batch run. The zero value gives a sequential run with a
// 60s per-job deadline.
type Options struct {
	// Concurrency bounds how many jobs are in flight at once. Jobs are
	// independent, so anything >1 only trades wall-clock time for open
	// connections; results always land by line index.
	Concurrency int
	// JobTimeout is the per-job deadline covering submit, poll, and image
	// download. One stalled job cannot hold the batch past it.
	JobTimeout time.Duration
	Logger     *infra.Logger
	OnProgress func(Progress)
}

// Orchestrator drives one generation job per planned script line and collects
// the outcomes in script order.
type Orchestrator struct {
	client      Client
	logger      infra.Logger
	concurrency int
	jobTimeout  time.Duration
	onProgress  func(Progress)
}

// NewOrchestrator wires a client with run options.
func NewOrchestrator(client Client, opts Options) *Orchestrator {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 60 * time.Second
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = zerolog.New(io.Discard)
	}
	return &Orchestrator{
		client:      client,
		logger:      logger,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
		onProgress:  opts.OnProgress,
	}
}

// Run generates up to imageCount images for the script's non-blank lines.
// A job's failure or timeout is recorded on the job and never aborts the
// batch or its siblings; the run itself fails only before submission starts
// (missing credentials, invalid plan). Cancelling ctx stops in-flight polls
// while keeping already-succeeded jobs intact.
func (o *Orchestrator) Run(ctx context.Context, lines []script.Line, imageCount int, refs *reference.Set) (*Result, error) {
	if o.client == nil || !o.client.HasCredentials() {
		return nil, ErrNoCredentials
	}
	planned, err := script.Plan(lines, imageCount)
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, len(planned))
	for i, line := range planned {
		jobs[i] = Job{
			LineIndex:   line.Index,
			SceneNumber: line.SceneNumber(),
			Prompt:      prompt.Build(line.SceneNumber(), line.Text, refs),
			State:       StatePending,
		}
	}

	refImages := refs.Images()
	total := len(jobs)
	var completed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			o.runJob(ctx, job, refImages)
			if o.onProgress != nil {
				o.onProgress(Progress{Completed: int(completed.Add(1)), Total: total})
			}
			return nil
		})
	}
	_ = g.Wait()

	return &Result{Jobs: jobs}, nil
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job, refs []reference.Image) {
	job.State = StateRunning

	jobCtx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()

	id, err := o.client.Submit(jobCtx, job.Prompt, refs)
	if err != nil {
		o.logger.Error().Err(err).Int("scene", job.SceneNumber).Msg("generation: submit failed")
		job.State = StateFailed
		job.Err = err
		return
	}
	job.RemoteID = id

	image, err := o.client.Await(jobCtx, id, o.jobTimeout)
	if err != nil {
		job.Err = err
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			// User-initiated stop; the job is not retried.
			job.State = StateFailed
		case errors.Is(err, leonardo.ErrAwaitTimeout):
			job.State = StateTimedOut
		default:
			job.State = StateFailed
		}
		o.logger.Error().Err(err).Int("scene", job.SceneNumber).Str("generation_id", id).Msg("generation: job did not complete")
		return
	}

	job.Image = image
	job.State = StateSucceeded
	o.logger.Info().Int("scene", job.SceneNumber).Str("generation_id", id).Int("bytes", len(image)).Msg("generation: scene ready")
}
