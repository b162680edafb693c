package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/extraction"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/joblogs"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/lookup"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/ocr"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

// Recognizer reads text off page images.
type Recognizer interface {
	Configured() bool
	RecognizeText(ctx context.Context, path string, pages ocr.PageRange) (string, error)
}

// ISBNLookup resolves an ISBN against a registry.
type ISBNLookup interface {
	Lookup(ctx context.Context, isbn string) (*models.LookupMetadata, error)
}

type processFunc func(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]processFunc

	services      *ingest.Services
	jobService    *jobs.Service
	jobLogService *joblogs.Service
	hub           *progress.Hub
	ocr           Recognizer
	lookup        ISBNLookup
	weights       extraction.Weights

	pollInterval time.Duration
	ocrAttempts  int
	ocrBackoff   time.Duration

	// ctx is cancelled on shutdown so a running batch stops after its
	// current file.
	ctx    context.Context
	cancel context.CancelFunc

	queue          chan *models.Job
	shutdown       chan struct{}
	shutdownOnce   sync.Once
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB, services *ingest.Services, hub *progress.Hub) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		config: cfg,
		log:    logger.New(),

		services:      services,
		jobService:    services.Jobs,
		jobLogService: joblogs.NewService(db),
		hub:           hub,
		ocr:           ocr.NewClientFromConfig(cfg),
		lookup:        lookup.NewClientFromConfig(cfg),
		weights:       extraction.WeightsFromConfig(cfg),

		pollInterval: cfg.WorkerPollInterval,
		ocrAttempts:  3,
		ocrBackoff:   5 * time.Second,

		ctx:    ctx,
		cancel: cancel,

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}

	w.processFuncs = map[string]processFunc{
		models.JobTypeIngest:      w.ProcessIngestJob,
		models.JobTypeTempCleanup: w.ProcessTempCleanupJob,
		models.JobTypeEnrichItem:  w.ProcessEnrichJob,
		models.JobTypeOCRItem:     w.ProcessOCRJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
}

func (w *Worker) fetchJobs() {
	timer := time.NewTimer(w.pollInterval)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			timer.Stop()
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			job, err := w.jobService.ClaimNextJob(context.Background(), processID)
			if err != nil {
				w.log.Err(err).Error("claim job error")
			}
			if job != nil {
				select {
				case w.queue <- job:
				case <-w.shutdown:
				}
				// More may be waiting; check again right away.
				timer.Reset(0)
				continue
			}
			timer.Reset(w.pollInterval)
		}
	}
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.runJob(job)
		}
	}
}

// runJob claims a job for this process, runs it and records how it ended.
// A job interrupted by shutdown stays in progress so the next process picks
// it back up.
func (w *Worker) runJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(w.ctx)

	// Update job to be in progress and claimed by this process.
	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID

	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "process_id"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
		return
	}

	jl := w.jobLogService.NewJobLogger(context.WithoutCancel(ctx), job.ID, log)

	// Find and invoke the appropriate process function.
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		jl.Error("can't find process function for type", errors.Errorf("unknown job type %q", job.Type), nil)
		w.finishJob(ctx, job, models.JobStatusFailed)
		return
	}

	err = w.invoke(ctx, fn, job, jl)
	switch {
	case errors.Is(err, ingest.ErrCancelled) || (err != nil && w.ctx.Err() != nil):
		jl.Warn("job interrupted by shutdown", nil)
	case err != nil:
		jl.Error("process error", err, nil)
		w.finishJob(ctx, job, models.JobStatusFailed)
	default:
		// Update job to be completed so that it's not picked up anymore.
		w.finishJob(ctx, job, models.JobStatusCompleted)
	}
}

// invoke runs fn and turns a panic into a fatal job log and an error.
func (w *Worker) invoke(ctx context.Context, fn processFunc, job *models.Job, jl *joblogs.JobLogger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
			jl.Fatal("job panicked", err, nil)
		}
	}()
	return fn(ctx, job, jl)
}

func (w *Worker) finishJob(ctx context.Context, job *models.Job, status string) {
	job.Status = status
	err := w.jobService.UpdateJob(context.WithoutCancel(ctx), job, jobs.UpdateJobOptions{
		Columns: []string{"status"},
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("update job error")
	}
}

func (w *Worker) Shutdown() {
	w.shutdownOnce.Do(func() {
		close(w.shutdown)
		w.cancel()
	})

	<-w.doneFetching
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
