package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/texbatch/internal/archive"
	"github.com/kubev2v/texbatch/internal/batch"
	"github.com/kubev2v/texbatch/internal/client"
	"github.com/kubev2v/texbatch/internal/config"
	"github.com/kubev2v/texbatch/internal/events"
	"github.com/kubev2v/texbatch/internal/fileio"
	"github.com/kubev2v/texbatch/internal/materialize"
	"github.com/kubev2v/texbatch/internal/store"
	"github.com/kubev2v/texbatch/internal/store/model"
	"go.uber.org/zap"
)

const batchDescription = "Batch processing LaTeX files"

// BatchService is the part of the remote batch API the pipeline uses.
type BatchService interface {
	batch.StatusGetter
	UploadFile(ctx context.Context, name string, content io.Reader) (*client.FileObject, error)
	CreateBatch(ctx context.Context, req client.BatchRequest) (*client.BatchObject, error)
	GetResults(ctx context.Context, id string) ([]batch.Result, error)
}

// EventSink receives run lifecycle events.
type EventSink interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// Deps are the collaborators of a Pipeline. Archive, Events and Waiter are
// optional.
type Deps struct {
	Client  BatchService
	Store   store.Store
	Archive archive.Archiver
	Events  EventSink
	Waiter  batch.Waiter
	// RootDir prefixes every relative path read or written.
	RootDir string
}

// Summary describes a finished run.
type Summary struct {
	RunID   uuid.UUID           `json:"runId"`
	BatchID string              `json:"batchId"`
	Status  batch.Status        `json:"status"`
	Tasks   int                 `json:"tasks"`
	Report  *materialize.Report `json:"report"`
}

// Pipeline runs build, upload, submit, poll and materialize strictly in
// that order.
type Pipeline struct {
	cfg          *config.Config
	client       BatchService
	store        store.Store
	archiver     archive.Archiver
	events       EventSink
	waiter       batch.Waiter
	builder      *batch.Builder
	writer       *fileio.Writer
	materializer *materialize.Materializer
	// workDir is the absolute directory relative task paths resolve against.
	workDir      string
}

func New(cfg *config.Config, deps Deps) *Pipeline {
	reader := fileio.NewReader()
	writer := fileio.NewWriter()
	if deps.RootDir != "" {
		reader.SetRootdir(deps.RootDir)
		writer.SetRootdir(deps.RootDir)
	}

	p := &Pipeline{
		cfg:          cfg,
		client:       deps.Client,
		store:        deps.Store,
		archiver:     deps.Archive,
		events:       deps.Events,
		waiter:       deps.Waiter,
		builder:      batch.NewBuilder(reader),
		writer:       writer,
		materializer: materialize.NewMaterializer(reader, writer),
		workDir:      absDir(deps.RootDir),
	}
	if p.archiver == nil {
		p.archiver = archive.Noop{}
	}
	if p.waiter == nil {
		p.waiter = batch.NewTickerWaiter(cfg.Service.PollInterval, cfg.Service.PollJitter)
	}
	return p
}

// Run processes files with the prompt read from promptFile and blocks until
// the job is terminal and its results are written back.
func (p *Pipeline) Run(ctx context.Context, promptFile string, files []string) (*Summary, error) {
	log := zap.S().Named("pipeline")

	if err := p.cfg.CheckCredential(); err != nil {
		return nil, err
	}
	prompt, err := p.builder.LoadPrompt(promptFile)
	if err != nil {
		return nil, err
	}
	tasks, err := p.builder.Build(prompt, files)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, batch.ErrNoTasks
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}

	newRun := model.NewRun(promptFile, p.cfg.Service.ArtifactPath, ids)
	newRun.WorkDir = p.workDir
	run, err := p.store.Run().Create(ctx, newRun)
	if err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	p.emitRun(ctx, run)

	opts := batch.ArtifactOptions{Model: p.cfg.Service.Model, SystemPrompt: p.cfg.Service.SystemPrompt}
	data, err := batch.WriteArtifact(p.writer, p.cfg.Service.ArtifactPath, opts, tasks)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}
	log.Infof("Created batch file %s with %d requests", p.cfg.Service.ArtifactPath, len(tasks))
	p.archive(ctx, run, archive.ArtifactObject, data)

	file, err := p.client.UploadFile(ctx, filepath.Base(p.cfg.Service.ArtifactPath), bytes.NewReader(data))
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}
	log.Infof("Uploaded batch file: %s", file.ID)
	run.FileID = file.ID
	run.Status = model.RunStatusUploaded
	if run, err = p.store.Run().Update(ctx, *run); err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	job, err := p.client.CreateBatch(ctx, client.BatchRequest{
		InputFileID:      file.ID,
		Endpoint:         batch.ChatCompletionsEndpoint,
		CompletionWindow: p.cfg.Service.CompletionWindow,
		Metadata:         map[string]string{"description": batchDescription},
	})
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}
	log.Infof("Batch submitted: %s", job.ID)
	run.BatchID = job.ID
	run.JobStatus = job.Status.String()
	run.Status = model.RunStatusSubmitted
	if run, err = p.store.Run().Update(ctx, *run); err != nil {
		return nil, fmt.Errorf("recording submission: %w", err)
	}
	p.emitRun(ctx, run)

	return p.complete(ctx, run)
}

// Resume waits for a job submitted by an earlier run and materializes its
// results over the files recorded for that run.
func (p *Pipeline) Resume(ctx context.Context, batchID string) (*Summary, error) {
	if err := p.cfg.CheckCredential(); err != nil {
		return nil, err
	}
	run, err := p.store.Run().GetByBatchID(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrRunNotFound(batchID)
		}
		return nil, err
	}
	zap.S().Named("pipeline").Infof("Resuming batch %s (run %s, %d tasks)", batchID, run.ID, len(run.Tasks))
	return p.complete(ctx, run)
}

// Status queries the current remote status of batchID once. The ledger is
// updated when it knows the batch.
func (p *Pipeline) Status(ctx context.Context, batchID string) (batch.Status, error) {
	if err := p.cfg.CheckCredential(); err != nil {
		return "", err
	}
	status, err := p.client.JobStatus(ctx, batchID)
	if err != nil {
		return "", err
	}

	run, err := p.store.Run().GetByBatchID(ctx, batchID)
	switch {
	case err == nil:
		if err := p.store.Run().UpdateJobStatus(ctx, run.ID, status.String()); err != nil {
			zap.S().Named("pipeline").Warnw("failed to record job status", "batch", batchID, "error", err)
		}
	case !errors.Is(err, store.ErrRecordNotFound):
		zap.S().Named("pipeline").Warnw("failed to read run", "batch", batchID, "error", err)
	}
	return status, nil
}

func (p *Pipeline) complete(ctx context.Context, run *model.Run) (*Summary, error) {
	log := zap.S().Named("pipeline")

	poller := batch.NewPoller(p.client, p.waiter, batch.WithStatusObserver(func(j batch.Job) {
		if err := p.store.Run().UpdateJobStatus(ctx, run.ID, j.Status.String()); err != nil {
			log.Warnw("failed to record job status", "batch", j.Handle, "error", err)
		}
		p.emit(ctx, events.JobMessageKind, events.JobEvent{RunID: run.ID.String(), BatchID: j.Handle, Status: j.Status.String()})
	}))

	job, err := poller.Wait(ctx, run.BatchID)
	run.JobStatus = job.Status.String()
	if err != nil {
		if ctx.Err() != nil {
			// the job is still running remotely; the run stays resumable
			return nil, err
		}
		return nil, p.fail(ctx, run, err)
	}

	results, err := p.client.GetResults(ctx, run.BatchID)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}
	if data, err := json.Marshal(results); err == nil {
		p.archive(ctx, run, archive.ResultsObject, data)
	}

	report, err := p.materializerFor(run).Materialize(run.TaskPaths(), results)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}
	if err := p.recordResults(ctx, run, report); err != nil {
		return nil, p.fail(ctx, run, fmt.Errorf("recording results: %w", err))
	}
	p.emit(ctx, events.ResultMessageKind, events.ResultEvent{
		RunID:   run.ID.String(),
		BatchID: run.BatchID,
		Written: len(report.Written),
		Failed:  len(report.Failed),
		Missing: len(report.Missing),
		Unknown: len(report.Unknown),
	})
	p.emitRun(ctx, run)
	log.Infof("Batch %s done: %d written, %d failed, %d missing", run.BatchID, len(report.Written), len(report.Failed), len(report.Missing))

	return &Summary{
		RunID:   run.ID,
		BatchID: run.BatchID,
		Status:  job.Status,
		Tasks:   len(run.Tasks),
		Report:  report,
	}, nil
}

// recordResults stores the task outcomes and marks the run materialized in a
// single transaction.
func (p *Pipeline) recordResults(ctx context.Context, run *model.Run, report *materialize.Report) error {
	txCtx, err := p.store.NewTransactionContext(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = store.Rollback(txCtx)
	}()

	outcomes := []struct {
		paths   []string
		outcome string
	}{
		{report.Written, model.TaskOutcomeWritten},
		{report.Failed, model.TaskOutcomeFailed},
		{report.Missing, model.TaskOutcomeMissing},
	}
	for _, o := range outcomes {
		for _, path := range o.paths {
			if err := p.store.Run().SetTaskOutcome(txCtx, run.ID, path, o.outcome); err != nil {
				return fmt.Errorf("task %s: %w", path, err)
			}
		}
	}

	done := *run
	done.Status = model.RunStatusMaterialized
	done.Error = ""
	if _, err := p.store.Run().Update(txCtx, done); err != nil {
		return err
	}
	if _, err := store.Commit(txCtx); err != nil {
		return err
	}

	run.Status = done.Status
	run.Error = done.Error
	return nil
}

// materializerFor returns a materializer resolving the task paths of run
// against the directory the run was submitted from.
func (p *Pipeline) materializerFor(run *model.Run) *materialize.Materializer {
	if run.WorkDir == "" || run.WorkDir == p.workDir {
		return p.materializer
	}
	reader := fileio.NewReader()
	reader.SetRootdir(run.WorkDir)
	writer := fileio.NewWriter()
	writer.SetRootdir(run.WorkDir)
	return materialize.NewMaterializer(reader, writer)
}

func absDir(rootDir string) string {
	if rootDir == "" {
		rootDir = "."
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		zap.S().Named("pipeline").Warnw("failed to resolve working directory", "error", err)
		return ""
	}
	return abs
}

// fail records cause on the run and returns it.
func (p *Pipeline) fail(ctx context.Context, run *model.Run, cause error) error {
	run.Status = model.RunStatusFailed
	run.Error = cause.Error()

	// ctx may be done already; the failure is still worth recording
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := p.store.Run().Update(recordCtx, *run); err != nil {
		zap.S().Named("pipeline").Errorw("failed to record run failure", "run", run.ID, "error", err)
	}
	p.emitRun(recordCtx, run)
	return cause
}

func (p *Pipeline) archive(ctx context.Context, run *model.Run, name string, data []byte) {
	key := archive.RunKey(run.ID.String(), name)
	if err := p.archiver.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		zap.S().Named("pipeline").Warnw("failed to archive", "key", key, "error", err)
		return
	}
	if _, ok := p.archiver.(archive.Noop); !ok {
		zap.S().Named("pipeline").Debugf("archived %s", key)
	}
}

func (p *Pipeline) emitRun(ctx context.Context, run *model.Run) {
	p.emit(ctx, events.RunMessageKind, events.RunEvent{
		RunID:   run.ID.String(),
		BatchID: run.BatchID,
		State:   run.Status,
		Error:   run.Error,
	})
}

func (p *Pipeline) emit(ctx context.Context, kind string, v any) {
	if p.events == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := p.events.Write(ctx, kind, bytes.NewReader(data)); err != nil {
		zap.S().Named("pipeline").Warnw("failed to emit event", "kind", kind, "error", err)
	}
}
