package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubev2v/texbatch/internal/batch"
	"github.com/kubev2v/texbatch/internal/client"
	"github.com/kubev2v/texbatch/internal/config"
	"github.com/kubev2v/texbatch/internal/events"
	"github.com/kubev2v/texbatch/internal/pipeline"
	"github.com/kubev2v/texbatch/internal/store"
	"github.com/kubev2v/texbatch/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	originalA = "\\documentclass{article}\n\\begin{document}A\\end{document}\n"
	originalB = "\\documentclass{article}\n\\begin{document}B\\end{document}\n"
)

var immediate = batch.WaiterFunc(func(ctx context.Context) error {
	return ctx.Err()
})

var _ = Describe("pipeline", func() {
	var (
		dir  string
		cfg  *config.Config
		fake *fakeService
		st   store.Store
		sink *recordingSink
	)

	readFile := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		Expect(err).To(BeNil())
		return string(data)
	}

	writeFile := func(name, content string) {
		Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)).To(Succeed())
	}

	newPipelineWith := func(ledger store.Store, rootDir string, waiter batch.Waiter) *pipeline.Pipeline {
		c, err := client.NewBatchClient(&client.Config{Server: fake.URL(), APIKey: "sk-test", Timeout: 5 * time.Second})
		Expect(err).To(BeNil())
		return pipeline.New(cfg, pipeline.Deps{
			Client:  c,
			Store:   ledger,
			Events:  sink,
			Waiter:  waiter,
			RootDir: rootDir,
		})
	}

	newPipeline := func(waiter batch.Waiter) *pipeline.Pipeline {
		return newPipelineWith(st, dir, waiter)
	}

	setup := func(statuses ...string) {
		fake = newFakeService(statuses...)
		DeferCleanup(fake.Close)
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		sink = &recordingSink{}

		cfg = config.NewDefault()
		cfg.Service.APIKey = "sk-test"
		cfg.Database.Name = filepath.Join(dir, "ledger.db")

		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		st = store.NewStore(db)
		Expect(st.InitialMigration()).To(Succeed())
		DeferCleanup(st.Close)

		writeFile("prompt.txt", "Fix the grammar.\n")
		writeFile("a.tex", originalA)
		writeFile("b.tex", originalB)
	})

	Context("job completes", func() {
		It("rewrites every file and keeps the originals", func() {
			setup("in_progress", "completed")

			summary, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex", "b.tex"})
			Expect(err).To(BeNil())
			Expect(summary.BatchID).To(Equal(fakeBatchID))
			Expect(summary.Status).To(Equal(batch.StatusCompleted))
			Expect(summary.Report.Written).To(ConsistOf("a.tex", "b.tex"))
			Expect(summary.Report.BackupsCreated).To(ConsistOf("a.tex", "b.tex"))

			Expect(readFile("a.tex")).To(Equal(strings.TrimSpace(editedContent("a.tex"))))
			Expect(readFile("b.tex")).To(Equal(strings.TrimSpace(editedContent("b.tex"))))
			Expect(readFile("a.tex.orig")).To(Equal(originalA))
			Expect(readFile("b.tex.orig")).To(Equal(originalB))

			artifact := readFile("batch_requests.jsonl")
			Expect(strings.Count(artifact, "\n")).To(Equal(2))
			Expect(fake.uploaded).To(HaveLen(2))
			Expect(fake.uploaded[0].ID).To(Equal("a.tex"))
			Expect(fake.uploaded[0].Prompt).To(Equal("Fix the grammar."))
			Expect(fake.uploaded[0].Payload).To(HaveSuffix(originalA))

			Expect(fake.batchBody).To(HaveKeyWithValue("endpoint", "/v1/chat/completions"))
			Expect(fake.batchBody).To(HaveKeyWithValue("completion_window", "24h"))
			Expect(fake.batchBody).To(HaveKeyWithValue("input_file_id", "file-1"))
			for _, h := range fake.authHeaders {
				Expect(h).To(Equal("Bearer sk-test"))
			}

			run, err := st.Run().Get(context.TODO(), summary.RunID)
			Expect(err).To(BeNil())
			Expect(run.Status).To(Equal(model.RunStatusMaterialized))
			Expect(run.JobStatus).To(Equal("completed"))
			Expect(run.FileID).To(Equal("file-1"))
			for _, t := range run.Tasks {
				Expect(t.Outcome).To(Equal(model.TaskOutcomeWritten))
			}

			Expect(sink.kinds).To(Equal([]string{
				events.RunMessageKind,
				events.RunMessageKind,
				events.JobMessageKind,
				events.JobMessageKind,
				events.ResultMessageKind,
				events.RunMessageKind,
			}))
		})

		It("accepts succeeded as success", func() {
			setup("queued", "validating", "finalizing", "succeeded")

			summary, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(err).To(BeNil())
			Expect(summary.Status).To(Equal(batch.StatusSucceeded))
			Expect(fake.polls).To(Equal(4))
		})

		It("never overwrites the first backup", func() {
			setup("completed")

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(err).To(BeNil())

			summary, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(err).To(BeNil())
			Expect(summary.Report.BackupsSkipped).To(ConsistOf("a.tex"))
			Expect(readFile("a.tex.orig")).To(Equal(originalA))
		})

		It("ignores results for unknown files", func() {
			setup("completed")
			fake.extra = []map[string]any{{
				"custom_id": "ghost.tex",
				"body":      map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": "boo"}}}},
			}}

			summary, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(err).To(BeNil())
			Expect(summary.Report.Unknown).To(ConsistOf("ghost.tex"))
			_, err = os.Stat(filepath.Join(dir, "ghost.tex"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Context("input files", func() {
		It("skips a missing file and processes the rest", func() {
			setup("completed")
			core, logs := observer.New(zap.InfoLevel)
			DeferCleanup(zap.ReplaceGlobals(zap.New(core)))

			summary, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex", "missing.tex"})
			Expect(err).To(BeNil())
			Expect(summary.Tasks).To(Equal(1))
			Expect(fake.uploaded).To(HaveLen(1))
			Expect(summary.Report.Written).To(ConsistOf("a.tex"))
			_, err = os.Stat(filepath.Join(dir, "missing.tex.orig"))
			Expect(os.IsNotExist(err)).To(BeTrue())

			skips := logs.FilterMessage("Skipping missing.tex: not a file")
			Expect(skips.Len()).To(Equal(1))
			Expect(skips.All()[0].LoggerName).To(Equal("builder"))
		})

		It("fails before any request when no file exists", func() {
			setup("completed")

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"missing.tex"})
			Expect(errors.Is(err, batch.ErrNoTasks)).To(BeTrue())
			Expect(fake.Requests()).To(BeZero())
		})
	})

	Context("configuration errors", func() {
		It("aborts before any request without credential", func() {
			setup("completed")
			cfg.Service.APIKey = ""

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(errors.Is(err, config.ErrMissingCredential)).To(BeTrue())
			Expect(fake.Requests()).To(BeZero())
			Expect(readFile("a.tex")).To(Equal(originalA))
		})

		It("aborts before any request without prompt file", func() {
			setup("completed")

			_, err := newPipeline(immediate).Run(context.TODO(), "nope.txt", []string{"a.tex"})
			Expect(errors.Is(err, batch.ErrMissingPrompt)).To(BeTrue())
			Expect(fake.Requests()).To(BeZero())
		})
	})

	Context("failures", func() {
		It("leaves every file untouched when the job fails", func() {
			setup("in_progress", "failed")

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex", "b.tex"})
			Expect(errors.Is(err, batch.ErrJobFailed)).To(BeTrue())
			var jobErr *batch.JobFailedError
			Expect(errors.As(err, &jobErr)).To(BeTrue())
			Expect(jobErr.Handle).To(Equal(fakeBatchID))

			Expect(readFile("a.tex")).To(Equal(originalA))
			Expect(readFile("b.tex")).To(Equal(originalB))
			_, err = os.Stat(filepath.Join(dir, "a.tex.orig"))
			Expect(os.IsNotExist(err)).To(BeTrue())
			Expect(fake.resultsHits).To(BeZero())

			runs, err := st.Run().List(context.TODO(), store.NewRunQueryFilter().ByBatchID(fakeBatchID), nil)
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Status).To(Equal(model.RunStatusFailed))
			Expect(runs[0].JobStatus).To(Equal("failed"))
		})

		It("stops on a transport error", func() {
			setup("completed")
			fake.uploadCode = http.StatusInternalServerError

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			var transportErr *client.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(fake.Requests()).To(Equal(1))

			runs, err := st.Run().List(context.TODO(), store.NewRunQueryFilter().ByStatus(model.RunStatusFailed), nil)
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Error).To(ContainSubstring("500"))
		})
	})

	Context("ledger", func() {
		It("rolls back the task outcomes when the run cannot be marked materialized", func() {
			setup("completed")

			_, err := newPipelineWith(brokenLedger{st}, dir, immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex", "b.tex"})
			Expect(errors.Is(err, errLedgerFull)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("recording results"))

			// the files were written before the ledger refused the update
			Expect(readFile("a.tex")).To(Equal(strings.TrimSpace(editedContent("a.tex"))))

			run, err := st.Run().GetByBatchID(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(run.Status).To(Equal(model.RunStatusFailed))
			Expect(run.Tasks).To(HaveLen(2))
			for _, t := range run.Tasks {
				Expect(t.Outcome).To(Equal(model.TaskOutcomePending))
			}
		})
	})

	Context("resume", func() {
		It("finishes a run interrupted while polling", func() {
			setup("in_progress", "in_progress", "completed")

			ctx, cancel := context.WithCancel(context.Background())
			interrupt := batch.WaiterFunc(func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			})
			_, err := newPipeline(interrupt).Run(ctx, "prompt.txt", []string{"a.tex", "b.tex"})
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(readFile("a.tex")).To(Equal(originalA))

			run, err := st.Run().GetByBatchID(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(run.Status).To(Equal(model.RunStatusSubmitted))

			summary, err := newPipeline(immediate).Resume(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(summary.Report.Written).To(ConsistOf("a.tex", "b.tex"))
			Expect(readFile("b.tex.orig")).To(Equal(originalB))
		})

		It("resolves task paths against the directory of the submission", func() {
			setup("in_progress", "completed")

			ctx, cancel := context.WithCancel(context.Background())
			interrupt := batch.WaiterFunc(func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			})
			_, err := newPipeline(interrupt).Run(ctx, "prompt.txt", []string{"a.tex"})
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())

			run, err := st.Run().GetByBatchID(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(run.WorkDir).To(Equal(dir))

			elsewhere := GinkgoT().TempDir()
			summary, err := newPipelineWith(st, elsewhere, immediate).Resume(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(summary.Report.Written).To(ConsistOf("a.tex"))
			Expect(readFile("a.tex")).To(Equal(strings.TrimSpace(editedContent("a.tex"))))
			Expect(readFile("a.tex.orig")).To(Equal(originalA))

			entries, err := os.ReadDir(elsewhere)
			Expect(err).To(BeNil())
			Expect(entries).To(BeEmpty())
		})

		It("fails for a batch with no recorded run", func() {
			setup("completed")

			_, err := newPipeline(immediate).Resume(context.TODO(), "batch_unknown")
			var notFound *pipeline.ErrRunNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(fake.Requests()).To(BeZero())
		})
	})

	Context("status", func() {
		It("returns the remote status and records it", func() {
			setup("in_progress", "completed")

			_, err := newPipeline(immediate).Run(context.TODO(), "prompt.txt", []string{"a.tex"})
			Expect(err).To(BeNil())

			status, err := newPipeline(immediate).Status(context.TODO(), fakeBatchID)
			Expect(err).To(BeNil())
			Expect(status).To(Equal(batch.StatusCompleted))
		})

		It("surfaces transport errors", func() {
			setup("completed")

			_, err := newPipeline(immediate).Status(context.TODO(), "batch_unknown")
			var transportErr *client.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
