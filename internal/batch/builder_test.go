package batch_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/kubev2v/texbatch/internal/batch"
	"github.com/kubev2v/texbatch/internal/fileio"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// counterValue reads a counter from the default registry. Labels not listed
// in labels are not matched.
func counterValue(name string, labels map[string]string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	Expect(err).To(BeNil())
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

var _ = Describe("builder", func() {
	var (
		dir     string
		builder *batch.Builder
	)

	writeFile := func(name, content string) {
		Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		reader := fileio.NewReader()
		reader.SetRootdir(dir)
		builder = batch.NewBuilder(reader)
	})

	Context("LoadPrompt", func() {
		It("trims the prompt file", func() {
			writeFile("prompt.txt", "  Improve clarity\n\n")
			prompt, err := builder.LoadPrompt("prompt.txt")
			Expect(err).To(BeNil())
			Expect(prompt).To(Equal("Improve clarity"))
		})

		It("returns ErrMissingPrompt when the file is absent", func() {
			_, err := builder.LoadPrompt("prompt.txt")
			Expect(errors.Is(err, batch.ErrMissingPrompt)).To(BeTrue())
		})
	})

	Context("Build", func() {
		It("builds one task per existing file keyed by its path", func() {
			writeFile("a.tex", "\\section{A}")
			writeFile("b.tex", "\\section{B}")

			tasks, err := builder.Build("Improve clarity", []string{"a.tex", "b.tex"})
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0].ID).To(Equal("a.tex"))
			Expect(tasks[1].ID).To(Equal("b.tex"))

			for _, t := range tasks {
				Expect(t.Prompt).To(Equal("Improve clarity"))
				Expect(strings.HasPrefix(t.Payload, "Improve clarity")).To(BeTrue())
				Expect(t.Payload).To(ContainSubstring("You are given a LaTeX file: " + t.ID))
			}
			Expect(tasks[0].Payload).To(HaveSuffix("\\section{A}"))
			Expect(tasks[1].Payload).To(HaveSuffix("\\section{B}"))
		})

		It("skips missing files and directories", func() {
			writeFile("a.tex", "A")
			Expect(os.Mkdir(filepath.Join(dir, "chapters"), 0755)).To(Succeed())

			core, logs := observer.New(zap.InfoLevel)
			DeferCleanup(zap.ReplaceGlobals(zap.New(core)))
			skipped := counterValue("texbatch_tasks_skipped_total", nil)

			tasks, err := builder.Build("p", []string{"a.tex", "missing.tex", "chapters"})
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].ID).To(Equal("a.tex"))

			Expect(logs.FilterMessage("Skipping missing.tex: not a file").Len()).To(Equal(1))
			Expect(logs.FilterMessage("Skipping chapters: not a file").Len()).To(Equal(1))
			Expect(logs.FilterMessageSnippet("Skipping a.tex").Len()).To(BeZero())
			Expect(counterValue("texbatch_tasks_skipped_total", nil)).To(Equal(skipped + 2))
		})

		It("returns an empty list when nothing exists", func() {
			tasks, err := builder.Build("p", []string{"x.tex", "y.tex"})
			Expect(err).To(BeNil())
			Expect(tasks).To(BeEmpty())
		})

		It("does not de-duplicate paths", func() {
			writeFile("a.tex", "A")
			tasks, err := builder.Build("p", []string{"a.tex", "a.tex"})
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(2))
		})

		It("keeps the file content byte for byte", func() {
			content := "% comment\n\\begin{equation}\n  a < b & c > d\n\\end{equation}\n\n"
			writeFile("eq.tex", content)
			tasks, err := builder.Build("p", []string{"eq.tex"})
			Expect(err).To(BeNil())
			Expect(tasks[0].Payload).To(HaveSuffix(content))
		})
	})
})
