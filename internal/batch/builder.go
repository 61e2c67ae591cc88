package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/kubev2v/texbatch/internal/fileio"
	"github.com/kubev2v/texbatch/pkg/metrics"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const fileInstructions = "You are given a LaTeX file: %s\n" +
	"Please edit/improve it while preserving all LaTeX formatting.\n" +
	"Ensure the output is valid LaTeX code.\n" +
	"Return only LaTeX.\n\n"

// Builder turns input files and a prompt into Tasks.
type Builder struct {
	reader *fileio.Reader
}

func NewBuilder(reader *fileio.Reader) *Builder {
	return &Builder{reader: reader}
}

// LoadPrompt reads the prompt template, trimming surrounding whitespace.
func (b *Builder) LoadPrompt(path string) (string, error) {
	if !b.reader.IsRegularFile(path) {
		return "", fmt.Errorf("%w: %s", ErrMissingPrompt, path)
	}
	data, err := b.reader.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Build returns one Task per existing input path, in input order. Paths that
// are missing or not regular files are skipped. Duplicates are kept as is;
// the caller is expected not to pass them.
func (b *Builder) Build(prompt string, paths []string) ([]Task, error) {
	log := zap.S().Named("builder")

	if dups := duplicates(paths); len(dups) > 0 {
		log.Warnw("duplicate input paths, results will collide", "paths", dups)
	}

	tasks := make([]Task, 0, len(paths))
	for _, path := range paths {
		if !b.reader.IsRegularFile(path) {
			log.Warnf("Skipping %s: not a file", path)
			metrics.IncreaseTasksSkippedMetric()
			continue
		}

		content, err := b.reader.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Warnf("Skipping %s: not a file", path)
				metrics.IncreaseTasksSkippedMetric()
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		tasks = append(tasks, NewTask(path, prompt, string(content)))
		metrics.IncreaseTasksBuiltMetric()
	}

	log.Infof("Built %d tasks from %d input paths", len(tasks), len(paths))
	return tasks, nil
}

// NewTask builds the Task for one file. The payload always starts with the prompt.
func NewTask(path, prompt, content string) Task {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, fileInstructions, path)
	sb.WriteString(content)

	return Task{
		ID:      path,
		Prompt:  prompt,
		Payload: sb.String(),
	}
}

func duplicates(paths []string) []string {
	seen := make(map[string]int, len(paths))
	for _, p := range paths {
		seen[p]++
	}
	return funk.FilterString(funk.UniqString(paths), func(p string) bool {
		return seen[p] > 1
	})
}
