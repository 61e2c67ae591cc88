package materialize

import (
	"errors"
	"fmt"

	"github.com/kubev2v/texbatch/internal/batch"
	"github.com/kubev2v/texbatch/internal/fileio"
	"github.com/kubev2v/texbatch/pkg/metrics"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// BackupSuffix is appended to a file path to name its backup.
const BackupSuffix = ".orig"

// BackupPath returns the path the original content of path is preserved under.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// Report lists what happened to each task id.
type Report struct {
	Written        []string `json:"written"`
	BackupsCreated []string `json:"backupsCreated"`
	BackupsSkipped []string `json:"backupsSkipped"`
	Unknown        []string `json:"unknown,omitempty"`
	Failed         []string `json:"failed,omitempty"`
	Missing        []string `json:"missing,omitempty"`
}

// Materializer writes batch results back over their source files.
type Materializer struct {
	reader *fileio.Reader
	writer *fileio.Writer
}

func NewMaterializer(reader *fileio.Reader, writer *fileio.Writer) *Materializer {
	return &Materializer{reader: reader, writer: writer}
}

// Materialize applies results to the files named by known. For every result:
// the original is preserved under BackupPath unless a backup already exists,
// then the content replaces the original. Results for unknown ids or marked
// as failed by the service are logged and left out. Filesystem errors abort.
func (m *Materializer) Materialize(known []string, results []batch.Result) (*Report, error) {
	log := zap.S().Named("materializer")

	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	report := &Report{}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.TaskID] = struct{}{}

		if _, ok := knownSet[r.TaskID]; !ok {
			log.Warnf("Ignoring result for unknown task %q", r.TaskID)
			report.Unknown = append(report.Unknown, r.TaskID)
			metrics.IncreaseResultsMetric(metrics.OutcomeUnknown)
			continue
		}
		if r.Error != "" {
			log.Warnf("Task %s failed remotely: %s", r.TaskID, r.Error)
			report.Failed = append(report.Failed, r.TaskID)
			metrics.IncreaseResultsMetric(metrics.OutcomeFailed)
			continue
		}
		if !m.reader.IsRegularFile(r.TaskID) {
			log.Warnf("Skipping %s: not a file anymore", r.TaskID)
			report.Failed = append(report.Failed, r.TaskID)
			metrics.IncreaseResultsMetric(metrics.OutcomeFailed)
			continue
		}

		created, err := m.preserve(r.TaskID)
		if err != nil {
			return report, err
		}
		if created {
			report.BackupsCreated = append(report.BackupsCreated, r.TaskID)
		} else {
			report.BackupsSkipped = append(report.BackupsSkipped, r.TaskID)
		}

		if err := m.writer.WriteFile(r.TaskID, []byte(r.Content)); err != nil {
			return report, fmt.Errorf("writing result for %s: %w", r.TaskID, err)
		}
		report.Written = append(report.Written, r.TaskID)
		metrics.IncreaseResultsMetric(metrics.OutcomeWritten)
		log.Infof("Processed %s (original in %s)", r.TaskID, BackupPath(r.TaskID))
	}

	report.Missing = funk.FilterString(funk.UniqString(known), func(k string) bool {
		_, ok := seen[k]
		return !ok
	})
	for _, k := range report.Missing {
		log.Warnf("No result returned for %s", k)
	}

	return report, nil
}

// preserve copies path to its backup unless one exists. It reports whether
// a backup was created.
func (m *Materializer) preserve(path string) (bool, error) {
	log := zap.S().Named("materializer")
	backup := BackupPath(path)

	err := m.writer.CopyExclusive(path, backup)
	switch {
	case err == nil:
		log.Infof("Backup created: %s", backup)
		metrics.IncreaseBackupsMetric(metrics.BackupCreated)
		return true, nil
	case errors.Is(err, fileio.ErrExists):
		log.Infof("Backup already exists: %s (not overwritten)", backup)
		metrics.IncreaseBackupsMetric(metrics.BackupSkipped)
		return false, nil
	default:
		return false, fmt.Errorf("creating backup %s: %w", backup, err)
	}
}
