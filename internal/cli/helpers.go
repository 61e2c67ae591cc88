package cli

import (
	"fmt"
	"strings"

	"github.com/kubev2v/texbatch/internal/pipeline"
)

const (
	RunKind = "run"
)

var (
	pluralKinds = map[string]string{
		RunKind: "runs",
	}
)

func parseAndValidateKindId(arg string) (string, string, error) {
	kind, id, _ := strings.Cut(arg, "/")
	kind = singular(kind)
	if _, ok := pluralKinds[kind]; !ok {
		return "", "", fmt.Errorf("invalid resource kind: %s", kind)
	}
	return kind, id, nil
}

func singular(kind string) string {
	for singular, plural := range pluralKinds {
		if kind == plural {
			return singular
		}
	}
	return kind
}

func plural(kind string) string {
	return pluralKinds[kind]
}

func validateBatchID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("batch id must not be empty")
	}
	if strings.ContainsAny(id, "/ \t\n") {
		return fmt.Errorf("invalid batch id: %q", id)
	}
	return nil
}

func printSummary(s *pipeline.Summary) {
	r := s.Report
	fmt.Printf("Batch %s %s: %d written, %d failed, %d missing, %d backups created, %d backups kept\n",
		s.BatchID, s.Status, len(r.Written), len(r.Failed), len(r.Missing), len(r.BackupsCreated), len(r.BackupsSkipped))
}
