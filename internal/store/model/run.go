package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Local lifecycle of a run. The remote job status is tracked separately in
// Run.JobStatus.
const (
	RunStatusCreated      = "created"
	RunStatusUploaded     = "uploaded"
	RunStatusSubmitted    = "submitted"
	RunStatusMaterialized = "materialized"
	RunStatusFailed       = "failed"
)

// Outcome of a single task once results were applied.
const (
	TaskOutcomePending = "pending"
	TaskOutcomeWritten = "written"
	TaskOutcomeFailed  = "failed"
	TaskOutcomeMissing = "missing"
)

// Run records one submission of a set of files to the batch service.
type Run struct {
	ID           uuid.UUID `gorm:"primaryKey;type:VARCHAR(36)" json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	BatchID      string    `gorm:"index" json:"batchId,omitempty"`
	FileID       string    `json:"fileId,omitempty"`
	Status       string    `gorm:"not null" json:"status"`
	JobStatus    string    `json:"jobStatus,omitempty"`
	PromptFile   string    `json:"promptFile"`
	ArtifactPath string    `json:"artifactPath"`
	WorkDir      string    `json:"workDir,omitempty"`
	Error        string    `json:"error,omitempty"`
	Tasks        []RunTask `gorm:"constraint:OnDelete:CASCADE;" json:"tasks,omitempty"`
}

type RunList []Run

func (r Run) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}

// TaskPaths returns the ids of the tasks submitted with the run, in order.
func (r Run) TaskPaths() []string {
	paths := make([]string, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		paths = append(paths, t.Path)
	}
	return paths
}

// RunTask is one file submitted as part of a run. Path is the task id,
// relative paths are resolved against Run.WorkDir.
type RunTask struct {
	ID      uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID   uuid.UUID `gorm:"index;type:VARCHAR(36);not null" json:"-"`
	Path    string    `gorm:"not null" json:"path"`
	Outcome string    `json:"outcome"`
}

func NewRun(promptFile, artifactPath string, paths []string) Run {
	run := Run{
		ID:           uuid.New(),
		Status:       RunStatusCreated,
		PromptFile:   promptFile,
		ArtifactPath: artifactPath,
	}
	for _, p := range paths {
		run.Tasks = append(run.Tasks, RunTask{RunID: run.ID, Path: p, Outcome: TaskOutcomePending})
	}
	return run
}
