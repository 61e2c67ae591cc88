package batch

import (
	"errors"
	"fmt"
)

// Task is the transformation request built from one input file. ID is the
// source path and is the only key correlating a Result back to its file.
type Task struct {
	ID      string `json:"id"`
	Prompt  string `json:"prompt"`
	Payload string `json:"payload"`
}

// Result is the content returned by the batch service for one Task.
// Error is set when the service reported a failure for that single task.
type Result struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Status of a remote batch job.
type Status string

// Job statuses. Succeeded and Completed are both terminal success: the batch
// service has been observed to report either one.
const (
	StatusQueued     Status = "queued"
	StatusValidating Status = "validating"
	StatusInProgress Status = "in_progress"
	StatusFinalizing Status = "finalizing"
	StatusSucceeded  Status = "succeeded"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsSuccess() bool {
	return s == StatusSucceeded || s == StatusCompleted
}

func (s Status) IsTerminal() bool {
	return s.IsSuccess() || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Job is a remote batch job as last observed.
type Job struct {
	Handle string `json:"handle"`
	Status Status `json:"status"`
}

var (
	ErrJobFailed     = errors.New("batch job failed")
	ErrMissingPrompt = errors.New("prompt file not found")
	ErrNoTasks       = errors.New("no input files to process")
)

// JobFailedError is returned when a job reaches the failed terminal state.
type JobFailedError struct {
	Handle string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("batch job %s failed", e.Handle)
}

func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}
