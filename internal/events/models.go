package events

// RunEvent reports a change of the local run state.
type RunEvent struct {
	RunID   string `json:"run_id"`
	BatchID string `json:"batch_id,omitempty"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

// JobEvent reports a new remote job status.
type JobEvent struct {
	RunID   string `json:"run_id"`
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// ResultEvent summarizes how the results of a job were applied.
type ResultEvent struct {
	RunID   string `json:"run_id"`
	BatchID string `json:"batch_id"`
	Written int    `json:"written"`
	Failed  int    `json:"failed"`
	Missing int    `json:"missing"`
	Unknown int    `json:"unknown"`
}
