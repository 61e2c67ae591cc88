package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	texbatch = "texbatch"

	// Task metrics
	tasksBuiltTotal   = "tasks_built_total"
	tasksSkippedTotal = "tasks_skipped_total"

	// Job metrics
	pollRequestsTotal = "poll_requests_total"
	JobStatus         = "job_status"

	// Result metrics
	resultsTotal = "results_total"
	backupsTotal = "backups_total"

	// Labels
	statusLabel  = "status"
	outcomeLabel = "outcome"
	stateLabel   = "state"
)

// Result outcomes
const (
	OutcomeWritten = "written"
	OutcomeUnknown = "unknown"
	OutcomeFailed  = "failed"
)

// Backup states
const (
	BackupCreated = "created"
	BackupSkipped = "skipped"
)

/**
* Metrics definition
**/
var tasksBuiltTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: texbatch,
		Name:      tasksBuiltTotal,
		Help:      "number of tasks built from input files",
	},
)

var tasksSkippedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: texbatch,
		Name:      tasksSkippedTotal,
		Help:      "number of input paths skipped because they do not exist",
	},
)

var pollRequestsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: texbatch,
		Name:      pollRequestsTotal,
		Help:      "number of job status queries sent to the batch service",
	},
)

var jobStatusMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: texbatch,
		Name:      JobStatus,
		Help:      "last observed job status, set to 1 for the current status",
	},
	[]string{statusLabel},
)

var resultsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: texbatch,
		Name:      resultsTotal,
		Help:      "number of batch results handled by the materializer",
	},
	[]string{outcomeLabel},
)

var backupsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: texbatch,
		Name:      backupsTotal,
		Help:      "number of backup preservation attempts",
	},
	[]string{stateLabel},
)

func IncreaseTasksBuiltMetric() {
	tasksBuiltTotalMetric.Inc()
}

func IncreaseTasksSkippedMetric() {
	tasksSkippedTotalMetric.Inc()
}

func IncreasePollRequestsMetric() {
	pollRequestsTotalMetric.Inc()
}

// UpdateJobStatusMetric marks status as the current one and resets the rest.
func UpdateJobStatusMetric(status string) {
	jobStatusMetric.Reset()
	jobStatusMetric.With(prometheus.Labels{statusLabel: status}).Set(1)
}

func IncreaseResultsMetric(outcome string) {
	resultsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreaseBackupsMetric(state string) {
	backupsTotalMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

// WriteTextfile dumps the default registry in the text exposition format,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(tasksBuiltTotalMetric)
	prometheus.MustRegister(tasksSkippedTotalMetric)
	prometheus.MustRegister(pollRequestsTotalMetric)
	prometheus.MustRegister(jobStatusMetric)
	prometheus.MustRegister(resultsTotalMetric)
	prometheus.MustRegister(backupsTotalMetric)
}
