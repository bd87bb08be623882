// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation modes.
const (
	ModeStream = "stream"
	ModeBatch  = "batch"
)

// Invocation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeExitNonZero = "exit_nonzero"
	OutcomeStartFailed = "start_failed"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
)

var (
	AssistantInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmad_assistant_invocations_total",
			Help: "Total number of assistant processes run, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	AssistantInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bmad_assistant_invocation_duration_seconds",
			Help:    "Wall time of assistant processes from start to reap",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	AssistantProcessesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bmad_assistant_processes_active",
			Help: "Number of assistant processes currently running",
		},
		[]string{"mode"},
	)

	StageOutputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmad_stage_outputs_total",
			Help: "Stage results by stage and output kind (structured or raw)",
		},
		[]string{"stage", "kind"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
