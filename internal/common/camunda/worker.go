// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"bmad-gateway/internal/common/config"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler reports failures itself; the returned error is only logged.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) error
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// WorkerOptions are the per-task-type settings of a job worker.
type WorkerOptions struct {
	TaskType      string
	Name          string
	MaxJobsActive int
	Timeout       time.Duration
}

func NewWorker(client zbc.Client, opts WorkerOptions, handler JobHandler, log logger.Logger) *CamundaWorker {
	log = log.With(map[string]interface{}{"taskType": opts.TaskType})

	builder := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(func(client worker.JobClient, job entities.Job) {
			if err := handler.Handle(client, job); err != nil {
				log.Error("handler returned error", map[string]interface{}{
					"error":  err,
					"jobKey": job.Key,
				})
			}
		}).
		MaxJobsActive(opts.MaxJobsActive)

	if opts.Name != "" {
		builder = builder.Name(opts.Name)
	}
	if opts.Timeout > 0 {
		builder = builder.Timeout(opts.Timeout)
	}

	return &CamundaWorker{
		worker:   builder.Open(),
		logger:   log,
		taskType: opts.TaskType,
	}
}

func (w *CamundaWorker) TaskType() string {
	return w.taskType
}

// Stop closes the job worker and waits for in-flight handlers. The shared
// client stays open.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

// WorkerOptionsFor resolves the options for one stage from the workers.*
// config section, using the camunda defaults when it is absent.
func WorkerOptionsFor(cfg *config.Config, stage registry.Stage) WorkerOptions {
	wcfg := config.GetWorkerConfig(cfg, stage.TaskType)

	opts := WorkerOptions{
		TaskType:      stage.TaskType,
		Name:          cfg.App.Name,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
	}
	if opts.MaxJobsActive <= 0 {
		opts.MaxJobsActive = cfg.Camunda.MaxJobsActive
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.GetDuration(cfg.Camunda.Timeout)
	}
	return opts
}

// StartStageWorkers opens one worker per enabled stage that has a task type.
func StartStageWorkers(client zbc.Client, cfg *config.Config, stages *registry.StageRegistry, handler JobHandler, log logger.Logger) []*CamundaWorker {
	var workers []*CamundaWorker
	for _, stage := range stages.Stages {
		if stage.TaskType == "" {
			continue
		}
		if !config.IsWorkerEnabled(cfg, stage.TaskType) {
			log.Info("stage worker disabled", map[string]interface{}{"taskType": stage.TaskType})
			continue
		}

		opts := WorkerOptionsFor(cfg, stage)
		workers = append(workers, NewWorker(client, opts, handler, log))
		log.Info("stage worker started", map[string]interface{}{
			"taskType":      opts.TaskType,
			"maxJobsActive": opts.MaxJobsActive,
			"timeoutMs":     opts.Timeout.Milliseconds(),
		})
	}
	return workers
}
