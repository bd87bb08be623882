package templaterunner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/metrics"
	"bmad-gateway/internal/common/observability"
	"bmad-gateway/internal/common/process"
	"bmad-gateway/internal/common/validation"
	"bmad-gateway/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const StagesRoute = "/bmad/stages"

const jobReportTimeout = 10 * time.Second

// Runner runs a batch invocation; *process.Invoker implements it.
type Runner interface {
	Run(ctx context.Context, inv process.Invocation) (*process.Result, error)
	Binary() string
}

type Handler struct {
	config       *Config
	stages       *registry.StageRegistry
	invoker      Runner
	schemas      map[string]*validation.Schema
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
	jobTimeout   func(taskType string) time.Duration
	obs          *observability.Observability
}

func NewHandler(config *Config, stages *registry.StageRegistry, invoker Runner, log logger.Logger) (*Handler, error) {
	schemas := make(map[string]*validation.Schema, len(stages.Stages))
	for _, stage := range stages.Stages {
		doc := stage.InputSchema
		if doc == nil {
			doc = validation.StringFieldsSchema(stage.InputField)
		}
		schema, err := validation.CompileSchema(doc)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.ID, err)
		}
		schemas[stage.ID] = schema
	}

	return &Handler{
		config:       config,
		stages:       stages,
		invoker:      invoker,
		schemas:      schemas,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log.With(map[string]interface{}{"component": "template-runner"}),
		jobTimeout:   func(string) time.Duration { return 0 },
	}, nil
}

// WithJobTimeout sets the per-task-type deadline applied to stage jobs.
func (h *Handler) WithJobTimeout(fn func(taskType string) time.Duration) *Handler {
	h.jobTimeout = fn
	return h
}

// WithRetryBudget sets how often a failed or timed-out assistant call is
// retried for each task type before the job is thrown as a BPMN error.
func (h *Handler) WithRetryBudget(fn func(taskType string) int) *Handler {
	h.errorHandler.WithRetryBudget(fn)
	return h
}

// WithObservability records job counts and durations through OpenTelemetry.
func (h *Handler) WithObservability(obs *observability.Observability) *Handler {
	h.obs = obs
	return h
}

// Execute reads the stage template, substitutes input for every marker and
// runs the tool once with the result on stdin.
func (h *Handler) Execute(ctx context.Context, stage registry.Stage, input string) (StageOutput, error) {
	path := h.config.Pipeline.ResolveTemplate(stage.Template)
	tmpl, err := os.ReadFile(path)
	if err != nil {
		return StageOutput{}, apperrors.NewTemplateLoadFailedError(path, err)
	}

	merged := Render(string(tmpl), h.config.Marker, input)

	res, err := h.invoker.Run(ctx, process.Invocation{
		Args:    h.config.Args,
		Stdin:   merged,
		Timeout: h.config.Timeout,
	})
	if err != nil {
		return StageOutput{}, err
	}
	if res.ExitCode != 0 {
		return StageOutput{}, apperrors.NewAssistantFailedError(h.invoker.Binary(), res.ExitCode, res.Stderr)
	}

	out := ParseStageOutput(res.Stdout)
	metrics.StageOutputs.WithLabelValues(stage.ID, string(out.Kind)).Inc()
	if out.Kind == KindRaw {
		h.logger.Debug("stage output is not a JSON object", map[string]interface{}{
			"stage":  stage.ID,
			"reason": out.DecodeErr.Error(),
		})
	}
	return out, nil
}

// Render replaces every marker literally. The input is not rescanned.
func Render(template, marker, input string) string {
	return strings.ReplaceAll(template, marker, input)
}

// Register mounts one POST route per stage plus the stage listing.
func (h *Handler) Register(r chi.Router) {
	for _, stage := range h.stages.Stages {
		r.Post(stage.Path, h.ServeStage(stage))
	}
	r.Get(StagesRoute, h.ListStages)
}

func (h *Handler) ServeStage(stage registry.Stage) http.HandlerFunc {
	schema := h.schemas[stage.ID]

	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		log := h.logger.With(map[string]interface{}{
			"stage":     stage.ID,
			"requestId": requestID,
		})

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
		if err != nil {
			apperrors.WriteHTTPError(w, apperrors.NewInvalidRequestError(err.Error()), requestID)
			return
		}
		obj, err := validation.DecodeObject(body, schema)
		if err != nil {
			apperrors.WriteHTTPError(w, apperrors.NewInvalidRequestError(err.Error()), requestID)
			return
		}
		input := validation.StringField(obj, stage.InputField)

		started := time.Now()
		out, err := h.Execute(r.Context(), stage, input)
		if err != nil {
			stdErr := apperrors.Normalize(err)
			log.Error("stage failed", map[string]interface{}{
				"errorCode":   string(stdErr.Code),
				"details":     stdErr.Details,
				"inputLength": len(input),
				"durationMs":  time.Since(started).Milliseconds(),
			})
			apperrors.WriteHTTPError(w, stdErr, requestID)
			return
		}

		payload, err := out.Body()
		if err != nil {
			apperrors.WriteHTTPError(w, apperrors.NewInternalError(err), requestID)
			return
		}

		log.Info("stage completed", map[string]interface{}{
			"kind":        string(out.Kind),
			"inputLength": len(input),
			"durationMs":  time.Since(started).Milliseconds(),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}
}

func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"version": h.stages.Version,
		"stages":  h.stages.Stages,
	})
}

// ExecuteJob runs the stage bound to the job's type and returns the
// variables to complete the job with.
func (h *Handler) ExecuteJob(ctx context.Context, job entities.Job) (map[string]interface{}, error) {
	stage, ok := h.stages.ByTaskType(job.Type)
	if !ok {
		return nil, apperrors.NewStageNotFoundError(job.Type)
	}

	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("parse job variables: %v", err))
	}
	if res := h.schemas[stage.ID].Validate(vars); !res.Valid {
		return nil, apperrors.NewInvalidRequestError(res.Summary())
	}

	out, err := h.Execute(ctx, stage, validation.StringField(vars, stage.InputField))
	if err != nil {
		return nil, err
	}
	value, err := out.Value()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return map[string]interface{}{stage.OutputVariable(): value}, nil
}

// Handle processes one stage job: completes it with the stage output or
// hands the failure to the shared error handler.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	log := h.logger.With(map[string]interface{}{
		"jobKey":      job.Key,
		"taskType":    job.Type,
		"workflowKey": job.ProcessInstanceKey,
	})
	log.Info("processing job", nil)

	started := time.Now()
	ctx := context.Background()
	if timeout := h.jobTimeout(job.Type); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := h.ExecuteJob(ctx, job)

	// The job deadline may already be spent; reporting gets its own.
	sendCtx, cancelSend := context.WithTimeout(context.Background(), jobReportTimeout)
	defer cancelSend()

	if err != nil {
		stdErr := apperrors.Normalize(err)
		metrics.WorkerJobsFailed.WithLabelValues(job.Type, string(stdErr.Code)).Inc()
		h.obs.RecordJobProcessed(sendCtx, job.Type, "failed")
		h.obs.RecordJobDuration(sendCtx, job.Type, time.Since(started), "failed")
		h.errorHandler.HandleJobError(sendCtx, client, job, stdErr)
		return stdErr
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromMap(output)
	if err != nil {
		log.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return err
	}
	if _, err := cmd.Send(sendCtx); err != nil {
		log.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return err
	}

	metrics.WorkerJobsCompleted.WithLabelValues(job.Type).Inc()
	metrics.WorkerJobDuration.WithLabelValues(job.Type).Observe(time.Since(started).Seconds())
	h.obs.RecordJobProcessed(sendCtx, job.Type, "success")
	h.obs.RecordJobDuration(sendCtx, job.Type, time.Since(started), "success")
	log.Info("job completed", map[string]interface{}{"durationMs": time.Since(started).Milliseconds()})
	return nil
}
