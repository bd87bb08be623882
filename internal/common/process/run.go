package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/metrics"
)

// Result of a batch run that reached process exit, whatever the exit code.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Run writes inv.Stdin to the tool, closes it, and collects stdout and stderr
// separately until exit. A non-zero exit is not an error here; callers
// inspect ExitCode. Reaching inv.Timeout kills the process and returns an
// ASSISTANT_TIMEOUT error. A cancelled ctx returns ctx.Err().
func (i *Invoker) Run(ctx context.Context, inv Invocation) (*Result, error) {
	ctx, span := i.startSpan(ctx, "assistant.run", metrics.ModeBatch, inv)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := i.command(runCtx, inv.Args)
	cmd.Stdin = strings.NewReader(inv.Stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		wrapped := apperrors.NewAssistantStartFailedError(i.binary, err)
		observe(metrics.ModeBatch, metrics.OutcomeStartFailed, time.Time{})
		finishSpan(span, -1, metrics.OutcomeStartFailed, wrapped)
		return nil, wrapped
	}

	metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeBatch).Inc()
	waitErr := cmd.Wait()
	metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeBatch).Dec()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCodeOf(cmd),
		Duration: time.Since(started),
	}

	fields := map[string]interface{}{
		"binary":     i.binary,
		"exitCode":   result.ExitCode,
		"durationMs": result.Duration.Milliseconds(),
		"stdinBytes": len(inv.Stdin),
	}

	switch {
	case ctx.Err() != nil:
		observe(metrics.ModeBatch, metrics.OutcomeCancelled, started)
		finishSpan(span, result.ExitCode, metrics.OutcomeCancelled, ctx.Err())
		i.logger.Warn("assistant run cancelled", fields)
		return nil, ctx.Err()

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		timeoutErr := apperrors.NewAssistantTimeoutError(i.binary, inv.Timeout, runCtx.Err())
		observe(metrics.ModeBatch, metrics.OutcomeTimeout, started)
		finishSpan(span, result.ExitCode, metrics.OutcomeTimeout, timeoutErr)
		i.logger.Warn("assistant run timed out", fields)
		return nil, timeoutErr
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		internal := apperrors.NewInternalError(waitErr)
		observe(metrics.ModeBatch, metrics.OutcomeCancelled, started)
		finishSpan(span, result.ExitCode, metrics.OutcomeCancelled, internal)
		return nil, internal
	}

	outcome := metrics.OutcomeOK
	if result.ExitCode != 0 {
		outcome = metrics.OutcomeExitNonZero
	}
	observe(metrics.ModeBatch, outcome, started)
	finishSpan(span, result.ExitCode, outcome, nil)
	i.logger.Debug("assistant run finished", fields)

	return result, nil
}
