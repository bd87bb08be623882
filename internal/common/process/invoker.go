// Package process runs the external assistant tool. It is the only place
// that builds, starts, feeds, drains, time-bounds and reaps those processes.
package process

import (
	"context"
	"os/exec"
	"time"

	"bmad-gateway/internal/common/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "bmad-gateway/process"

// DefaultWaitDelay bounds how long Wait keeps draining pipes after the
// process is gone, in case a grandchild still holds them.
const DefaultWaitDelay = 2 * time.Second

// Logger is the subset of logger.Logger the invoker needs.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Invocation describes one run of the tool. Binary comes from the Invoker.
type Invocation struct {
	Args []string
	// Stdin is written in full and then closed. Ignored by Stream, whose
	// child gets an empty stdin.
	Stdin string
	// Timeout bounds the whole run; zero means unbounded.
	Timeout time.Duration
	// IdleTimeout bounds the wait for each streamed line; zero means unbounded.
	IdleTimeout time.Duration
}

// Invoker spawns the configured binary.
type Invoker struct {
	binary    string
	dir       string
	waitDelay time.Duration
	tracer    trace.Tracer
	logger    Logger
}

type Option func(*Invoker)

// WithDir sets the working directory of spawned processes.
func WithDir(dir string) Option {
	return func(i *Invoker) { i.dir = dir }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Invoker) { i.tracer = tp.Tracer(tracerName) }
}

func WithLogger(l Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

func WithWaitDelay(d time.Duration) Option {
	return func(i *Invoker) { i.waitDelay = d }
}

func NewInvoker(binary string, opts ...Option) *Invoker {
	i := &Invoker{
		binary:    binary,
		waitDelay: DefaultWaitDelay,
		tracer:    otel.Tracer(tracerName),
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Binary returns the program name used in error messages.
func (i *Invoker) Binary() string {
	return i.binary
}

func (i *Invoker) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, i.binary, args...)
	cmd.Dir = i.dir
	cmd.WaitDelay = i.waitDelay
	setProcessGroup(cmd)
	return cmd
}

func (i *Invoker) startSpan(ctx context.Context, name, mode string, inv Invocation) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("assistant.binary", i.binary),
		attribute.String("assistant.mode", mode),
		attribute.Int("assistant.args", len(inv.Args)),
		attribute.Int("assistant.stdin_bytes", len(inv.Stdin)),
	))
}

func finishSpan(span trace.Span, exitCode int, outcome string, err error) {
	span.SetAttributes(
		attribute.Int("assistant.exit_code", exitCode),
		attribute.String("assistant.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if outcome != metrics.OutcomeOK {
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

func observe(mode, outcome string, started time.Time) {
	metrics.AssistantInvocations.WithLabelValues(mode, outcome).Inc()
	if !started.IsZero() {
		metrics.AssistantInvocationDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}
}

// exitCodeOf reports -1 when the process never ran or was killed by a signal.
func exitCodeOf(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Warn(string, map[string]interface{})  {}
