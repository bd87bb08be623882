package process

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func createTestInvoker(t *testing.T, opts ...Option) *Invoker {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	opts = append([]Option{WithLogger(logger.NewTestLogger(t))}, opts...)
	return NewInvoker("/bin/sh", opts...)
}

func shell(script string) []string {
	return []string{"-c", script}
}

func drain(s *Stream) []string {
	var lines []string
	for s.Next() {
		lines = append(lines, s.Line())
	}
	return lines
}

func TestStream_MergesOutputInOrder(t *testing.T) {
	inv := createTestInvoker(t)

	s, err := inv.Stream(context.Background(), Invocation{
		Args: shell(`printf 'one\n'; printf 'two\n' >&2; printf 'three\n'; printf 'tail'`),
	})
	require.NoError(t, err)

	lines := drain(s)
	code, closeErr := s.Close()

	assert.Equal(t, []string{"one\n", "two\n", "three\n", "tail"}, lines)
	assert.NoError(t, s.Err())
	assert.NoError(t, closeErr)
	assert.Equal(t, 0, code)
	assert.True(t, s.Exited())
}

func TestStream_ReportsExitCode(t *testing.T) {
	inv := createTestInvoker(t)
	before := testutil.ToFloat64(metrics.AssistantInvocations.WithLabelValues(metrics.ModeStream, metrics.OutcomeExitNonZero))

	s, err := inv.Stream(context.Background(), Invocation{Args: shell(`echo partial; exit 3`)})
	require.NoError(t, err)

	assert.Equal(t, []string{"partial\n"}, drain(s))
	code, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	after := testutil.ToFloat64(metrics.AssistantInvocations.WithLabelValues(metrics.ModeStream, metrics.OutcomeExitNonZero))
	assert.Equal(t, before+1, after)
}

func TestStream_CancelKillsAndReaps(t *testing.T) {
	inv := createTestInvoker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := inv.Stream(ctx, Invocation{Args: shell(`echo ready; sleep 30`)})
	require.NoError(t, err)

	require.True(t, s.Next())
	assert.Equal(t, "ready\n", s.Line())

	cancel()
	start := time.Now()
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)

	code, _ := s.Close()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, -1, code)
	assert.True(t, s.Exited())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeStream)))
}

func TestStream_CloseBeforeEOFKills(t *testing.T) {
	inv := createTestInvoker(t)

	s, err := inv.Stream(context.Background(), Invocation{Args: shell(`echo first; sleep 30; echo never`)})
	require.NoError(t, err)
	require.True(t, s.Next())

	start := time.Now()
	code, _ := s.Close()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, -1, code)

	// Close is idempotent.
	again, _ := s.Close()
	assert.Equal(t, code, again)
	assert.False(t, s.Next())
}

func TestStream_IdleTimeout(t *testing.T) {
	inv := createTestInvoker(t)

	s, err := inv.Stream(context.Background(), Invocation{
		Args:        shell(`echo a; sleep 30`),
		IdleTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"a\n"}, drain(s))
	assert.ErrorIs(t, s.Err(), ErrIdleTimeout)
}

func TestStream_TotalTimeout(t *testing.T) {
	inv := createTestInvoker(t)

	s, err := inv.Stream(context.Background(), Invocation{
		Args:    shell(`sleep 30`),
		Timeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, drain(s))
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(s.Err(), &stdErr))
	assert.Equal(t, apperrors.ErrCodeAssistantTimeout, stdErr.Code)
}

func TestStream_StartFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	inv := NewInvoker("/nonexistent/assistant-tool")

	s, err := inv.Stream(context.Background(), Invocation{Args: []string{"-p", "hi"}})
	assert.Nil(t, s)

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeAssistantStartFailed, stdErr.Code)
}

func TestRun_FeedsStdin(t *testing.T) {
	inv := createTestInvoker(t)

	res, err := inv.Run(context.Background(), Invocation{Args: shell(`cat`), Stdin: "Hello world!"})
	require.NoError(t, err)

	assert.Equal(t, "Hello world!", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonZeroExitIsAResult(t *testing.T) {
	inv := createTestInvoker(t)

	res, err := inv.Run(context.Background(), Invocation{Args: shell(`echo out; echo boom >&2; exit 1`)})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestRun_IgnoresUnreadStdin(t *testing.T) {
	inv := createTestInvoker(t)

	res, err := inv.Run(context.Background(), Invocation{
		Args:  shell(`echo done`),
		Stdin: strings.Repeat("x", 1<<20),
	})
	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Stdout)
}

func TestRun_Timeout(t *testing.T) {
	inv := createTestInvoker(t)

	start := time.Now()
	res, err := inv.Run(context.Background(), Invocation{Args: shell(`sleep 30`), Timeout: 300 * time.Millisecond})
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 10*time.Second)

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeAssistantTimeout, stdErr.Code)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeBatch)))
}

func TestRun_CallerCancel(t *testing.T) {
	inv := createTestInvoker(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := inv.Run(ctx, Invocation{Args: shell(`sleep 30`), Timeout: time.Minute})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	inv := createTestInvoker(t, WithTracerProvider(tp))

	_, err := inv.Run(context.Background(), Invocation{Args: shell(`exit 2`)})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "assistant.run", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("assistant.exit_code", 2))
	assert.Contains(t, spans[0].Attributes(), attribute.String("assistant.mode", metrics.ModeBatch))
}
