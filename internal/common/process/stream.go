package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/metrics"

	"go.opentelemetry.io/otel/trace"
)

// exitGrace is how long Close waits for a process that already closed its
// output before killing it.
const exitGrace = 2 * time.Second

// ErrIdleTimeout is reported by Stream.Err when no line arrived within the
// invocation's IdleTimeout.
var ErrIdleTimeout = errors.New("assistant produced no output within the idle timeout")

// Stream is a running tool whose merged stdout and stderr are read line by
// line. Close must always be called; it is safe to call more than once.
type Stream struct {
	invoker *Invoker
	inv     Invocation
	cmd     *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	started time.Time

	read   *os.File
	reader *bufio.Reader

	line        string
	err         error
	eof         bool
	finished    bool
	idleExpired atomic.Bool
	reaped      atomic.Bool

	readOnce  sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	exitCode  int
	closeErr  error
}

// Stream starts the tool with stdin empty and stdout and stderr sharing a
// single pipe, so lines interleave in the order the tool wrote them.
// Cancelling ctx kills the process and unblocks any pending Next.
func (i *Invoker) Stream(ctx context.Context, inv Invocation) (*Stream, error) {
	ctx, span := i.startSpan(ctx, "assistant.stream", metrics.ModeStream, inv)

	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		wrapped := apperrors.NewAssistantStartFailedError(i.binary, err)
		observe(metrics.ModeStream, metrics.OutcomeStartFailed, time.Time{})
		finishSpan(span, -1, metrics.OutcomeStartFailed, wrapped)
		return nil, wrapped
	}

	cmd := i.command(ctx, inv.Args)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		_ = pr.Close()
		_ = pw.Close()
		wrapped := apperrors.NewAssistantStartFailedError(i.binary, err)
		observe(metrics.ModeStream, metrics.OutcomeStartFailed, time.Time{})
		finishSpan(span, -1, metrics.OutcomeStartFailed, wrapped)
		return nil, wrapped
	}
	// Only the child keeps the write end, so EOF means it closed its output.
	_ = pw.Close()

	metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeStream).Inc()
	i.logger.Debug("assistant stream started", map[string]interface{}{
		"binary": i.binary,
		"pid":    cmd.Process.Pid,
	})

	s := &Stream{
		invoker: i,
		inv:     inv,
		cmd:     cmd,
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		started: time.Now(),
		read:    pr,
		reader:  bufio.NewReader(pr),
		closed:  make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			s.closeRead()
		case <-s.closed:
		}
	}()

	return s, nil
}

// Next reads the next line. It returns false at end of output or on error;
// see Err.
func (s *Stream) Next() bool {
	if s.finished {
		return false
	}

	var timer *time.Timer
	if s.inv.IdleTimeout > 0 {
		timer = time.AfterFunc(s.inv.IdleTimeout, func() {
			s.idleExpired.Store(true)
			s.cancel()
		})
	}
	line, err := s.reader.ReadString('\n')
	if timer != nil {
		timer.Stop()
	}

	if err != nil {
		s.finished = true
		s.err = s.readError(err)
		s.eof = s.err == nil
		if line == "" {
			return false
		}
	}
	s.line = line
	return true
}

// Line returns the line read by the last successful Next, newline included
// when the tool wrote one.
func (s *Stream) Line() string {
	return s.line
}

// Err returns nil at a clean end of output. Otherwise it is the context
// error, ErrIdleTimeout, an ASSISTANT_TIMEOUT error or a read failure.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) readError(err error) error {
	if s.idleExpired.Load() {
		return ErrIdleTimeout
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && s.inv.Timeout > 0 {
			return apperrors.NewAssistantTimeoutError(s.invoker.binary, s.inv.Timeout, ctxErr)
		}
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Stream) closeRead() {
	s.readOnce.Do(func() { _ = s.read.Close() })
}

// Close releases the read end, kills the process if it is still running and
// reaps it. It returns the exit code, -1 when the process was killed.
func (s *Stream) Close() (int, error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeRead()

		waitCh := make(chan error, 1)
		go func() { waitCh <- s.cmd.Wait() }()

		var waitErr error
		if s.eof {
			select {
			case waitErr = <-waitCh:
			case <-time.After(exitGrace):
				s.cancel()
				waitErr = <-waitCh
			}
		} else {
			s.cancel()
			waitErr = <-waitCh
		}
		s.cancel()

		metrics.AssistantProcessesActive.WithLabelValues(metrics.ModeStream).Dec()

		s.exitCode = exitCodeOf(s.cmd)
		s.reaped.Store(true)
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			s.closeErr = waitErr
		}

		outcome := s.outcome()
		observe(metrics.ModeStream, outcome, s.started)
		finishSpan(s.span, s.exitCode, outcome, s.closeErr)

		s.invoker.logger.Debug("assistant stream reaped", map[string]interface{}{
			"binary":     s.invoker.binary,
			"exitCode":   s.exitCode,
			"outcome":    outcome,
			"durationMs": time.Since(s.started).Milliseconds(),
		})
	})
	return s.exitCode, s.closeErr
}

// Exited reports whether Close has reaped the process.
func (s *Stream) Exited() bool {
	return s.reaped.Load()
}

func (s *Stream) outcome() string {
	var stdErr *apperrors.StandardError
	switch {
	case errors.As(s.err, &stdErr) || errors.Is(s.err, ErrIdleTimeout):
		return metrics.OutcomeTimeout
	case !s.eof:
		return metrics.OutcomeCancelled
	case s.exitCode != 0:
		return metrics.OutcomeExitNonZero
	default:
		return metrics.OutcomeOK
	}
}
