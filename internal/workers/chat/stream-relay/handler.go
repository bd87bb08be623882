package streamrelay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/process"
	"bmad-gateway/internal/common/validation"

	"github.com/go-chi/chi/v5/middleware"
)

const Route = "/chat/stream"

// Streamer starts a streaming invocation; *process.Invoker implements it.
type Streamer interface {
	Stream(ctx context.Context, inv process.Invocation) (*process.Stream, error)
}

type Handler struct {
	config  *Config
	invoker Streamer
	logger  logger.Logger
}

func NewHandler(config *Config, invoker Streamer, log logger.Logger) *Handler {
	return &Handler{
		config:  config,
		invoker: invoker,
		logger:  log.With(map[string]interface{}{"route": Route}),
	}
}

// ServeHTTP relays the assistant's merged output line by line, flushing
// after each one. The process is reaped before ServeHTTP returns.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	log := h.logger.With(map[string]interface{}{"requestId": requestID})

	input, err := h.decode(w, r)
	if err != nil {
		apperrors.WriteHTTPError(w, err, requestID)
		return
	}

	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		apperrors.WriteHTTPError(w, apperrors.NewPromptRequiredError(), requestID)
		return
	}

	args := make([]string, 0, len(h.config.Args)+1)
	args = append(args, h.config.Args...)
	args = append(args, prompt)

	stream, err := h.invoker.Stream(r.Context(), process.Invocation{
		Args:        args,
		Timeout:     h.config.Timeout,
		IdleTimeout: h.config.IdleTimeout,
	})
	if err != nil {
		log.Error("failed to start assistant", map[string]interface{}{"error": err})
		apperrors.WriteHTTPError(w, err, requestID)
		return
	}

	started := time.Now()
	var lines, bytesOut int
	var writeErr error
	defer func() {
		exitCode, closeErr := stream.Close()
		fields := map[string]interface{}{
			"promptLength": len(prompt),
			"lines":        lines,
			"bytes":        bytesOut,
			"exitCode":     exitCode,
			"durationMs":   time.Since(started).Milliseconds(),
		}
		switch {
		case writeErr != nil:
			fields["error"] = writeErr
			log.Warn("client went away during stream", fields)
		case stream.Err() != nil && !errors.Is(stream.Err(), context.Canceled):
			fields["error"] = stream.Err()
			log.Warn("stream ended early", fields)
		case closeErr != nil:
			fields["error"] = closeErr
			log.Error("failed to reap assistant", fields)
		default:
			log.Info("stream completed", fields)
		}
	}()

	lines, bytesOut, writeErr = h.relay(w, stream)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*Input, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		return nil, apperrors.NewInvalidRequestError(err.Error())
	}
	obj, err := validation.DecodeObject(body, inputSchema)
	if err != nil {
		return nil, apperrors.NewInvalidRequestError(err.Error())
	}
	return &Input{Prompt: validation.StringField(obj, "prompt")}, nil
}

func (h *Handler) relay(w http.ResponseWriter, stream *process.Stream) (int, int, error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	lines, written := 0, 0
	for stream.Next() {
		n, err := io.WriteString(w, stream.Line())
		written += n
		if err != nil {
			return lines, written, err
		}
		lines++
		if flusher != nil {
			flusher.Flush()
		}
	}
	return lines, written, nil
}
