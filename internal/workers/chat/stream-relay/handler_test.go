package streamrelay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type recordingStreamer struct {
	inner   Streamer
	mu      sync.Mutex
	calls   int
	streams []*process.Stream
}

func (r *recordingStreamer) Stream(ctx context.Context, inv process.Invocation) (*process.Stream, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	s, err := r.inner.Stream(ctx, inv)
	if s != nil {
		r.mu.Lock()
		r.streams = append(r.streams, s)
		r.mu.Unlock()
	}
	return s, err
}

func (r *recordingStreamer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingStreamer) Last() *process.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

// createTestHandler runs script under /bin/sh; the prompt arrives as $0.
func createTestHandler(t *testing.T, script string) (*Handler, *recordingStreamer) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	streamer := &recordingStreamer{inner: process.NewInvoker("/bin/sh")}
	cfg := &Config{Args: []string{"-c", script}, MaxBodyBytes: defaultMaxBodyBytes}
	return NewHandler(cfg, streamer, logger.NewTestLogger(t)), streamer
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, Route, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorBody {
	t.Helper()
	var body apperrors.HTTPErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ==========================
// Validation Tests
// ==========================

func TestHandler_RejectsEmptyPromptWithoutSpawning(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{}`},
		{"empty prompt", `{"prompt": ""}`},
		{"whitespace prompt", `{"prompt": "  \n\t "}`},
		{"null prompt", `{"prompt": null}`},
		{"null body", `null`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, streamer := createTestHandler(t, `echo should-not-run`)

			rec := post(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, "prompt required", body.Detail)
			assert.Equal(t, apperrors.ErrCodePromptRequired, body.Code)
			assert.Zero(t, streamer.Calls())
		})
	}
}

func TestHandler_RejectsMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-string prompt", `{"prompt": 7}`},
		{"array body", `["hi"]`},
		{"malformed json", `{"prompt": "hi"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, streamer := createTestHandler(t, `echo should-not-run`)

			rec := post(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apperrors.ErrCodeInvalidRequest, decodeError(t, rec).Code)
			assert.Zero(t, streamer.Calls())
		})
	}
}

// ==========================
// Streaming Tests
// ==========================

func TestHandler_StreamsMergedOutputInOrder(t *testing.T) {
	h, streamer := createTestHandler(t, `printf 'line1\n'; printf 'warn\n' >&2; printf 'prompt=%s\n' "$0"; printf 'last'`)

	rec := post(h, `{"prompt": "  hello world  ", "extra": true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "line1\nwarn\nprompt=hello world\nlast", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, 1, streamer.Calls())
	require.NotNil(t, streamer.Last())
	assert.True(t, streamer.Last().Exited())
}

func TestHandler_NonZeroExitStillStreams(t *testing.T) {
	h, _ := createTestHandler(t, `echo "gemini: quota exceeded" >&2; exit 1`)

	rec := post(h, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gemini: quota exceeded\n", rec.Body.String())
}

func TestHandler_StartFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	streamer := &recordingStreamer{inner: process.NewInvoker("/nonexistent/gemini")}
	h := NewHandler(&Config{Args: []string{"-p"}, MaxBodyBytes: defaultMaxBodyBytes}, streamer, logger.NewTestLogger(t))

	rec := post(h, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.ErrCodeAssistantStartFailed, decodeError(t, rec).Code)
	assert.Equal(t, 1, streamer.Calls())
}

func TestHandler_ClientDisconnectReapsProcess(t *testing.T) {
	h, streamer := createTestHandler(t, `echo started; sleep 30; echo never`)

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+Route, strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "started\n", line)

	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
	require.NotNil(t, streamer.Last())
	assert.True(t, streamer.Last().Exited())
}

func TestHandler_IdleTimeoutEndsStream(t *testing.T) {
	h, streamer := createTestHandler(t, `echo first; sleep 30`)
	h.config.IdleTimeout = 300 * time.Millisecond

	rec := post(h, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first\n", rec.Body.String())
	assert.True(t, streamer.Last().Exited())
	assert.ErrorIs(t, streamer.Last().Err(), process.ErrIdleTimeout)
}

type panickingWriter struct {
	*httptest.ResponseRecorder
}

func (w panickingWriter) Write(p []byte) (int, error) {
	panic("writer exploded")
}

func (w panickingWriter) WriteString(s string) (int, error) {
	panic("writer exploded")
}

func TestHandler_PanicInWriterStillReapsProcess(t *testing.T) {
	h, streamer := createTestHandler(t, `echo first; sleep 30`)
	req := httptest.NewRequest(http.MethodPost, Route, strings.NewReader(`{"prompt": "hi"}`))
	w := panickingWriter{httptest.NewRecorder()}

	started := time.Now()
	assert.PanicsWithValue(t, "writer exploded", func() { h.ServeHTTP(w, req) })

	require.NotNil(t, streamer.Last())
	assert.True(t, streamer.Last().Exited())
	assert.Less(t, time.Since(started), 10*time.Second)
}
