package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/logger"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func TestLoggingWritesOneLinePerRequest(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf, Format: "json", Level: "debug"})
	h := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "request.complete", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.EqualValues(t, http.StatusCreated, lines[0]["status"])
	assert.EqualValues(t, 5, lines[0]["bytes"])
	assert.Equal(t, "/api/v1/orders", lines[0]["path"])
}

func TestLoggingLevels(t *testing.T) {
	cases := []struct {
		path   string
		status int
		level  string
	}{
		{path: "/health/live", status: http.StatusOK, level: "debug"},
		{path: "/metrics", status: http.StatusOK, level: "debug"},
		{path: "/api/v1/orders", status: http.StatusServiceUnavailable, level: "error"},
		{path: "/api/v1/orders", status: http.StatusNotFound, level: "info"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logg := logger.New(logger.Options{ServiceName: "test", Output: &buf, Format: "json", Level: "debug"})
		h := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

		lines := logLines(t, &buf)
		require.Len(t, lines, 1, tc.path)
		assert.Equal(t, tc.level, lines[0]["level"], "%s %d", tc.path, tc.status)
	}
}

func TestLoggingKeepsFlusher(t *testing.T) {
	var flushed bool
	h := Logging(logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/board/events", nil))
	assert.True(t, flushed)
}
