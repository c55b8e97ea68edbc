package handlers

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/acadex/attempt-service/internal/utils"
)

func captureLogger(buf *bytes.Buffer) utils.Logger {
	return utils.NewSlogLogger(slog.New(slog.NewJSONHandler(buf, nil)))
}

func testContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/v1/attempts/start", nil)
	c.Request.Header.Set("X-Request-ID", "req-123")
	return c
}

func TestRequestLogger_UsesContextBoundLogger(t *testing.T) {
	var buf bytes.Buffer
	c := testContext(t)
	utils.ContextLogger(captureLogger(&buf))(c)

	h := NewBaseHandler(captureLogger(&bytes.Buffer{}))
	h.LogRequest(c, "Starting attempt")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"path":"/api/v1/attempts/start"`)
	assert.Contains(t, out, "Starting attempt")
}

func TestRequestLogger_FallsBackWithoutMiddleware(t *testing.T) {
	var buf bytes.Buffer
	c := testContext(t)

	h := NewBaseHandler(captureLogger(&buf))
	h.LogWarn(c, "no context logger")

	assert.Contains(t, buf.String(), "no context logger")
}
