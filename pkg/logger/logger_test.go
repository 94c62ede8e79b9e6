package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T) (*BatchLogger, *bytes.Buffer) {
	t.Helper()
	bl := New(Options{Level: "debug", Format: "json"})
	var buf bytes.Buffer
	bl.SetOutput(&buf)
	return bl, &buf
}

func TestNew_ParsesLevelAndFormat(t *testing.T) {
	bl := New(Options{Level: "warn", Format: "text"})
	assert.Equal(t, logrus.WarnLevel, bl.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, bl.Formatter)

	bl = New(Options{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, bl.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, bl.Formatter)
}

func TestLogRequest_BatchesSuccess(t *testing.T) {
	bl, buf := newBuffered(t)
	bl.SetBatchSize(3)

	bl.LogRequest("GET", "/api/v1/devices", 200, 2*time.Millisecond, nil)
	bl.LogRequest("GET", "/api/v1/devices", 200, 4*time.Millisecond, nil)
	assert.Equal(t, 2, bl.Pending())
	assert.Zero(t, buf.Len())

	bl.LogRequest("POST", "/api/v1/values/resolve", 200, time.Millisecond, nil)
	assert.Equal(t, 0, bl.Pending())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Request batch summary", line["msg"])
	assert.EqualValues(t, 3, line["total_requests"])
}

func TestLogRequest_ErrorsLoggedImmediately(t *testing.T) {
	bl, buf := newBuffered(t)

	bl.LogRequest("GET", "/api/v1/devices/:uuid", 404, time.Millisecond, logrus.Fields{"client_ip": "127.0.0.1"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.EqualValues(t, 404, line["status"])
	assert.Equal(t, "127.0.0.1", line["client_ip"])
	assert.Equal(t, 0, bl.Pending())
}

func TestFlushPending_NoopWhenEmpty(t *testing.T) {
	bl, buf := newBuffered(t)
	bl.FlushPending()
	assert.Zero(t, buf.Len())
}
