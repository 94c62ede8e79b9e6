package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSendError_SuggestsRoutesForUnknownPaths(t *testing.T) {
	router := gin.New()
	router.NoRoute(func(c *gin.Context) {
		SendError(c, http.StatusNotFound, "Endpoint not found")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/statistic", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "/api/v1/statistic", resp.Request.Path)

	details, ok := resp.Details.(map[string]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]interface{}{"/api/v1/statistics/changes", "/api/v1/statistics/cache",
			"/api/v1/statistics/sensors", "/api/v1/statistics/websocket"},
		details["suggestions"])
}

func TestSendError_NoSuggestionsOnMatchedRoute(t *testing.T) {
	router := gin.New()
	router.GET("/api/v1/devices/:uuid", func(c *gin.Context) {
		SendError(c, http.StatusNotFound, "Device not found")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/X", nil))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Nil(t, resp.Details)
}

func TestSendSuccessWithMeta(t *testing.T) {
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		SendSuccessWithMeta(c, []int{1, 2}, gin.H{"count": 2})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[1,2]`, mustField(t, w.Body.Bytes(), "data"))
	assert.JSONEq(t, `{"count":2}`, mustField(t, w.Body.Bytes(), "meta"))
}

func mustField(t *testing.T, body []byte, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[key])
}
