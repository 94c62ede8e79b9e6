package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope for successful API responses
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse is the envelope for failed API responses
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo echoes the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// Routes served by the API, used for not-found suggestions
var knownRoutes = []string{
	"/health",
	"/metrics",
	"/ws",
	"/api/v1/devices",
	"/api/v1/devices/:uuid",
	"/api/v1/devices/:uuid/value",
	"/api/v1/devices/:uuid/state",
	"/api/v1/devices/:uuid/history",
	"/api/v1/values/resolve",
	"/api/v1/statistics/changes",
	"/api/v1/statistics/cache",
	"/api/v1/statistics/sensors",
	"/api/v1/statistics/websocket",
	"/api/v1/cache",
}

const maxSuggestions = 5

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// SendSuccess writes a 200 response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: timestamp(),
	})
}

// SendSuccessWithMeta writes a 200 response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: timestamp(),
	})
}

// SendError writes an error response. Unknown routes get suggestions.
func SendError(c *gin.Context, statusCode int, message string) {
	SendErrorWithDetails(c, statusCode, message, nil)
}

// SendErrorWithDetails writes an error response carrying details
func SendErrorWithDetails(c *gin.Context, statusCode int, message string, details interface{}) {
	resp := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: timestamp(),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	}

	// Only unmatched routes have an empty FullPath
	if details == nil && statusCode == http.StatusNotFound && c.FullPath() == "" {
		if suggestions := SuggestRoutes(c.Request.URL.Path); len(suggestions) > 0 {
			resp.Details = map[string]interface{}{
				"suggestions": suggestions,
			}
		}
	}

	c.AbortWithStatusJSON(statusCode, resp)
}

// SuggestRoutes returns known routes sharing a path segment with path
func SuggestRoutes(path string) []string {
	var segments []string
	for _, s := range strings.Split(strings.ToLower(path), "/") {
		if s != "" && s != "api" && s != "v1" {
			segments = append(segments, s)
		}
	}

	var suggestions []string
	for _, route := range knownRoutes {
		for _, seg := range segments {
			if strings.Contains(route, seg) {
				suggestions = append(suggestions, route)
				break
			}
		}
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}
