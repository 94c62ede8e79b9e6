package logger

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 100

// Options configures the process logger
type Options struct {
	Level  string
	Format string // json or text
	Output string // stdout, stderr or file
	File   string
}

// EndpointStats aggregates successful requests for one route
type EndpointStats struct {
	Count      int           `json:"count"`
	TotalTime  time.Duration `json:"total_time"`
	MinLatency time.Duration `json:"min_latency"`
	MaxLatency time.Duration `json:"max_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// BatchLogger is a logrus.Logger that folds successful requests into
// periodic summaries instead of logging each one
type BatchLogger struct {
	*logrus.Logger
	mu        sync.Mutex
	endpoints map[string]*EndpointStats
	pending   int
	batchSize int
}

// New creates a logger from options. An unopenable log file falls back to
// stdout with a warning.
func New(opts Options) *BatchLogger {
	log := logrus.New()

	if strings.EqualFold(opts.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	out, fileErr := output(opts)
	log.SetOutput(out)
	if fileErr != nil {
		log.WithError(fileErr).WithField("file", opts.File).Warn("Failed to open log file, using stdout")
	}

	return &BatchLogger{
		Logger:    log,
		endpoints: make(map[string]*EndpointStats),
		batchSize: defaultBatchSize,
	}
}

func output(opts Options) (io.Writer, error) {
	switch strings.ToLower(opts.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stdout, err
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

// SetBatchSize sets how many successful requests make up one summary
func (bl *BatchLogger) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	bl.mu.Lock()
	bl.batchSize = n
	bl.mu.Unlock()
}

// LogRequest logs a request. 2xx responses are batched; everything else
// is logged immediately.
func (bl *BatchLogger) LogRequest(method, endpoint string, statusCode int, latency time.Duration, fields logrus.Fields) {
	if statusCode >= 200 && statusCode < 300 {
		bl.batchSuccess(method+" "+endpoint, latency)
		return
	}

	entry := bl.WithFields(fields).WithFields(logrus.Fields{
		"method":  method,
		"path":    endpoint,
		"status":  statusCode,
		"latency": latency.String(),
	})
	switch {
	case statusCode >= 500:
		entry.Error("Request failed")
	case statusCode >= 400:
		entry.Warn("Request rejected")
	default:
		entry.Info("Request")
	}
}

func (bl *BatchLogger) batchSuccess(key string, latency time.Duration) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	stats, ok := bl.endpoints[key]
	if !ok {
		stats = &EndpointStats{MinLatency: latency, MaxLatency: latency}
		bl.endpoints[key] = stats
	}
	stats.Count++
	stats.TotalTime += latency
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	stats.AvgLatency = stats.TotalTime / time.Duration(stats.Count)

	bl.pending++
	if bl.pending >= bl.batchSize {
		bl.flushLocked()
	}
}

func (bl *BatchLogger) flushLocked() {
	if bl.pending == 0 {
		return
	}

	keys := make([]string, 0, len(bl.endpoints))
	for k := range bl.endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	endpoints := make(map[string]EndpointStats, len(keys))
	for _, k := range keys {
		endpoints[k] = *bl.endpoints[k]
	}

	bl.WithFields(logrus.Fields{
		"total_requests": bl.pending,
		"endpoints":      endpoints,
	}).Info("Request batch summary")

	bl.endpoints = make(map[string]*EndpointStats)
	bl.pending = 0
}

// Pending returns the number of successful requests not yet summarized
func (bl *BatchLogger) Pending() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.pending
}

// FlushPending writes a summary of any batched requests
func (bl *BatchLogger) FlushPending() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.flushLocked()
}
