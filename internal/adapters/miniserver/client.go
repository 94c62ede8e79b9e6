package miniserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 8
	maxBodySize        = 1 << 20
	structureMaxSize   = 32 << 20
)

// ErrFetchFailed is returned when no requested state could be fetched
var ErrFetchFailed = errors.New("miniserver fetch failed")

// StatusError is a non-200 response from the miniserver
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("miniserver returned status %d for %s", e.Code, e.Path)
}

// Client reads device states and the structure file over HTTP
type Client struct {
	baseURL        string
	username       string
	password       string
	maxConcurrency int
	httpClient     *http.Client
	logger         *logrus.Logger
}

// NewClient creates a miniserver client
func NewClient(cfg config.MiniserverConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Client{
		baseURL:        baseURL(cfg.Host, cfg.UseTLS),
		username:       cfg.Username,
		password:       cfg.Password,
		maxConcurrency: concurrency,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func baseURL(host string, useTLS bool) string {
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if useTLS {
		return "https://" + host
	}
	return "http://" + host
}

// FetchStates reads the state of every uuid with bounded concurrency. Failed
// uuids are left out of the result; ErrFetchFailed is returned only when
// nothing could be read.
func (c *Client) FetchStates(ctx context.Context, uuids []string) (map[string]json.RawMessage, error) {
	states := make(map[string]json.RawMessage, len(uuids))
	if len(uuids) == 0 {
		return states, nil
	}

	var (
		mu      sync.Mutex
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for _, uuid := range uuids {
		uuid := uuid
		g.Go(func() error {
			raw, err := c.fetchState(gctx, uuid)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				c.logger.WithError(err).WithField("uuid", uuid).Debug("Failed to fetch device state")
				return nil
			}
			states[uuid] = raw
			return nil
		})
	}
	// Workers never return errors; partial results are the contract
	_ = g.Wait()

	if len(states) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, lastErr)
	}
	if missing := len(uuids) - len(states); missing > 0 {
		c.logger.WithFields(logrus.Fields{
			"requested": len(uuids),
			"missing":   missing,
		}).Warn("Partial miniserver fetch")
	}
	return states, nil
}

func (c *Client) fetchState(ctx context.Context, uuid string) (json.RawMessage, error) {
	body, err := c.get(ctx, "/jdev/sps/io/"+url.PathEscape(uuid), maxBodySize)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		// Plain-text states are passed on as JSON strings
		return json.Marshal(strings.TrimSpace(string(body)))
	}
	if code, ok := responseCode(body); ok && (code < 200 || code > 299) {
		return nil, &StatusError{Code: code, Path: "/jdev/sps/io/" + uuid}
	}
	return json.RawMessage(body), nil
}

// responseCode reads LL.Code from a miniserver response. The code is sent as
// a string or a number depending on firmware.
func responseCode(body []byte) (int, bool) {
	var envelope struct {
		LL struct {
			Code json.RawMessage `json:"Code"`
		} `json:"LL"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, false
	}
	raw := envelope.LL.Code
	if len(raw) == 0 {
		return 0, false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		code, err := strconv.Atoi(strings.TrimSpace(text))
		return code, err == nil
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return int(number), true
	}
	return 0, false
}

func (c *Client) get(ctx context.Context, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, limit))
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
