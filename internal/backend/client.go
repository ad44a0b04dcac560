// Package backend is the REST contract with the backend of record. The
// relay never persists anything itself; every durable mutation goes through
// this client, authenticated with the bearer token of the originating
// connection.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/metrics"
)

var (
	// ErrBackend covers unreachable hosts, non-2xx statuses, non-JSON
	// bodies, and status:false envelopes. Callers do not retry.
	ErrBackend = errors.New("backend request failed")
)

// envelope is the top-level shape of every backend JSON response.
type envelope struct {
	Status bool            `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	httpc   *http.Client
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Transport: tr, Timeout: timeout},
		log:     log,
	}
}

// Post sends a JSON body and validates the status envelope.
func (c *Client) Post(ctx context.Context, token, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	_, err = c.do(req, token)
	return err
}

// Get issues a GET with optional query parameters and returns the envelope
// data payload.
func (c *Client) Get(ctx context.Context, token, path string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	return c.do(req, token)
}

func (c *Client) do(req *http.Request, token string) (json.RawMessage, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.BackendRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s %s: %v", ErrBackend, req.Method, req.URL.Path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.BackendRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrBackend, req.Method, req.URL.Path, resp.StatusCode)
	}
	// The backend serves HTML error pages under some failure modes; those
	// must count as failures, not parse attempts.
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		metrics.BackendRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s %s: non-JSON response (%s)", ErrBackend, req.Method, req.URL.Path, ct)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.BackendRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s %s: decode: %v", ErrBackend, req.Method, req.URL.Path, err)
	}
	if !env.Status {
		metrics.BackendRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s %s: status false", ErrBackend, req.Method, req.URL.Path)
	}
	metrics.BackendRequests.WithLabelValues("ok").Inc()
	return env.Data, nil
}

// ToggleOnline flips the user's presence flag on the backend. Presence is
// advisory; failures are logged and swallowed.
func (c *Client) ToggleOnline(ctx context.Context, token, userID string, online bool) {
	q := url.Values{"is_online": []string{strconv.FormatBool(online)}}
	if _, err := c.Get(ctx, token, "/admin/user/status/"+userID, q); err != nil {
		c.log.Warnw("presence toggle failed", "user_id", userID, "online", online, "error", err)
	}
}
