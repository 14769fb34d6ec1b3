// Package remote is the HTTP implementation of the engine's backend source.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/bmoffice/internal/idempotency"
	"github.com/iambrandonn/bmoffice/internal/protocol"
)

// DefaultTimeout bounds every request when none is configured
const DefaultTimeout = 10 * time.Second

const (
	maxResponseBytes = 8 << 20
	maxErrorBody     = 4 << 10
)

// ErrNotFound is matched by errors for 404 responses
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is makes errors.Is(err, ErrNotFound) true for 404s
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the backend's company API
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the backend at baseURL
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func companyPath(companyID string, parts ...string) string {
	p := "/api/companies/" + url.PathEscape(companyID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListCompanies returns the companies the backend knows
func (c *Client) ListCompanies(ctx context.Context) ([]protocol.Company, error) {
	var list protocol.CompanyList
	if err := c.do(ctx, http.MethodGet, "/api/companies", nil, nil, "", &list); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return list.Companies, nil
}

// FetchSnapshot returns the current state of one company
func (c *Client) FetchSnapshot(ctx context.Context, companyID string) (*protocol.Snapshot, error) {
	var snap protocol.Snapshot
	if err := c.do(ctx, http.MethodGet, companyPath(companyID, "state"), nil, nil, "", &snap); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if snap.CompanyID == "" {
		snap.CompanyID = companyID
	}
	return &snap, nil
}

// FetchLogs returns one page of a company's event log
func (c *Client) FetchLogs(ctx context.Context, companyID string, q protocol.LogQuery) (*protocol.LogPage, error) {
	var page protocol.LogPage
	if err := c.do(ctx, http.MethodGet, companyPath(companyID, "logs"), q.Values(), nil, "", &page); err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return &page, nil
}

// ReportProgress reports a movement milestone
func (c *Client) ReportProgress(ctx context.Context, companyID, movementID string, progress float64) error {
	key, err := idempotency.Key(idempotency.ActionProgress, companyID, movementID, progress)
	if err != nil {
		return err
	}
	body := protocol.ProgressReport{Progress: progress}
	if err := c.do(ctx, http.MethodPost, companyPath(companyID, "movements", movementID, "progress"), nil, body, key, nil); err != nil {
		return fmt.Errorf("failed to report progress: %w", err)
	}
	return nil
}

// AcknowledgeComplete tells the backend a movement finished locally
func (c *Client) AcknowledgeComplete(ctx context.Context, companyID, movementID string) error {
	key, err := idempotency.Key(idempotency.ActionComplete, companyID, movementID, nil)
	if err != nil {
		return err
	}
	var ack protocol.Ack
	if err := c.do(ctx, http.MethodPost, companyPath(companyID, "movements", movementID, "complete"), nil, struct{}{}, key, &ack); err != nil {
		return fmt.Errorf("failed to acknowledge movement: %w", err)
	}
	return nil
}

// CleanupStaleMovements asks the backend to drop movements nobody finished
func (c *Client) CleanupStaleMovements(ctx context.Context, companyID string) error {
	var ack protocol.Ack
	if err := c.do(ctx, http.MethodPost, companyPath(companyID, "movements", "cleanup"), nil, struct{}{}, "", &ack); err != nil {
		return fmt.Errorf("failed to clean up movements: %w", err)
	}
	if ack.Removed > 0 {
		c.logger.Debug("backend removed stale movements", "company", companyID, "removed", ack.Removed)
	}
	return nil
}

// InjectEvent posts an operator event
func (c *Client) InjectEvent(ctx context.Context, companyID string, req protocol.InjectRequest) (*protocol.InjectResponse, error) {
	var resp protocol.InjectResponse
	if err := c.do(ctx, http.MethodPost, companyPath(companyID, "events"), nil, req, "", &resp); err != nil {
		return nil, fmt.Errorf("failed to inject event: %w", err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, idemKey string, out any) error {
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return fmt.Errorf("failed to build request path: %w", err)
	}
	u.Path = unescaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(protocol.HeaderRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(protocol.HeaderIdempotencyKey, idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
