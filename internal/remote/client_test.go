package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/idempotency"
	"github.com/iambrandonn/bmoffice/internal/officesim"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ engine.RemoteStateSource = (*Client)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSimClient starts an office simulator and returns a client for it
func newSimClient(t *testing.T) (*Client, *officesim.Simulator) {
	t.Helper()
	sim, err := officesim.New(officesim.Options{Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	for _, seed := range officesim.DefaultSeeds() {
		require.NoError(t, sim.AddCompany(seed))
	}

	srv := httptest.NewServer(officesim.NewServer(sim, discardLogger()).Handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, time.Second, WithLogger(discardLogger()))
	require.NoError(t, err)
	return c, sim
}

func TestNewRejectsBadURLs(t *testing.T) {
	_, err := New("ftp://example.com", 0)
	assert.Error(t, err)
	_, err = New("://nope", 0)
	assert.Error(t, err)

	c, err := New("http://example.com/prefix/", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
	assert.Equal(t, "/prefix", c.base.Path)
}

func TestClientAgainstSimulator(t *testing.T) {
	c, _ := newSimClient(t)
	ctx := context.Background()

	companies, err := c.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "acme", companies[0].ID)

	injected, err := c.InjectEvent(ctx, "acme", protocol.InjectRequest{
		EventType: protocol.EventHandoff, AgentID: "dev-1", ToAgentID: "qa-1", Artifact: "story-1.1.md",
	})
	require.NoError(t, err)
	require.NotEmpty(t, injected.MovementID)

	snap, err := c.FetchSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", snap.CompanyID)
	assert.Len(t, snap.Agents, 8)
	require.Len(t, snap.PendingMovements, 1)

	mid := injected.MovementID
	require.NoError(t, c.ReportProgress(ctx, "acme", mid, 0.5))
	snap, err = c.FetchSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap.PendingMovements[0].Progress)

	require.NoError(t, c.AcknowledgeComplete(ctx, "acme", mid))
	// the same key again is accepted
	require.NoError(t, c.AcknowledgeComplete(ctx, "acme", mid))

	snap, err = c.FetchSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, snap.PendingMovements, 1)
	assert.Equal(t, protocol.PurposeReturn, snap.PendingMovements[0].Purpose)

	page, err := c.FetchLogs(ctx, "acme", protocol.LogQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "movement_completed", page.Logs[0].EventType)

	require.NoError(t, c.CleanupStaleMovements(ctx, "acme"))
}

func TestClientErrors(t *testing.T) {
	c, _ := newSimClient(t)
	ctx := context.Background()

	_, err := c.FetchSnapshot(ctx, "initech")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Equal(t, "/api/companies/initech/state", se.Path)
	assert.Contains(t, se.Body, "unknown company")

	err = c.AcknowledgeComplete(ctx, "acme", "m-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.InjectEvent(ctx, "acme", protocol.InjectRequest{EventType: protocol.EventHandoff, AgentID: "dev-1"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.False(t, errors.Is(err, ErrNotFound))
}

type recordedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

func TestClientRequestShape(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, recordedRequest{r.Method, r.URL.EscapedPath(), r.URL.RawQuery, r.Header.Clone(), body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/base/api/companies/a b/state":
			_, _ = w.Write([]byte(`{"agents":[],"pending_movements":[]}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"logs":[],"total":0}`))
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/base", time.Second, WithLogger(discardLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := c.FetchSnapshot(ctx, "a b")
	require.NoError(t, err)
	assert.Equal(t, "a b", snap.CompanyID, "missing company id is filled in")

	_, err = c.FetchLogs(ctx, "acme", protocol.LogQuery{Limit: 5, AgentID: "dev-1"})
	require.NoError(t, err)
	require.NoError(t, c.ReportProgress(ctx, "acme", "m/1", 0.25))
	require.NoError(t, c.AcknowledgeComplete(ctx, "acme", "m/1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)

	assert.Equal(t, "/base/api/companies/a%20b/state", seen[0].path)
	assert.Equal(t, http.MethodGet, seen[0].method)
	assert.Empty(t, seen[0].body)
	assert.Empty(t, seen[0].header.Get(protocol.HeaderIdempotencyKey))
	assert.Len(t, seen[0].header.Get(protocol.HeaderRequestID), 36)
	assert.NotEqual(t, seen[0].header.Get(protocol.HeaderRequestID), seen[1].header.Get(protocol.HeaderRequestID))

	assert.Equal(t, "agent_id=dev-1&limit=5", seen[1].query)

	assert.Equal(t, "/base/api/companies/acme/movements/m%2F1/progress", seen[2].path)
	assert.Equal(t, "application/json", seen[2].header.Get("Content-Type"))
	var progress protocol.ProgressReport
	require.NoError(t, json.Unmarshal(seen[2].body, &progress))
	assert.Equal(t, 0.25, progress.Progress)
	wantKey := idempotency.MustKey(idempotency.ActionProgress, "acme", "m/1", 0.25)
	assert.Equal(t, wantKey, seen[2].header.Get(protocol.HeaderIdempotencyKey))

	assert.Equal(t, "/base/api/companies/acme/movements/m%2F1/complete", seen[3].path)
	assert.Equal(t, idempotency.MustKey(idempotency.ActionComplete, "acme", "m/1", nil),
		seen[3].header.Get(protocol.HeaderIdempotencyKey))
}

func TestClientHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, 5*time.Second, WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchSnapshot(ctx, "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
