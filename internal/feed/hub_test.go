package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu        sync.Mutex
	actors    []office.Actor
	company   string
	selected  string
	switched  []string
	switchErr error
}

func (f *fakeController) Actors() []office.Actor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]office.Actor(nil), f.actors...)
}

func (f *fakeController) CompanyID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.company
}

func (f *fakeController) Connectivity() engine.Connectivity {
	return engine.ConnectivityConnected
}

func (f *fakeController) Selected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeController) Select(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actors {
		if a.ID == id {
			f.selected = id
			return true
		}
	}
	return false
}

func (f *fakeController) SwitchCompany(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switchErr != nil {
		return f.switchErr
	}
	f.switched = append(f.switched, id)
	f.company = id
	return nil
}

func (f *fakeController) switches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.switched...)
}

func newFeed(t *testing.T, buffer int) (*Hub, *fakeController, *httptest.Server) {
	t.Helper()
	ctrl := &fakeController{
		company: "acme",
		actors: []office.Actor{
			{ID: "dev-1", Name: "James", Status: office.StatusCoding},
			{ID: "qa-1", Name: "Quinn", Status: office.StatusIdle},
		},
	}
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), buffer)
	srv := httptest.NewServer(hub.Handler(ctrl))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, ctrl, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHelloThenEvents(t *testing.T) {
	hub, _, srv := newFeed(t, 0)
	conn := dial(t, srv)

	var hello Hello
	readJSON(t, conn, &hello)
	assert.Equal(t, TypeHello, hello.Type)
	assert.Equal(t, "acme", hello.CompanyID)
	assert.Equal(t, engine.ConnectivityConnected, hello.Connectivity)
	require.Len(t, hello.Actors, 2)
	assert.Equal(t, office.StatusCoding, hello.Actors[0].Status)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(engine.Event{Kind: engine.EventConnectivity, Connectivity: engine.ConnectivityDegraded, Error: "boom"})
	hub.Emit(engine.Event{Kind: engine.EventActorRemoved, ActorID: "qa-1"})

	var first, second EventMessage
	readJSON(t, conn, &first)
	readJSON(t, conn, &second)
	assert.Equal(t, TypeEvent, first.Type)
	assert.Equal(t, engine.EventConnectivity, first.Event.Kind)
	assert.Equal(t, "boom", first.Event.Error)
	assert.Equal(t, engine.EventActorRemoved, second.Event.Kind)
	assert.Equal(t, "qa-1", second.Event.ActorID)
}

func TestSelectActor(t *testing.T) {
	_, ctrl, srv := newFeed(t, 0)
	conn := dial(t, srv)
	readJSON(t, conn, &Hello{})

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSelectActor, ActorID: "qa-1"}))
	var ok SelectedMessage
	readJSON(t, conn, &ok)
	assert.Equal(t, TypeSelected, ok.Type)
	assert.Equal(t, "qa-1", ok.ActorID)
	assert.Equal(t, "qa-1", ctrl.Selected())

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSelectActor, ActorID: "ghost"}))
	var rejected ErrorMessage
	readJSON(t, conn, &rejected)
	assert.Equal(t, TypeError, rejected.Type)
	assert.Equal(t, TypeSelectActor, rejected.Request)
	assert.Contains(t, rejected.Error, "ghost")
	assert.Equal(t, "qa-1", ctrl.Selected())
}

func TestSelectCompany(t *testing.T) {
	_, ctrl, srv := newFeed(t, 0)
	conn := dial(t, srv)
	readJSON(t, conn, &Hello{})

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSelectCompany, CompanyID: "globex"}))
	require.Eventually(t, func() bool {
		s := ctrl.switches()
		return len(s) == 1 && s[0] == "globex"
	}, 2*time.Second, 5*time.Millisecond)

	ctrl.mu.Lock()
	ctrl.switchErr = engine.ErrSwitchInProgress
	ctrl.mu.Unlock()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSelectCompany, CompanyID: "initech"}))
	var rejected ErrorMessage
	readJSON(t, conn, &rejected)
	assert.Equal(t, TypeSelectCompany, rejected.Request)
	assert.Equal(t, engine.ErrSwitchInProgress.Error(), rejected.Error)
	assert.Len(t, ctrl.switches(), 1)
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	_, _, srv := newFeed(t, 0)
	conn := dial(t, srv)
	readJSON(t, conn, &Hello{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var bad ErrorMessage
	readJSON(t, conn, &bad)
	assert.Equal(t, "malformed message", bad.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	var unknown ErrorMessage
	readJSON(t, conn, &unknown)
	assert.Equal(t, "dance", unknown.Request)
	assert.Equal(t, "unknown message type", unknown.Error)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	defer hub.Close()

	c, ok := hub.register()
	require.True(t, ok)
	require.Equal(t, 1, hub.Clients())

	hub.Emit(engine.Event{Kind: engine.EventLogs})
	assert.Equal(t, 1, hub.Clients())
	hub.Emit(engine.Event{Kind: engine.EventLogs})
	assert.Equal(t, 0, hub.Clients())

	select {
	case <-c.gone:
	default:
		t.Fatal("dropped client was not signalled")
	}

	// further events and replies to a dropped client are ignored
	hub.Emit(engine.Event{Kind: engine.EventLogs})
	hub.reply(c, SelectedMessage{Type: TypeSelected})
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, _, srv := newFeed(t, 0)
	conn := dial(t, srv)
	readJSON(t, conn, &Hello{})
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, ok := hub.register()
	assert.False(t, ok, "closed hub refuses new clients")
}

func TestActorsEndpoint(t *testing.T) {
	_, _, srv := newFeed(t, 0)

	resp, err := http.Get(srv.URL + "/actors")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var actors []office.Actor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&actors))
	require.Len(t, actors, 2)
	assert.Equal(t, "dev-1", actors[0].ID)
}

func TestServe(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, "127.0.0.1:0", &fakeController{}, func(addr string) { ready <- addr }) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never became ready")
	}

	resp, err := http.Get("http://" + addr + "/actors")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "[]\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not shut down")
	}
}

func TestCheckOrigin(t *testing.T) {
	request := func(local net.Addr, host, origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/ws", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r.WithContext(context.WithValue(r.Context(), http.LocalAddrContextKey, local))
	}
	loopback := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 7420}
	public := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 7420}

	tests := []struct {
		name   string
		req    *http.Request
		expect bool
	}{
		{"loopback any origin", request(loopback, "127.0.0.1:7420", "http://evil.example"), true},
		{"public no origin", request(public, "10.0.0.5:7420", ""), true},
		{"public same origin", request(public, "10.0.0.5:7420", "http://10.0.0.5:7420"), true},
		{"public cross origin", request(public, "10.0.0.5:7420", "http://evil.example"), false},
		{"public bad origin", request(public, "10.0.0.5:7420", "://"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, checkOrigin(tt.req))
		})
	}
}

func TestLoopbackFeedAcceptsAnyOrigin(t *testing.T) {
	_, _, srv := newFeed(t, 0)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}
