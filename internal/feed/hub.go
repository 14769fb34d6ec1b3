// Package feed streams session events to presentation clients over
// websockets and accepts their company and actor selections.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/office"
)

const (
	// DefaultBuffer is how many messages a client may fall behind before it
	// is dropped
	DefaultBuffer = 256

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxClientMessage = 4 << 10
)

// Controller is the part of a session the feed reads and drives
type Controller interface {
	Actors() []office.Actor
	CompanyID() string
	Connectivity() engine.Connectivity
	Selected() string
	Select(actorID string) bool
	SwitchCompany(ctx context.Context, companyID string) error
}

// Hub fans engine events out to connected clients. It is an engine.EventSink:
// Emit never blocks, and a client whose buffer is full is disconnected.
type Hub struct {
	logger *slog.Logger
	buffer int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client
	closed  bool

	// switches runs company switches requested by clients
	switches sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

type client struct {
	id   uint64
	send chan []byte
	// gone closes when the hub drops the client
	gone chan struct{}
}

// NewHub creates a hub. buffer <= 0 uses DefaultBuffer.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger: logger,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[uint64]*client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// checkOrigin accepts any page on a loopback listener. Elsewhere only
// same-origin pages and clients that send no Origin are accepted.
func checkOrigin(r *http.Request) bool {
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && isLoopback(addr) {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Emit broadcasts evt to every client
func (h *Hub) Emit(evt engine.Event) {
	b, err := json.Marshal(EventMessage{Type: TypeEvent, Event: evt})
	if err != nil {
		h.logger.Error("failed to encode feed event", "kind", evt.Kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Warn("feed client too slow, dropping", "client", c.id)
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for pending company switches
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	h.cancel()
	h.switches.Wait()
}

func (h *Hub) register() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{
		id:   h.nextID.Add(1),
		send: make(chan []byte, h.buffer),
		gone: make(chan struct{}),
	}
	h.clients[c.id] = c
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.gone)
}

// reply queues a message for one client, dropping it if it cannot keep up
func (h *Hub) reply(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode feed reply", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
		h.dropLocked(c)
	}
}

// Handler serves the websocket endpoint at /ws and the actor list at /actors
func (h *Hub) Handler(ctrl Controller) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		h.serveWS(ctrl, w, r)
	})
	mux.HandleFunc("GET /actors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(actorList(ctrl))
	})
	return mux
}

func actorList(ctrl Controller) []office.Actor {
	if actors := ctrl.Actors(); actors != nil {
		return actors
	}
	return []office.Actor{}
}

func (h *Hub) serveWS(ctrl Controller, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Register before reading the hello state so no event falls in between.
	// Events queued meanwhile may repeat state the hello already holds.
	c, ok := h.register()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(time.Second))
		return
	}
	defer h.unregister(c)

	hello, err := json.Marshal(Hello{
		Type:         TypeHello,
		CompanyID:    ctrl.CompanyID(),
		Connectivity: ctrl.Connectivity(),
		Selected:     ctrl.Selected(),
		Actors:       actorList(ctrl),
	})
	if err != nil {
		h.logger.Error("failed to encode hello", "error", err)
		return
	}
	h.logger.Debug("feed client connected", "client", c.id, "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, c, hello)
	}()

	h.readLoop(conn, c, ctrl)

	h.unregister(c)
	<-writerDone
	h.logger.Debug("feed client disconnected", "client", c.id)
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client, hello []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(b []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, b) == nil
	}

	if !write(hello) {
		_ = conn.Close()
		return
	}
	for {
		select {
		case b := <-c.send:
			if !write(b) {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-c.gone:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			// unblock the reader
			_ = conn.Close()
			return
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, c *client, ctrl Controller) {
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, ErrorMessage{Type: TypeError, Error: "malformed message"})
			continue
		}
		h.handle(c, ctrl, msg)
	}
}

func (h *Hub) handle(c *client, ctrl Controller, msg ClientMessage) {
	switch msg.Type {
	case TypeSelectActor:
		if !ctrl.Select(msg.ActorID) {
			h.reply(c, ErrorMessage{Type: TypeError, Request: msg.Type, Error: fmt.Sprintf("unknown actor %q", msg.ActorID)})
			return
		}
		h.reply(c, SelectedMessage{Type: TypeSelected, ActorID: msg.ActorID})

	case TypeSelectCompany:
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.switches.Add(1)
		h.mu.Unlock()

		// The switch loads a snapshot; run it off the read loop so the
		// client can keep talking. Overlapping requests are refused by the
		// session.
		go func() {
			defer h.switches.Done()
			if err := ctrl.SwitchCompany(h.ctx, msg.CompanyID); err != nil {
				if !errors.Is(err, engine.ErrSwitchInProgress) {
					h.logger.Warn("company switch from feed failed", "company", msg.CompanyID, "error", err)
				}
				h.reply(c, ErrorMessage{Type: TypeError, Request: msg.Type, Error: err.Error()})
			}
		}()

	default:
		h.reply(c, ErrorMessage{Type: TypeError, Request: msg.Type, Error: "unknown message type"})
	}
}

// Serve runs the feed on addr until ctx is done. ready, if set, receives
// the bound address.
func (h *Hub) Serve(ctx context.Context, addr string, ctrl Controller, ready func(addr string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h.Handler(ctrl),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	h.logger.Info("feed listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("feed server failed: %w", err)
	case <-ctx.Done():
	}

	// hijacked websocket connections are not tracked by Shutdown
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down feed: %w", err)
	}
	return nil
}

var _ engine.EventSink = (*Hub)(nil)
