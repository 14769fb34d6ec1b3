package officesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/klauspost/compress/gzhttp"
)

const maxRequestBody = 64 << 10

// Server exposes a Simulator over HTTP
type Server struct {
	sim    *Simulator
	logger *slog.Logger
}

// NewServer creates the HTTP front of sim
func NewServer(sim *Simulator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sim: sim, logger: logger}
}

// Handler returns the API routes, gzip-compressed when the client accepts it
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/companies", s.handleCompanies)
	mux.HandleFunc("GET /api/companies/{company}/state", s.handleState)
	mux.HandleFunc("GET /api/companies/{company}/logs", s.handleLogs)
	mux.HandleFunc("POST /api/companies/{company}/movements/cleanup", s.handleCleanup)
	mux.HandleFunc("POST /api/companies/{company}/movements/{movement}/progress", s.handleProgress)
	mux.HandleFunc("POST /api/companies/{company}/movements/{movement}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/companies/{company}/events", s.handleInject)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, protocol.Ack{OK: true})
	})
	return gzhttp.GzipHandler(s.withRequestID(mux))
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(protocol.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(protocol.HeaderRequestID, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "request_id", id, "elapsed", time.Since(start))
	})
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.CompanyList{Companies: s.sim.Companies()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.Snapshot(r.PathValue("company"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := protocol.ParseLogQuery(r.URL.Query())
	page, err := s.sim.Logs(r.Context(), r.PathValue("company"), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var body protocol.ProgressReport
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sim.ReportProgress(r.PathValue("company"), r.PathValue("movement"), body.Progress); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Ack{OK: true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ack, err := s.sim.Complete(r.Context(), r.PathValue("company"), r.PathValue("movement"), r.Header.Get(protocol.HeaderIdempotencyKey))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.sim.CleanupStale(r.PathValue("company"), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Ack{OK: true, Removed: removed})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrInvalidEvent, err))
		return
	}
	if err := ValidateInjectJSON(data); err != nil {
		s.writeError(w, err)
		return
	}
	var req protocol.InjectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrInvalidEvent, err))
		return
	}

	resp, err := s.sim.Inject(r.Context(), r.PathValue("company"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownCompany), errors.Is(err, ErrUnknownAgent), errors.Is(err, ErrUnknownMovement):
		code = http.StatusNotFound
	case errors.Is(err, ErrInvalidEvent):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, errBadBody):
		code = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

var errBadBody = errors.New("bad request body")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// RunOptions configures Run
type RunOptions struct {
	Addr     string
	DBPath   string
	Scenario string
	Logger   *slog.Logger
	// Ready, if set, receives the bound address once listening
	Ready func(addr string)
}

// Run serves a simulator until ctx is done
func Run(ctx context.Context, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sc *Scenario
	if opts.Scenario != "" {
		var err error
		if sc, err = LoadScenario(opts.Scenario); err != nil {
			return err
		}
	}

	logs, err := OpenLogStore(opts.DBPath)
	if err != nil {
		return err
	}
	defer logs.Close()

	sim, err := New(Options{Logs: logs, Logger: logger})
	if err != nil {
		return err
	}
	seeds := DefaultSeeds()
	if sc != nil && len(sc.Companies) > 0 {
		seeds = sc.Companies
	}
	for _, seed := range seeds {
		if err := sim.AddCompany(seed); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}
	srv := &http.Server{
		Handler:           NewServer(sim, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if sc != nil {
		go func() {
			if err := sim.RunScenario(ctx, sc); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("scenario stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("office simulator listening", "addr", ln.Addr().String())
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("simulator server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down simulator: %w", err)
	}
	return nil
}
