// Package server exposes the memory system and the engine over a JSON
// websocket protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/core"
	"github.com/adaojoaquim/agi-core/engine"
	"github.com/adaojoaquim/agi-core/memory"
)

const (
	maxMessageSize  = 1 << 20
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 15 * time.Second
	defaultTopK     = 5
)

// Config configures the server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// AllowedOrigins restricts websocket upgrades by Origin header.
	// Empty allows all origins.
	AllowedOrigins []string
}

// Server serves /ws and /health.
type Server struct {
	engine   *engine.Engine
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closing  bool
	live     map[*websocket.Conn]context.CancelFunc
	handlers sync.WaitGroup
}

// New creates a server for eng.
func New(eng *engine.Engine, cfg Config) *Server {
	s := &Server{engine: eng, cfg: cfg, live: make(map[*websocket.Conn]context.CancelFunc)}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On shutdown open
// websocket clients receive a going-away close frame and their in-flight
// requests are cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.engine.Initialize(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		xlog.Info("Server listening", "component", "server", "addr", ln.Addr().String(), "ws", "/ws", "health", "/health")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	xlog.Info("Shutting down server", "component", "server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	// Shutdown does not track hijacked connections.
	s.closeConns()
	s.handlers.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// track registers a live connection and the cancel func of its handler
// context. It reports false once the server is closing.
func (s *Server) track(conn *websocket.Conn, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[conn] = cancel
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, conn)
}

// closeConns sends a going-away close frame to every live connection and
// closes it, unblocking their read loops.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(time.Second)
	for conn, cancel := range s.live {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
	clear(s.live)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": engine.Version,
		"agent":   s.engine.String(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		xlog.Warn("Websocket upgrade failed", "component", "server", "error", err)
		return
	}
	defer conn.Close()

	// The request context is detached once the connection is hijacked, so
	// handlers get their own, cancelled when the connection closes or the
	// server shuts down.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if !s.track(conn, cancel) {
		return
	}
	defer s.untrack(conn)

	connID := uuid.NewString()
	xlog.Debug("Websocket connected", "component", "server", "conn", connID, "remote", r.RemoteAddr)
	defer xlog.Debug("Websocket disconnected", "component", "server", "conn", connID)

	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				xlog.Warn("Websocket read failed", "component", "server", "conn", connID, "error", err)
			}
			return
		}

		var resp *Response
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			resp = errorResponse(nil, CodeInvalidRequest, fmt.Errorf("decode message: %w", err))
		} else {
			resp = s.dispatch(ctx, &req)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			xlog.Warn("Websocket write failed", "component", "server", "conn", connID, "error", err)
			return
		}
	}
}

// dispatch handles one request.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.Type != TypeRun && req.Type != "" {
		if _, err := s.engine.Memory(ctx); err != nil {
			return errorResponse(req, CodeInternal, err)
		}
	}

	switch req.Type {
	case TypeStore:
		return s.handleStore(ctx, req)
	case TypeRetrieve:
		return s.handleRetrieve(ctx, req)
	case TypeForget:
		return s.handleForget(ctx, req)
	case TypeGet:
		return s.handleGet(ctx, req)
	case TypeReflect:
		return s.handleReflect(ctx, req)
	case TypeConsolidate:
		return s.handleConsolidate(ctx, req)
	case TypeContext:
		return s.handleContext(ctx, req)
	case TypeRun:
		return s.handleRun(ctx, req)
	case "":
		return errorResponse(req, CodeInvalidRequest, errors.New("message type is required"))
	}
	return errorResponse(req, CodeUnknownType, fmt.Errorf("unknown message type %q", req.Type))
}

func (s *Server) system(ctx context.Context) *memory.System {
	sys, _ := s.engine.Memory(ctx)
	return sys
}

func (s *Server) handleStore(ctx context.Context, req *Request) *Response {
	if req.Entry == nil {
		return errorResponse(req, CodeInvalidRequest, errors.New("entry is required"))
	}
	id, err := s.system(ctx).Store(ctx, tierOrDefault(req.Tier), req.Entry.entry())
	if err != nil {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.ID = id
	return resp
}

func (s *Server) handleRetrieve(ctx context.Context, req *Request) *Response {
	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	entries, err := s.system(ctx).Retrieve(ctx, tierOrDefault(req.Tier), req.Query, topK)
	if err != nil && (entries == nil || !errors.Is(err, memory.ErrProviderUnavailable)) {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.Entries = nonNil(entries)
	if err != nil {
		resp.Warning = err.Error()
	}
	return resp
}

func (s *Server) handleForget(ctx context.Context, req *Request) *Response {
	if req.ID == "" {
		return errorResponse(req, CodeInvalidRequest, errors.New("id is required"))
	}
	removed, err := s.system(ctx).Forget(ctx, tierOrDefault(req.Tier), req.ID)
	if err != nil {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.Removed = &removed
	return resp
}

func (s *Server) handleGet(ctx context.Context, req *Request) *Response {
	if req.ID == "" {
		return errorResponse(req, CodeInvalidRequest, errors.New("id is required"))
	}
	entry, err := s.system(ctx).Get(tierOrDefault(req.Tier), req.ID)
	if err != nil {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.Entry = &entry
	return resp
}

func (s *Server) handleReflect(ctx context.Context, req *Request) *Response {
	var topK int
	if req.TopK != nil {
		topK = *req.TopK
	}
	reflection, err := s.system(ctx).Reflect(ctx, req.Query, topK)
	if err != nil && ctx.Err() != nil {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.Reflection = reflection
	if err != nil {
		resp.Warning = err.Error()
	}
	return resp
}

func (s *Server) handleConsolidate(ctx context.Context, req *Request) *Response {
	report, err := s.system(ctx).Consolidate(ctx)
	if err != nil && report == nil {
		return errorResponse(req, codeFor(err), err)
	}
	resp := result(req)
	resp.Report = report
	if err != nil {
		resp.Warning = err.Error()
	}
	return resp
}

func (s *Server) handleContext(ctx context.Context, req *Request) *Response {
	text := s.system(ctx).Working.Context()
	resp := result(req)
	resp.Context = &text
	return resp
}

func (s *Server) handleRun(ctx context.Context, req *Request) *Response {
	out, err := s.engine.Run(ctx, &core.Input{
		Goal:       req.Goal,
		Context:    req.Context,
		Importance: req.Importance,
	})
	if err != nil {
		code := codeFor(err)
		if errors.Is(err, engine.ErrEmptyGoal) {
			code = CodeInvalidRequest
		}
		return errorResponse(req, code, err)
	}
	resp := result(req)
	resp.Output = out
	return resp
}

func tierOrDefault(t memory.TierName) memory.TierName {
	if strings.TrimSpace(string(t)) == "" {
		return memory.TierWorking
	}
	return t
}

func nonNil(entries []memory.Entry) []memory.Entry {
	if entries == nil {
		return []memory.Entry{}
	}
	return entries
}
