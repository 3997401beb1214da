package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/tail"
)

//go:embed index.html
var staticFiles embed.FS

// Server serves the viewer page and WebSocket streams.
type Server struct {
	config   Config
	sessions Sessions
	logger   logger.Logger
	files    map[string]string
	upgrader websocket.Upgrader

	// conns tracks sockets so Shutdown can wait for their handlers.
	conns sync.WaitGroup
}

// New creates a server for the given sessions.
func New(cfg Config, sessions Sessions, log logger.Logger) (*Server, error) {
	// Set defaults.
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	if len(cfg.Files) == 0 {
		return nil, ErrNoFiles
	}

	files := make(map[string]string, len(cfg.Files))
	for _, f := range cfg.Files {
		files[f.Name] = f.Path
	}

	return &Server{
		config:   cfg,
		sessions: sessions,
		logger:   log.With("component", "server"),
		files:    files,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}, nil
}

// checkOrigin accepts requests without an Origin header, requests from the
// server's own host, and the listed origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/log", s.handleViewer)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	url := fmt.Sprintf("http://%s/log", displayAddr(ln.Addr()))
	s.logger.Info("server listening", "url", url)
	if s.config.Banner != nil {
		fmt.Fprintf(s.config.Banner, "Server is running on %s\n", url)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown; they end when their
	// sessions close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	<-errCh

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until every WebSocket handler has returned.
func (s *Server) Wait() {
	s.conns.Wait()
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("index.html")
	if err != nil {
		http.Error(w, "viewer unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" && websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.sessions.Sessions()); err != nil {
		s.logger.Warn("failed to encode sessions", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	path, err := s.resolve(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	log := s.logger.With("remote", r.RemoteAddr, "file", path)
	conn := newWSConn(ws, format)

	sub, err := s.sessions.Subscribe(r.Context(), path, conn)
	if err != nil {
		log.Warn("subscribe failed", "error", err)
		_ = conn.Close(subscribeFailure(err))
		return
	}

	log = log.With("subscriber", sub.ID())
	log.Info("Client connected")

	s.readLoop(ws, sub.Done())

	s.sessions.Unsubscribe(path, sub.ID())
	<-sub.Done()

	log.Info("Client disconnected", "delivered", sub.Info().Delivered)
}

// readLoop consumes peer frames until the socket fails or the subscriber
// ends. Viewers never send data; reading keeps control frames flowing.
func (s *Server) readLoop(ws *websocket.Conn, done <-chan struct{}) {
	_ = ws.SetReadDeadline(time.Now().Add(s.config.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})
	ws.SetReadLimit(4096)

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(ws, stop, done)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(ws *websocket.Conn, stop, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(closeGrace)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// resolve maps a file name to its path. An empty name is the first file.
func (s *Server) resolve(name string) (string, error) {
	if name == "" {
		return s.config.Files[0].Path, nil
	}
	path, ok := s.files[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}
	return path, nil
}

func parseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

func subscribeFailure(err error) string {
	switch {
	case errors.Is(err, tail.ErrFileNotFound):
		return "file not found"
	case errors.Is(err, tail.ErrPermissionDenied):
		return "permission denied"
	default:
		return "failed to open file"
	}
}

func displayAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return addr.String()
	}
	return fmt.Sprintf("localhost:%d", tcp.Port)
}
