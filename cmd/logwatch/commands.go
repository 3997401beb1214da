package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/0xmhha/logwatch/pkg/broadcast"
	"github.com/0xmhha/logwatch/pkg/coalescer"
	"github.com/0xmhha/logwatch/pkg/config"
	"github.com/0xmhha/logwatch/pkg/display"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/reader"
	"github.com/0xmhha/logwatch/pkg/server"
	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
	"github.com/0xmhha/logwatch/pkg/tail"
)

// loadConfig loads configuration from configPath or the default locations.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg.
func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// sessionConfig maps configuration onto session settings.
func sessionConfig(cfg *config.Config, store stats.Store) session.Config {
	return session.Config{
		Lines:     cfg.Tail.Lines,
		ChunkSize: cfg.Tail.ChunkSize,
		Coalesce: coalescer.Config{
			QuietWindow: cfg.Coalesce.QuietWindow,
			MaxWait:     cfg.Coalesce.MaxWait,
		},
		Reader: reader.Config{
			MaxRetries:    cfg.Reader.MaxRetries,
			RetryDelay:    cfg.Reader.RetryDelay,
			MaxDeltaBytes: cfg.Reader.MaxDeltaBytes,
		},
		Delivery: broadcast.Config{
			QueueSize:       cfg.Delivery.QueueSize,
			MaxPendingBytes: cfg.Delivery.MaxPendingBytes,
			WriteTimeout:    cfg.Delivery.WriteTimeout,
		},
		Stats: store,
	}
}

// serverFiles converts the configured allowlist.
func serverFiles(files []config.FileConfig) []server.File {
	out := make([]server.File, 0, len(files))
	for _, f := range files {
		out = append(out, server.File{Name: f.Name, Path: f.Path})
	}
	return out
}

// fileFlags collects repeated -file flags.
type fileFlags []config.FileConfig

func (f *fileFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, fc := range *f {
		parts = append(parts, fc.Name+"="+fc.Path)
	}
	return strings.Join(parts, ",")
}

// Set accepts name=path, or a bare path named after its base name.
func (f *fileFlags) Set(value string) error {
	if value == "" {
		return fmt.Errorf("empty file")
	}

	name, path, ok := strings.Cut(value, "=")
	if !ok {
		path = value
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if name == "" || path == "" {
		return fmt.Errorf("invalid file %q (want name=path)", value)
	}

	*f = append(*f, config.FileConfig{Name: name, Path: path})
	return nil
}

// serveCommand serves files over HTTP and WebSocket.
type serveCommand struct {
	addr       string
	lines      int
	dbPath     string
	noJournal  bool
	files      []config.FileConfig
	configPath string
}

// applyFlags overlays command-line flags onto cfg.
func (c *serveCommand) applyFlags(cfg *config.Config) {
	if c.addr != "" {
		cfg.Server.Addr = c.addr
	}
	if c.lines > 0 {
		cfg.Tail.Lines = c.lines
	}
	if c.dbPath != "" {
		cfg.Storage.DBPath = c.dbPath
	}
	if c.noJournal {
		cfg.Storage.DBPath = ""
	}
	if len(c.files) > 0 {
		cfg.Files = c.files
	}
}

// Execute runs the serve command.
func (c *serveCommand) Execute() error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg)

	store, err := stats.Open(stats.Config{DBPath: cfg.Storage.DBPath}, log)
	if err != nil {
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close session journal", "error", err)
		}
	}()

	mgr := session.NewManager(sessionConfig(cfg, store), log)

	srv, err := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		Files:          serverFiles(cfg.Files),
		Banner:         os.Stdout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, mgr, log)
	if err != nil {
		return err
	}

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Closing sessions ends every socket, which lets the handlers return.
		if err := mgr.Close(); err != nil {
			return err
		}
		srv.Wait()
		return nil
	})

	return g.Wait()
}

// tailCommand follows one file in the terminal.
type tailCommand struct {
	target     string
	lines      int
	follow     bool
	configPath string
}

// resolveTarget maps a configured name to its path; anything else is a path.
func (c *tailCommand) resolveTarget(cfg *config.Config) string {
	if f, ok := cfg.File(c.target); ok {
		return f.Path
	}
	return c.target
}

// Execute runs the tail command.
func (c *tailCommand) Execute() error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.lines > 0 {
		cfg.Tail.Lines = c.lines
	}

	// Initialize logger (quiet mode for terminal output)
	log := logger.New(logger.Config{
		Level:  "error",
		Format: cfg.Logging.Format,
		Output: "stderr",
	})

	path := c.resolveTarget(cfg)
	decorate := term.IsTerminal(int(os.Stdout.Fd())) // nolint:gosec

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !c.follow {
		snap, err := tail.ReadLast(ctx, path, cfg.Tail.Lines, cfg.Tail.ChunkSize)
		if err != nil {
			return err
		}
		out := newTerminalConn(os.Stdout, path, decorate)
		return out.Write(ctx, broadcast.Message{Kind: broadcast.KindSnapshot, Lines: snap.Lines})
	}

	mgr := session.NewManager(sessionConfig(cfg, nil), log)
	defer mgr.Close()

	out := newTerminalConn(os.Stdout, path, decorate)
	sub, err := mgr.Subscribe(ctx, path, out)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-sub.Done():
		if reason := out.closeReason(); reason != "" && reason != session.ReasonShutdown {
			return fmt.Errorf("stopped following %s: %s", path, reason)
		}
		return nil
	}
}

// terminalConn writes messages to a terminal or pipe. Decoration (banner,
// reset and close markers) is only added for terminals.
type terminalConn struct {
	w        io.Writer
	path     string
	decorate bool

	mu     sync.Mutex
	banner bool
	reason string
}

func newTerminalConn(w io.Writer, path string, decorate bool) *terminalConn {
	return &terminalConn{w: w, path: path, decorate: decorate}
}

// Write implements broadcast.Conn.
func (c *terminalConn) Write(ctx context.Context, msg broadcast.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decorate && !c.banner {
		c.banner = true
		if _, err := fmt.Fprintf(c.w, "==> %s <==\n", c.path); err != nil {
			return err
		}
	}

	switch msg.Kind {
	case broadcast.KindReset:
		if c.decorate {
			if _, err := fmt.Fprintln(c.w, "--- file truncated ---"); err != nil {
				return err
			}
		}
	case broadcast.KindClosed:
		c.reason = msg.Reason
		if c.decorate {
			_, err := fmt.Fprintf(c.w, "--- %s ---\n", msg.Reason)
			return err
		}
		return nil
	}

	for _, line := range msg.Lines {
		if _, err := fmt.Fprintln(c.w, line); err != nil {
			return err
		}
	}
	return nil
}

// Close implements broadcast.Conn.
func (c *terminalConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = reason
	}
	return nil
}

func (c *terminalConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// sessionsCommand shows live sessions of a running server.
type sessionsCommand struct {
	addr       string
	format     string
	configPath string
}

// Execute runs the sessions command.
func (c *sessionsCommand) Execute() error {
	format, err := display.ParseFormat(c.format)
	if err != nil {
		return err
	}

	addr := c.addr
	if addr == "" {
		cfg, err := loadConfig(c.configPath)
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := fetchSessions(ctx, http.DefaultClient, baseURL(addr))
	if err != nil {
		return err
	}

	return display.New(display.Config{Format: format}).FormatSessions(os.Stdout, infos)
}

// fetchSessions reads /sessions from a running server.
func fetchSessions(ctx context.Context, client *http.Client, base string) ([]session.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sessions", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server at %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var infos []session.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return infos, nil
}

// baseURL turns a listen address into a URL a client can dial.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// isNotExist reports whether err means a missing file.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
