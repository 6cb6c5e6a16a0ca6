package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/klauspost/compress/gzhttp"
)

const (
	DefaultPort      = 8080
	DefaultIndexFile = "index.html"

	shutdownTimeout = 5 * time.Second
)

type ServerConfig struct {
	StaticDir      string
	IndexFile      string
	AllowedOrigins []string
}

// Server serves the dashboard files and relays websocket upgrades on the
// same port.
type Server struct {
	relay  *Relay
	static http.Handler
	accept *websocket.AcceptOptions
	logger *slog.Logger
}

func NewServer(cfg ServerConfig, relay *Relay, logger *slog.Logger) *Server {
	if cfg.StaticDir == "" {
		cfg.StaticDir = "."
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFile
	}
	if logger == nil {
		logger = slog.Default()
	}

	files := http.FileServer(http.Dir(cfg.StaticDir))
	return &Server{
		relay:  relay,
		static: gzhttp.GzipHandler(indexHandler(cfg.StaticDir, cfg.IndexFile, files)),
		accept: &websocket.AcceptOptions{OriginPatterns: cfg.AllowedOrigins},
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	s.static.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Debug("relay accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	defer func() { _ = conn.CloseNow() }()

	s.logger.Info("relay client connected", "remote", r.RemoteAddr)
	if err := s.relay.Serve(r.Context(), conn); err != nil {
		s.logger.Warn("relay session ended", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("relay client disconnected", "remote", r.RemoteAddr)
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	s.logger.Info("relay listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown relay server: %w", err)
		}
		return nil
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// indexHandler serves index for directory requests when it differs from the
// file server's built-in index.html.
func indexHandler(root, index string, next http.Handler) http.Handler {
	if index == DefaultIndexFile {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			candidate := filepath.Join(root, filepath.FromSlash(path.Clean(r.URL.Path)), index)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				http.ServeFile(w, r, candidate)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
