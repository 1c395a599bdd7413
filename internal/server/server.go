// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server hosts the action dispatcher behind a WebSocket endpoint.
//
// Each connection gets its own read loop. Messages on one connection are
// dispatched in arrival order, so replies leave in request order.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdiddy/marcalink/internal/dispatch"
	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/pkg/types"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 8 << 20
)

// Config holds server dependencies.
type Config struct {
	// Addr is the listen address (default ":8080"; ":0" picks a free port).
	Addr string

	// Path is the WebSocket endpoint (default "/ws").
	Path string

	Dispatcher *dispatch.Dispatcher
	Logger     *log.Logger
	Metrics    *metrics.Metrics

	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer
}

// Server accepts WebSocket clients and answers their requests.
type Server struct {
	addr       string
	path       string
	dispatcher *dispatch.Dispatcher
	logger     *log.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server from cfg. The dispatcher is required.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = types.DefaultServerAddr
	}
	if cfg.Path == "" {
		cfg.Path = types.DefaultServerPath
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:       cfg.Addr,
		path:       cfg.Path,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
		clients:    make(map[*websocket.Conn]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("server listening", "addr", ln.Addr().String(), "path", s.path)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped unexpectedly", "err", err)
		}
	}()
	return nil
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
		s.metrics.ClientDisconnected()
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the WebSocket URL of the running server.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.path
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.ClientConnected()
	s.logger.Info("client connected", "remote", r.RemoteAddr, "clients", count)

	greeting := protocol.Reply{Act: protocol.ActConnected, Status: types.StatusOK, Message: protocol.MsgConnected}
	if err := s.write(conn, greeting); err != nil {
		s.removeClient(conn)
		return
	}

	// The handler goroutine owns the connection until the client leaves.
	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug("read loop ended", "err", err)
			}
			return
		}
		reply := s.dispatcher.Dispatch(s.ctx, data)
		if err := s.write(conn, reply); err != nil {
			s.logger.Warn("writing reply failed", "act", reply.Act, "err", err)
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, reply protocol.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()
	if !exists {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.metrics.ClientDisconnected()
	s.logger.Info("client disconnected", "clients", count)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
