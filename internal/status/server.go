package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server pushes sync-status snapshots to WebSocket clients so a UI shell
// can show the pending counter and syncing indicator in real time.
type Server struct {
	addr       string
	projection *Projection
	listener   net.Listener
	server     *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Port to listen on. Zero listens on a random available port.
	Port int

	// Logger for server activity (default: the standard logger)
	Logger *log.Logger
}

// NewServer creates a status WebSocket server over a projection.
func NewServer(projection *Projection, config *ServerConfig) *Server {
	if config == nil {
		config = &ServerConfig{Port: 8787}
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       fmt.Sprintf(":%d", config.Port),
		projection: projection,
		clients:    make(map[*websocket.Conn]bool),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// Start begins serving and broadcasting projection snapshots.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Status server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// broadcastLoop fans projection snapshots out to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	snapshots, cancel := s.projection.Subscribe()
	defer cancel()

	for {
		select {
		case <-s.ctx.Done():
			return

		case snap := <-snapshots:
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Printf("Failed to marshal status snapshot: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancelWrite()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and sends the current snapshot
// immediately so a fresh client never waits for the next change.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Status client connected (total: %d)", clientCount)

	if snap, err := s.projection.Current(r.Context()); err == nil {
		if data, err := json.Marshal(snap); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
// Client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Status client disconnected (total: %d)", clientCount)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleStatus serves the current snapshot over plain HTTP for callers
// that don't hold a WebSocket open.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.projection.Current(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
