// Package dashboard provides a real-time WebSocket view of sync activity.
//
// The server implements sync.EventSink: every engine event (cycle
// lifecycle, pushed tasks, repairs, absorbed errors) is broadcast as
// JSON to connected WebSocket clients. A minimal built-in index page
// renders the stream for a browser.
package dashboard

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

	syncpkg "github.com/taskdav/taskdav/internal/sync"
)

var _ syncpkg.EventSink = (*Server)(nil)

// writeTimeout bounds a single client write so one stalled connection
// cannot hold up the broadcast loop.
const writeTimeout = 5 * time.Second

// Server manages WebSocket connections and broadcasts sync events.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan syncpkg.Event

	// last finished cycle, replayed to newly connected clients so they
	// start with the current state instead of a blank page.
	last   *syncpkg.Event
	lastMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server listening on addr. Use ":0" to
// pick a free port.
func NewServer(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan syncpkg.Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

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
		s.logger.Printf("Dashboard listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
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

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Emit queues an event for broadcast. When the queue is full the oldest
// event is dropped so fresh state wins; a dashboard is a live view, not
// a durable log.
func (s *Server) Emit(event syncpkg.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case s.broadcast <- event:
			return
		default:
		}

		select {
		case <-s.broadcast:
		default:
		}
	}
}

// broadcastLoop fans queued events out to every connected client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.broadcast:
			if event.Type == syncpkg.EventSyncCompleted {
				s.lastMu.Lock()
				snapshot := event
				s.last = &snapshot
				s.lastMu.Unlock()
			}

			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client cannot
			// block connects and disconnects.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
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

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Catch the new client up with the last finished cycle.
	if last := s.lastEvent(); last != nil {
		if data, err := json.Marshal(last); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop drains client messages until disconnect. Clients do not send
// anything meaningful; reading is how disconnects surface.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// lastEvent returns a copy of the last completed-cycle event, if any.
func (s *Server) lastEvent() *syncpkg.Event {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.last == nil {
		return nil
	}
	snapshot := *s.last
	return &snapshot
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot serves the built-in event viewer.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>taskdav dashboard</title>
    <style>
        body { font-family: monospace; margin: 2em; }
        li { margin: 2px 0; }
        .error { color: #c00; }
        .repair { color: #c80; }
    </style>
</head>
<body>
    <h1>taskdav sync dashboard</h1>
    <p>Streaming from <code>ws://%s/ws</code>. Health: <a href="/health">/health</a></p>
    <ul id="events"></ul>
    <script>
        const list = document.getElementById("events");
        const ws = new WebSocket("ws://" + location.host + "/ws");
        ws.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            const li = document.createElement("li");
            li.className = ev.type;
            let text = ev.time + " " + ev.type;
            if (ev.task_uid) text += " " + ev.task_uid;
            if (ev.message) text += ": " + ev.message;
            li.textContent = text;
            list.prepend(li);
            while (list.children.length > 200) list.removeChild(list.lastChild);
        };
    </script>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
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
