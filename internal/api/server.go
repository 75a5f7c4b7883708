package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/watch"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Display is what the server needs from the X connection
type Display interface {
	watch.PropertySource
	ActiveWindow() (xconn.Window, error)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	display  Display
	grace    time.Duration
	upgrader websocket.Upgrader

	mu       sync.Mutex
	watchers map[string]*watcherEntry
}

// watcherEntry fans a watcher's trace out to websocket subscribers
type watcherEntry struct {
	w *watch.OpacityWatcher

	mu      sync.Mutex
	history []xconn.Opacity
	subs    []chan xconn.Opacity
	closed  bool
}

func (e *watcherEntry) publish(o xconn.Opacity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, o)
	for _, sub := range e.subs {
		select {
		case sub <- o:
		default:
			// slow subscriber: it still gets the final trace from DELETE
		}
	}
}

func (e *watcherEntry) subscribe() ([]xconn.Opacity, chan xconn.Opacity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan xconn.Opacity, 256)
	if e.closed {
		close(ch)
	} else {
		e.subs = append(e.subs, ch)
	}
	return append([]xconn.Opacity(nil), e.history...), ch
}

func (e *watcherEntry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub)
	}
	e.subs = nil
}

// NewServer creates a new API server. grace is handed to every watcher it
// starts.
func NewServer(display Display, grace time.Duration) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		display:  display,
		grace:    grace,
		watchers: make(map[string]*watcherEntry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/windows/active", s.handleActiveWindow).Methods("GET")

	api.HandleFunc("/watchers", s.handleStartWatcher).Methods("POST")
	api.HandleFunc("/watchers/{id}", s.handleReportWatcher).Methods("DELETE")
	api.HandleFunc("/watchers/{id}/stream", s.handleWatcherStream)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting API server")
	return http.ListenAndServe(addr, s.router)
}

// Shutdown reports every running watcher so no sampling goroutine outlives
// the server
func (s *Server) Shutdown() {
	s.mu.Lock()
	entries := s.watchers
	s.watchers = make(map[string]*watcherEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.w.Report()
		e.close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.watchers)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"watchers": n,
	})
}

func (s *Server) handleActiveWindow(w http.ResponseWriter, r *http.Request) {
	win, err := s.display.ActiveWindow()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if win == 0 {
		http.Error(w, "No window focused", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"window": uint32(win)})
}

func (s *Server) handleStartWatcher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Window uint32 `json:"window"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Window == 0 {
		http.Error(w, "window is required", http.StatusBadRequest)
		return
	}

	entry := &watcherEntry{}
	watcher, err := watch.Watch(s.display, xconn.Window(req.Window),
		watch.WithGracePeriod(s.grace),
		watch.WithObserver(entry.publish),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	entry.w = watcher

	id := uuid.NewString()
	s.mu.Lock()
	s.watchers[id] = entry
	s.mu.Unlock()

	logger.WithWindow("api", req.Window).Info().Str("watcher", id).Msg("Watcher started")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleReportWatcher(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	entry, ok := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown watcher", http.StatusNotFound)
		return
	}

	trace, err := entry.w.Report()
	entry.close()

	resp := map[string]interface{}{
		"window": uint32(entry.w.Window()),
		"trace":  trace,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatcherStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	entry, ok := s.watchers[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown watcher", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	history, updates := entry.subscribe()
	for _, o := range history {
		if err := conn.WriteJSON(map[string]xconn.Opacity{"opacity": o}); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	for o := range updates {
		if err := conn.WriteJSON(map[string]xconn.Opacity{"opacity": o}); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "watcher reported"))
}
