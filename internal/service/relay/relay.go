// Package relay is the development fanout for the row-change stream: every
// envelope a client publishes is forwarded to all connected clients, the
// publisher included. Delivery is at-least-once and order-preserving per
// connection; clients deduplicate.
package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clearchat/internal/utils/log"
)

type (
	Relay struct {
		mu     sync.Mutex
		nextID int
		conns  map[int]*websocket.Conn
	}
)

func NewRelay() *Relay {
	return &Relay{
		conns: make(map[int]*websocket.Conn),
	}
}

func (s *Relay) Run(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/rows", s.HandleRows()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	log.Info("relay listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, r)
}

func (s *Relay) HandleRows() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.conns[id] = conn
		s.mu.Unlock()

		log.Debug("client connected",
			zap.Int("conn_id", id), zap.String("client", r.URL.Query().Get("client")))
		go s.readLoop(id, conn)
	}
}

func (s *Relay) readLoop(id int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("client disconnected", zap.Int("conn_id", id), zap.Error(err))
			s.mu.Lock()
			delete(s.conns, id)
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.fanout(data)
	}
}

// fanout forwards the raw envelope to every connection, echoing it back to
// the publisher as well.
func (s *Relay) fanout(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("write failed, dropping connection", zap.Int("conn_id", id), zap.Error(err))
			delete(s.conns, id)
			conn.Close()
		}
	}
}
