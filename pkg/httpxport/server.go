// Package httpxport offers an HTTP/WebSocket transport alternative to
// the libp2p gossip network, per spec §6.5: three independent servers
// (quorum/CDN, DA, view-sync) each expose a POST endpoint for
// submitting a message and a WebSocket stream for subscribing to
// broadcasts. Grounded on original_source's
// hotshot/examples/webserver/multi-webserver.rs (three separately
// bound webservers, one per sub-protocol), built with gorilla/mux and
// gorilla/websocket plus rs/cors the way the teacher's go.mod already
// pulls those in for its REST layer.
package httpxport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize: 1024, WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server relays one sub-protocol's traffic over HTTP instead of
// libp2p: POST /submit accepts a JSON envelope of an outbound
// event, and GET /stream upgrades to a websocket broadcasting every
// matching inbound event.
type Server struct {
	bus    *eventbus.Bus
	name   string
	kinds  map[eventbus.Kind]bool
	log    *zap.Logger

	mu   sync.Mutex
	conns map[*websocket.Conn]bool
}

// New builds a Server relaying only the given event kinds, e.g. the
// quorum server cmd/node starts relays QuorumProposalRecv, QuorumVoteRecv,
// QCFormed, SendPayloadCommitmentAndMetadata and BlockReady.
func New(bus *eventbus.Bus, name string, kinds []eventbus.Kind, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	set := make(map[eventbus.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &Server{bus: bus, name: name, kinds: set, log: log, conns: make(map[*websocket.Conn]bool)}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/stream", s.handleStream)
	return cors.AllowAll().Handler(r)
}

// envelope is the JSON-over-HTTP wire shape; unlike the gossip
// transport's gob encoding, this surface is meant for human/script
// clients so it stays JSON per spec §6.5.
type envelope struct {
	Kind int             `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var e eventbus.Event
	if err := json.Unmarshal(env.Data, &e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.Kind = eventbus.Kind(env.Kind)
	s.bus.Publish(e)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("server", s.name), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	events, unsub := s.bus.Subscribe(s.name + "-ws-" + r.RemoteAddr)
	defer func() {
		unsub()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for e := range events {
		if !s.kinds[e.Kind] {
			continue
		}
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
