// Package wstest runs a scripted stand-in for the authoritative game server.
// Tests accept client connections from it and push frames by hand.
package wstest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type Server struct {
	srv       *httptest.Server
	peers     chan *Peer
	mu        sync.Mutex
	all       []*Peer
	rejecting atomic.Bool
	upgrades  atomic.Int64
}

// Peer is the server side of one client channel.
type Peer struct {
	Phase       string
	Room        string
	Participant string

	conn     *websocket.Conn
	received chan []byte
	gone     chan struct{}
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{peers: make(chan *Peer, 16)}

	r := chi.NewRouter()
	r.Get("/ws/{phase:lobby|session}/{room}", s.handle)
	s.srv = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the ws:// base clients pass in their conn.Target.
func (s *Server) BaseURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Reject makes the server refuse new upgrades with 503 while on is true.
func (s *Server) Reject(on bool) { s.rejecting.Store(on) }

// Attempts counts upgrade requests, rejected ones included.
func (s *Server) Attempts() int { return int(s.upgrades.Load()) }

// Accept waits for the next client connection.
func (s *Server) Accept(t testing.TB, within time.Duration) *Peer {
	t.Helper()
	select {
	case p := <-s.peers:
		return p
	case <-time.After(within):
		t.Fatalf("no client connected within %v", within)
		return nil
	}
}

// ExpectNoConnection fails if a client connects within the window.
func (s *Server) ExpectNoConnection(t testing.TB, within time.Duration) {
	t.Helper()
	select {
	case p := <-s.peers:
		t.Fatalf("unexpected connection %s/%s from %s", p.Phase, p.Room, p.Participant)
	case <-time.After(within):
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	peers := s.all
	s.all = nil
	s.mu.Unlock()
	for _, p := range peers {
		p.Drop()
	}
	s.srv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.upgrades.Add(1)
	if s.rejecting.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		http.Error(w, "missing participant", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	p := &Peer{
		Phase:       chi.URLParam(r, "phase"),
		Room:        chi.URLParam(r, "room"),
		Participant: participant,
		conn:        c,
		received:    make(chan []byte, 64),
		gone:        make(chan struct{}),
	}
	s.mu.Lock()
	s.all = append(s.all, p)
	s.mu.Unlock()
	s.peers <- p

	defer close(p.gone)
	for {
		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		p.received <- data
	}
}

// Send writes v as one JSON frame.
func (p *Peer) Send(t testing.TB, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	p.SendRaw(t, data)
}

func (p *Peer) SendRaw(t testing.TB, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.conn.Write(ctx, websocket.MessageText, data))
}

// Expect returns the next frame the client sent, decoded as a JSON object.
func (p *Peer) Expect(t testing.TB, within time.Duration) map[string]any {
	t.Helper()
	select {
	case data := <-p.received:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out), "client sent %q", data)
		return out
	case <-time.After(within):
		t.Fatalf("client %s sent nothing within %v", p.Participant, within)
		return nil
	}
}

// ExpectNothing fails if the client sends a frame within the window.
func (p *Peer) ExpectNothing(t testing.TB, within time.Duration) {
	t.Helper()
	select {
	case data := <-p.received:
		t.Fatalf("client %s sent unexpected frame %s", p.Participant, data)
	case <-time.After(within):
	}
}

// Gone is closed once the client side of the channel has gone away.
func (p *Peer) Gone() <-chan struct{} { return p.gone }

// Drop kills the connection without a closing handshake.
func (p *Peer) Drop() { _ = p.conn.CloseNow() }

// Close performs a normal closing handshake from the server side.
func (p *Peer) Close() { _ = p.conn.Close(websocket.StatusGoingAway, "server closing") }
