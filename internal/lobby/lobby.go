package lobby

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/protocol"
)

// Handler receives lobby notifications, one at a time and in channel order.
type Handler interface {
	OnRosterChange(roster []string)
	OnGameStart(turnOrder []string)
	OnError(err error)
}

type HandlerFuncs struct {
	RosterChange func([]string)
	GameStart    func([]string)
	Error        func(error)
}

func (f HandlerFuncs) OnRosterChange(roster []string) {
	if f.RosterChange != nil {
		f.RosterChange(roster)
	}
}

func (f HandlerFuncs) OnGameStart(turnOrder []string) {
	if f.GameStart != nil {
		f.GameStart(turnOrder)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type Config struct {
	Base        string
	Room        string
	Participant string
	// AnnounceJoin sends player_join after every successful open. The base
	// protocol joins implicitly through the channel address.
	AnnounceJoin bool
	Conn         conn.Options
}

// Lobby converges the room roster and hands the server-assigned turn order
// to whoever starts the session. It never advances anything on its own.
type Lobby struct {
	cfg    Config
	target conn.Target
	conn   *conn.Manager
	log    *zap.Logger

	mu        sync.RWMutex
	roster    []string
	seq       int64
	started   bool
	turnOrder []string

	handlerMu sync.RWMutex
	handler   Handler
}

func New(parent context.Context, dialer conn.Dialer, cfg Config, h Handler) *Lobby {
	log := cfg.Conn.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("room", cfg.Room), zap.String("participant", cfg.Participant))
	cfg.Conn.Logger = log

	l := &Lobby{
		cfg: cfg,
		target: conn.Target{
			Base:        cfg.Base,
			Phase:       conn.PhaseLobby,
			Room:        cfg.Room,
			Participant: cfg.Participant,
		},
		log: log,
	}
	l.UpdateHandler(h)
	l.conn = conn.NewManager(parent, dialer, l, cfg.Conn)
	return l
}

// Start opens the lobby channel. A malformed address fails here, before any
// network attempt.
func (l *Lobby) Start() error {
	return l.conn.Connect(l.target)
}

// Close tears the lobby channel down for good.
func (l *Lobby) Close() {
	l.conn.Teardown()
}

func (l *Lobby) UpdateHandler(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	l.handlerMu.Lock()
	l.handler = h
	l.handlerMu.Unlock()
}

func (l *Lobby) Roster() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.roster)
}

func (l *Lobby) IsSelf(name string) bool {
	return name == l.cfg.Participant
}

// TurnOrder reports the captured order once game_start has arrived.
func (l *Lobby) TurnOrder() ([]string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.turnOrder), l.started
}

func (l *Lobby) Status() conn.Status {
	return l.conn.Status()
}

func (l *Lobby) OnOpen() {
	l.mu.Lock()
	// a fresh channel may come from a restarted authority with a new sequence
	l.seq = 0
	l.mu.Unlock()

	l.log.Info("joined lobby")
	if l.cfg.AnnounceJoin && !l.conn.Send(protocol.PlayerJoin{Player: l.cfg.Participant}) {
		l.log.Warn("player_join dropped")
	}
}

func (l *Lobby) OnMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.RosterUpdate:
		l.applyRoster(m)
	case protocol.GameStart:
		l.startGame(m)
	case *protocol.ServerError:
		l.currentHandler().OnError(m)
	default:
		l.log.Debug("ignoring message in lobby", zap.String("type", msg.MessageType()))
	}
}

func (l *Lobby) OnError(err error) {
	l.currentHandler().OnError(err)
}

func (l *Lobby) OnClose(err error) {
	l.log.Debug("lobby channel closed", zap.Error(err))
}

func (l *Lobby) applyRoster(m protocol.RosterUpdate) {
	l.mu.Lock()
	if m.Seq > 0 && m.Seq <= l.seq {
		l.mu.Unlock()
		l.log.Debug("dropping stale roster", zap.Int64("seq", m.Seq))
		return
	}
	if m.Seq > 0 {
		l.seq = m.Seq
	}
	if slices.Equal(l.roster, m.Players) {
		l.mu.Unlock()
		return
	}
	l.roster = slices.Clone(m.Players)
	roster := slices.Clone(l.roster)
	l.mu.Unlock()

	l.log.Debug("roster changed", zap.String("event", m.Type), zap.Strings("players", roster))
	l.currentHandler().OnRosterChange(roster)
}

func (l *Lobby) startGame(m protocol.GameStart) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		l.log.Debug("ignoring repeated game_start")
		return
	}
	l.started = true
	l.turnOrder = slices.Clone(m.TurnOrder)
	order := slices.Clone(l.turnOrder)
	l.mu.Unlock()

	l.log.Info("game starting", zap.Strings("turn_order", order))
	l.currentHandler().OnGameStart(order)
}

func (l *Lobby) currentHandler() Handler {
	l.handlerMu.RLock()
	defer l.handlerMu.RUnlock()
	return l.handler
}
