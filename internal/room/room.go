package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/lobby"
	"github.com/DoyleJ11/storyturns/internal/session"
)

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseSession  Phase = "session"
	PhaseComplete Phase = "complete"
	PhaseClosed   Phase = "closed"
)

// CodeLength is the size of codes handed out by the join command.
const CodeLength = 6

var ErrCodeLength = errors.New("room code length out of range")

// NewCode returns a random room code of length characters drawn from the
// base32 alphabet (A-Z, 2-7), which has no 0/O or 1/I pairs to misread.
func NewCode(length int) (string, error) {
	text := rand.Text()
	if length < 1 || length > len(text) {
		return "", fmt.Errorf("%w: %d", ErrCodeLength, length)
	}
	return text[:length], nil
}

// Recorder persists a finished session.
type Recorder interface {
	SaveTranscript(ctx context.Context, room, participant string, final session.State) (string, error)
}

// Handler receives room notifications from the room loop. Handlers must not
// call Close.
type Handler interface {
	OnRoster(roster []string)
	OnPhase(phase Phase)
	OnSession(state session.State, events []session.Event)
	OnError(err error)
}

type HandlerFuncs struct {
	Roster  func([]string)
	Phase   func(Phase)
	Session func(session.State, []session.Event)
	Error   func(error)
}

func (f HandlerFuncs) OnRoster(roster []string) {
	if f.Roster != nil {
		f.Roster(roster)
	}
}

func (f HandlerFuncs) OnPhase(phase Phase) {
	if f.Phase != nil {
		f.Phase(phase)
	}
}

func (f HandlerFuncs) OnSession(state session.State, events []session.Event) {
	if f.Session != nil {
		f.Session(state, events)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type Config struct {
	Base        string
	Code        string
	Participant string
	// SessionName names the session channel. Defaults to Code.
	SessionName  string
	AnnounceJoin bool
	TickInterval time.Duration
	Ticks        <-chan time.Time
	Conn         conn.Options
	Recorder     Recorder
}

type roomMsg interface{ isRoomMsg() }

type startReq struct{ reply chan error }

type rosterChanged struct{ roster []string }

type gameStarted struct{ turnOrder []string }

type sessionUpdated struct {
	state  session.State
	events []session.Event
}

type failed struct{ err error }

type submitReq struct {
	text  string
	reply chan bool
}

type phaseReq struct{ reply chan Phase }

type shutdownReq struct{}

func (startReq) isRoomMsg()       {}
func (rosterChanged) isRoomMsg()  {}
func (gameStarted) isRoomMsg()    {}
func (sessionUpdated) isRoomMsg() {}
func (failed) isRoomMsg()         {}
func (submitReq) isRoomMsg()      {}
func (phaseReq) isRoomMsg()       {}
func (shutdownReq) isRoomMsg()    {}

// Room drives one participant through a room: the lobby first, then a
// session on a fresh channel once the authority starts the game. All phase
// changes happen on the room loop.
type Room struct {
	cfg    Config
	dialer conn.Dialer
	log    *zap.Logger

	inbox     chan roomMsg
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	handlerMu sync.RWMutex
	handler   Handler

	// owned by loop
	phase   Phase
	lobby   *lobby.Lobby
	session *session.Session
	saved   bool
}

func New(parent context.Context, dialer conn.Dialer, cfg Config, h Handler) *Room {
	if cfg.SessionName == "" {
		cfg.SessionName = cfg.Code
	}
	if cfg.Conn.Logger == nil {
		cfg.Conn.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		cfg:    cfg,
		dialer: dialer,
		log:    cfg.Conn.Logger.With(zap.String("room", cfg.Code), zap.String("participant", cfg.Participant)),
		inbox:  make(chan roomMsg, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		phase:  PhaseLobby,
	}
	r.UpdateHandler(h)
	r.lobby = lobby.New(ctx, dialer, lobby.Config{
		Base:         cfg.Base,
		Room:         cfg.Code,
		Participant:  cfg.Participant,
		AnnounceJoin: cfg.AnnounceJoin,
		Conn:         cfg.Conn,
	}, lobby.HandlerFuncs{
		RosterChange: func(roster []string) { r.post(rosterChanged{roster: roster}) },
		GameStart:    func(order []string) { r.post(gameStarted{turnOrder: order}) },
		Error:        func(err error) { r.post(failed{err: err}) },
	})

	go r.loop()
	return r
}

// Start joins the lobby.
func (r *Room) Start() error {
	reply := make(chan error, 1)
	if !r.post(startReq{reply: reply}) {
		return conn.ErrTornDown
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return conn.ErrTornDown
	}
}

// Submit forwards text to the running session. False outside the session
// phase or when the session refuses it.
func (r *Room) Submit(text string) bool {
	reply := make(chan bool, 1)
	if !r.post(submitReq{text: text, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-r.done:
		return false
	}
}

func (r *Room) Phase() Phase {
	reply := make(chan Phase, 1)
	if !r.post(phaseReq{reply: reply}) {
		return PhaseClosed
	}
	select {
	case p := <-reply:
		return p
	case <-r.done:
		return PhaseClosed
	}
}

// Close leaves the room and waits for the room loop to exit.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.post(shutdownReq{})
		<-r.done
	})
}

func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) UpdateHandler(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	r.handlerMu.Lock()
	r.handler = h
	r.handlerMu.Unlock()
}

func (r *Room) loop() {
	defer close(r.done)
	defer r.cancel()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case startReq:
				msg.reply <- r.lobby.Start()

			case rosterChanged:
				if r.phase == PhaseLobby {
					r.currentHandler().OnRoster(msg.roster)
				}

			case gameStarted:
				r.startSession(msg.turnOrder)

			case sessionUpdated:
				r.currentHandler().OnSession(msg.state, msg.events)
				if msg.state.Completed {
					r.complete(msg.state)
				}

			case failed:
				r.currentHandler().OnError(msg.err)

			case submitReq:
				msg.reply <- r.session != nil && r.phase == PhaseSession && r.session.Submit(msg.text)

			case phaseReq:
				msg.reply <- r.phase

			case shutdownReq:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) startSession(turnOrder []string) {
	if r.phase != PhaseLobby {
		return
	}
	// the session runs on its own channel
	r.lobby.Close()

	r.session = session.New(r.ctx, r.dialer, session.Config{
		Base:         r.cfg.Base,
		Room:         r.cfg.SessionName,
		Participant:  r.cfg.Participant,
		TickInterval: r.cfg.TickInterval,
		Ticks:        r.cfg.Ticks,
		Conn:         r.cfg.Conn,
	}, slices.Clone(turnOrder), session.HandlerFuncs{
		State: func(s session.State, events []session.Event) { r.post(sessionUpdated{state: s, events: events}) },
		Error: func(err error) { r.post(failed{err: err}) },
		Connection: func(status conn.Status) {
			r.log.Debug("session channel", zap.Stringer("state", status.State), zap.Int("attempt", status.Attempts))
		},
	})
	r.setPhase(PhaseSession)

	if err := r.session.Start(); err != nil {
		r.currentHandler().OnError(err)
	}
}

func (r *Room) complete(final session.State) {
	if r.saved {
		return
	}
	r.saved = true
	r.setPhase(PhaseComplete)

	if r.cfg.Recorder == nil {
		return
	}
	id, err := r.cfg.Recorder.SaveTranscript(r.ctx, r.cfg.SessionName, r.cfg.Participant, final)
	if err != nil {
		r.log.Error("saving transcript", zap.Error(err))
		r.currentHandler().OnError(err)
		return
	}
	r.log.Info("transcript saved", zap.String("transcript_id", id))
}

func (r *Room) shutdown() {
	r.lobby.Close()
	if r.session != nil {
		r.session.Close()
	}
	r.phase = PhaseClosed
}

func (r *Room) setPhase(p Phase) {
	if r.phase == p {
		return
	}
	r.log.Info("phase changed", zap.String("from", string(r.phase)), zap.String("to", string(p)))
	r.phase = p
	r.currentHandler().OnPhase(p)
}

func (r *Room) post(msg roomMsg) bool {
	select {
	case r.inbox <- msg:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) currentHandler() Handler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.handler
}
