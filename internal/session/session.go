package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyturns/internal/conn"
	"github.com/DoyleJ11/storyturns/internal/protocol"
)

// Handler receives session updates from the session loop, one at a time.
// Each state passed to OnState is a private copy.
type Handler interface {
	OnState(state State, events []Event)
	OnError(err error)
	OnConnection(status conn.Status)
}

type HandlerFuncs struct {
	State      func(State, []Event)
	Error      func(error)
	Connection func(conn.Status)
}

func (f HandlerFuncs) OnState(state State, events []Event) {
	if f.State != nil {
		f.State(state, events)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f HandlerFuncs) OnConnection(status conn.Status) {
	if f.Connection != nil {
		f.Connection(status)
	}
}

type Config struct {
	Base         string
	Room         string
	Participant  string
	TickInterval time.Duration
	Conn         conn.Options
	// Ticks replaces the countdown ticker when set.
	Ticks <-chan time.Time
}

type sessionMsg interface{ isSessionMsg() }

type inbound struct{ msg protocol.Message }

type connChanged struct{}

type connFailed struct{ err error }

func (inbound) isSessionMsg()     {}
func (connChanged) isSessionMsg() {}
func (connFailed) isSessionMsg()  {}

// Session mirrors one server-driven story round on its own channel. Inbound
// messages and countdown ticks are applied on a single loop goroutine.
type Session struct {
	cfg    Config
	target conn.Target
	conn   *conn.Manager
	log    *zap.Logger

	inbox     chan sessionMsg
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// owned by loop; nil when Ticks is injected
	ticker *time.Ticker

	mu    sync.RWMutex
	state State
	draft string

	handlerMu sync.RWMutex
	handler   Handler
}

func New(parent context.Context, dialer conn.Dialer, cfg Config, turnOrder []string, h Handler) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	log := cfg.Conn.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("room", cfg.Room), zap.String("participant", cfg.Participant))
	cfg.Conn.Logger = log

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg: cfg,
		target: conn.Target{
			Base:        cfg.Base,
			Phase:       conn.PhaseSession,
			Room:        cfg.Room,
			Participant: cfg.Participant,
		},
		log:    log,
		inbox:  make(chan sessionMsg, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  NewState(turnOrder),
	}
	s.UpdateHandler(h)
	s.conn = conn.NewManager(ctx, dialer, conn.HandlerFuncs{
		Open:    func() { s.post(connChanged{}) },
		Message: func(msg protocol.Message) { s.post(inbound{msg: msg}) },
		Error:   func(err error) { s.post(connFailed{err: err}) },
		Close:   func(error) { s.post(connChanged{}) },
	}, cfg.Conn)

	go s.loop()
	return s
}

// Start opens the session channel.
func (s *Session) Start() error {
	return s.conn.Connect(s.target)
}

// Close tears down the channel, any pending reconnect and the countdown
// together. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Teardown()
		s.cancel()
	})
}

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) UpdateHandler(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// Submit sends this participant's contribution. It only goes upstream when
// it is our turn and the text is not blank; otherwise nothing happens. The
// story log changes only when the server echoes the line back.
func (s *Session) Submit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.RLock()
	mine := s.state.IsMyTurn(s.cfg.Participant)
	s.mu.RUnlock()
	if !mine {
		s.log.Debug("submit ignored, not our turn")
		return false
	}

	if !s.conn.Send(protocol.SubmitSentence{Player: s.cfg.Participant, Text: text}) {
		return false
	}
	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()
	return true
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Session) IsMyTurn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsMyTurn(s.cfg.Participant)
}

// SetDraft stores partially typed input. It is cleared when a new round
// starts and after a successful submit.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Session) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

func (s *Session) Participant() string { return s.cfg.Participant }

func (s *Session) Status() conn.Status {
	return s.conn.Status()
}

func (s *Session) loop() {
	defer close(s.done)

	ticks := s.cfg.Ticks
	if ticks == nil {
		s.ticker = time.NewTicker(s.cfg.TickInterval)
		defer s.ticker.Stop()
		ticks = s.ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticks:
			s.tick()

		case in := <-s.inbox:
			switch m := in.(type) {
			case inbound:
				s.apply(m.msg)
			case connChanged:
				if s.ctx.Err() == nil {
					s.currentHandler().OnConnection(s.conn.Status())
				}
			case connFailed:
				if s.ctx.Err() == nil {
					s.currentHandler().OnConnection(s.conn.Status())
					s.currentHandler().OnError(m.err)
				}
			}
		}
	}
}

func (s *Session) apply(msg protocol.Message) {
	if s.ctx.Err() != nil {
		return
	}
	if se, ok := msg.(*protocol.ServerError); ok {
		s.currentHandler().OnError(se)
		return
	}

	s.mu.Lock()
	events, next, err := Apply(s.state, msg)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrSessionCompleted) {
			s.log.Debug("ignoring message after completion", zap.String("type", msg.MessageType()))
		} else {
			s.log.Debug("ignoring message", zap.Error(err))
		}
		return
	}
	s.state = next
	for _, e := range events {
		switch e.Type {
		case EvtRoundAdvanced:
			s.draft = ""
		case EvtTimerReset:
			// the countdown restarts from the reset, not the previous tick
			if s.ticker != nil {
				s.ticker.Reset(s.cfg.TickInterval)
			}
		}
	}
	snapshot := next.clone()
	s.mu.Unlock()

	if snapshot.Completed {
		s.log.Info("session complete", zap.Any("scores", snapshot.Scores))
	}
	s.currentHandler().OnState(snapshot, events)
}

func (s *Session) tick() {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	next, changed := Tick(s.state)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.state = next
	snapshot := next.clone()
	s.mu.Unlock()

	s.currentHandler().OnState(snapshot, []Event{{Type: EvtTimerTicked, Player: snapshot.CurrentTurn}})
}

func (s *Session) post(msg sessionMsg) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Session) currentHandler() Handler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handler
}
