package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyturns/internal/protocol"
)

var ErrTornDown = errors.New("connection manager torn down")
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Dialer opens one transport channel. internal/ws provides the websocket one.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// Channel is a single bidirectional, ordered message stream.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Handler receives events for the active channel only. Calls are made one at
// a time, in delivery order, from a single goroutine.
type Handler interface {
	OnOpen()
	OnMessage(msg protocol.Message)
	OnError(err error)
	OnClose(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open    func()
	Message func(protocol.Message)
	Error   func(error)
	Close   func(error)
}

func (f HandlerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f HandlerFuncs) OnMessage(msg protocol.Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f HandlerFuncs) OnClose(err error) {
	if f.Close != nil {
		f.Close(err)
	}
}

type Options struct {
	// MaxAttempts bounds consecutive reconnect attempts. Zero disables
	// automatic reconnection.
	MaxAttempts  int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type managerMsg interface{ isManagerMsg() }

type connectReq struct {
	target Target
	done   chan struct{}
}

type openChannelReq struct {
	reply chan Channel
}

type teardownReq struct {
	done chan struct{}
}

// Transport events are tagged with the generation of the channel that
// produced them; anything from an older generation is stale.
type dialResult struct {
	gen uint64
	ch  Channel
	err error
}

type frameIn struct {
	gen  uint64
	data []byte
}

type channelClosed struct {
	gen uint64
	err error
}

type retryDue struct {
	gen uint64
}

func (connectReq) isManagerMsg()     {}
func (openChannelReq) isManagerMsg() {}
func (teardownReq) isManagerMsg()    {}
func (dialResult) isManagerMsg()     {}
func (frameIn) isManagerMsg()        {}
func (channelClosed) isManagerMsg()  {}
func (retryDue) isManagerMsg()       {}

// Manager owns at most one channel at a time and keeps it alive with a
// fixed-delay, bounded retry loop. All state transitions happen on one loop
// goroutine; handler callbacks run on a second goroutine fed by a FIFO queue.
type Manager struct {
	dialer Dialer
	opts   Options
	log    *zap.Logger

	inbox    chan managerMsg
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inactive atomic.Bool

	callbacks *queue[func(Handler)]
	handlerMu sync.RWMutex
	handler   Handler

	statusMu sync.RWMutex
	status   Status

	// owned by loop
	state    State
	attempts int
	target   Target
	gen      uint64
	ch       Channel
	chCtx    context.Context
	chCancel context.CancelFunc
	retry    *time.Timer
	lastErr  error
}

func NewManager(parent context.Context, dialer Dialer, h Handler, opts Options) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	m := &Manager{
		dialer:    dialer,
		opts:      opts,
		log:       opts.Logger.With(zap.String("conn_id", uuid.NewString())),
		inbox:     make(chan managerMsg, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		callbacks: newQueue[func(Handler)](),
	}
	m.SetHandler(h)
	m.publish()

	go m.loop()
	go m.dispatch()
	return m
}

// Connect validates target and opens a channel to it. While a channel is
// connecting or open the call is a no-op.
func (m *Manager) Connect(target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if m.inactive.Load() {
		return ErrTornDown
	}

	done := make(chan struct{})
	if !m.post(connectReq{target: target, done: done}) {
		return ErrTornDown
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrTornDown
	}
}

// Send writes cmd to the open channel. A false return means the command was
// dropped; it is never retried here.
func (m *Manager) Send(cmd protocol.Command) bool {
	if m.inactive.Load() {
		return false
	}
	data, err := protocol.Encode(cmd)
	if err != nil {
		m.log.Error("encode command", zap.String("type", cmd.CommandType()), zap.Error(err))
		return false
	}

	ch := m.openChannel()
	if ch == nil {
		m.log.Debug("dropping command, channel not open", zap.String("type", cmd.CommandType()))
		return false
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := ch.Write(ctx, data); err != nil {
		m.log.Warn("write failed", zap.String("type", cmd.CommandType()), zap.Error(err))
		return false
	}
	return true
}

// Teardown is terminal and idempotent: pending retries, in-flight dials,
// queued callbacks and the channel itself all go away together.
func (m *Manager) Teardown() {
	m.inactive.Store(true)
	done := make(chan struct{})
	select {
	case m.inbox <- teardownReq{done: done}:
		select {
		case <-done:
		case <-m.done:
		}
	case <-m.done:
	}
	m.cancel()
}

func (m *Manager) SetHandler(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

func (m *Manager) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// Done is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) loop() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case in := <-m.inbox:
			switch msg := in.(type) {
			case connectReq:
				m.connect(msg.target)
				close(msg.done)

			case openChannelReq:
				if m.state == StateOpen {
					msg.reply <- m.ch
				} else {
					msg.reply <- nil
				}

			case dialResult:
				m.handleDial(msg)

			case frameIn:
				m.handleFrame(msg)

			case channelClosed:
				m.handleClosed(msg)

			case retryDue:
				if msg.gen != m.gen || m.state != StateReconnecting {
					break
				}
				m.retry = nil
				m.log.Info("reconnecting",
					zap.Stringer("target", m.target),
					zap.Int("attempt", m.attempts),
					zap.Int("max_attempts", m.opts.MaxAttempts))
				m.dial()

			case teardownReq:
				m.shutdown()
				close(msg.done)
				return
			}
		}
	}
}

func (m *Manager) connect(target Target) {
	if m.state == StateConnecting || m.state == StateOpen {
		m.log.Debug("connect ignored, channel already active", zap.Stringer("state", m.state))
		return
	}

	m.stopRetry()
	m.closeChannel()
	m.target = target
	m.attempts = 0
	m.lastErr = nil
	m.dial()
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	m.chCtx, m.chCancel = ctx, cancel
	m.setState(StateConnecting)

	url := m.target.URL()
	go func() {
		ch, err := m.dialer.Dial(ctx, url)
		if !m.post(dialResult{gen: gen, ch: ch, err: err}) && ch != nil {
			_ = ch.Close()
		}
	}()
}

func (m *Manager) handleDial(msg dialResult) {
	if msg.gen != m.gen {
		if msg.ch != nil {
			_ = msg.ch.Close()
		}
		return
	}
	if msg.err != nil {
		m.log.Warn("dial failed", zap.Stringer("target", m.target), zap.Error(msg.err))
		m.closeChannel()
		m.lastErr = msg.err
		m.scheduleRetry(msg.err)
		return
	}

	m.ch = msg.ch
	m.attempts = 0
	m.lastErr = nil
	m.setState(StateOpen)
	m.log.Info("channel open", zap.Stringer("target", m.target))
	m.emit(func(h Handler) { h.OnOpen() })

	go m.read(m.chCtx, msg.gen, msg.ch)
}

func (m *Manager) read(ctx context.Context, gen uint64, ch Channel) {
	for {
		data, err := ch.Read(ctx)
		if err != nil {
			m.post(channelClosed{gen: gen, err: err})
			return
		}
		if !m.post(frameIn{gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) handleFrame(msg frameIn) {
	if msg.gen != m.gen || m.state != StateOpen {
		return
	}

	decoded, err := protocol.Decode(msg.data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			m.log.Debug("dropping frame of unknown type", zap.Error(err))
			return
		}
		m.log.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("frame", clip(msg.data, 256)))
		return
	}
	m.emit(func(h Handler) { h.OnMessage(decoded) })
}

func (m *Manager) handleClosed(msg channelClosed) {
	if msg.gen != m.gen || m.ch == nil {
		return
	}

	m.log.Warn("channel closed unexpectedly", zap.Stringer("target", m.target), zap.Error(msg.err))
	m.closeChannel()
	m.lastErr = msg.err
	m.emit(func(h Handler) { h.OnClose(msg.err) })
	m.scheduleRetry(msg.err)
}

func (m *Manager) scheduleRetry(cause error) {
	if m.attempts >= m.opts.MaxAttempts {
		err := fmt.Errorf("%w: gave up after %d attempts: %v", ErrReconnectExhausted, m.attempts, cause)
		m.lastErr = err
		m.setState(StateFailed)
		m.log.Error("connection failed", zap.Stringer("target", m.target), zap.Error(err))
		m.emit(func(h Handler) { h.OnError(err) })
		return
	}

	m.attempts++
	m.setState(StateReconnecting)
	gen := m.gen
	m.retry = time.AfterFunc(m.opts.RetryDelay, func() {
		m.post(retryDue{gen: gen})
	})
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// closeChannel closes before cancelling so the transport gets a chance at a
// clean closing handshake.
func (m *Manager) closeChannel() {
	if m.ch != nil {
		if err := m.ch.Close(); err != nil {
			m.log.Debug("close channel", zap.Error(err))
		}
		m.ch = nil
	}
	if m.chCancel != nil {
		m.chCancel()
		m.chCancel = nil
	}
}

func (m *Manager) shutdown() {
	m.inactive.Store(true)
	m.stopRetry()
	m.closeChannel()
	m.gen++
	m.setState(StateClosed)
	m.callbacks.close()
	m.log.Debug("connection manager shut down")
}

func (m *Manager) setState(s State) {
	m.state = s
	m.publish()
}

func (m *Manager) publish() {
	st := Status{
		State:     m.state,
		Attempts:  m.attempts,
		Connected: m.state == StateOpen,
	}
	if m.lastErr != nil {
		st.Err = m.lastErr.Error()
	}
	m.statusMu.Lock()
	m.status = st
	m.statusMu.Unlock()
}

func (m *Manager) openChannel() Channel {
	reply := make(chan Channel, 1)
	if !m.post(openChannelReq{reply: reply}) {
		return nil
	}
	select {
	case ch := <-reply:
		return ch
	case <-m.done:
		return nil
	}
}

// post hands msg to the loop. It reports false once the manager is gone.
func (m *Manager) post(msg managerMsg) bool {
	select {
	case m.inbox <- msg:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) emit(fn func(Handler)) {
	m.callbacks.push(fn)
}

func (m *Manager) dispatch() {
	for {
		fn, ok := m.callbacks.pop()
		if !ok {
			return
		}
		if m.inactive.Load() {
			continue
		}
		m.handlerMu.RLock()
		h := m.handler
		m.handlerMu.RUnlock()
		fn(h)
	}
}

func clip(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
