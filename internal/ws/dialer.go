package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyturns/internal/conn"
)

var ErrHandshakeTimeout = errors.New("websocket handshake timed out")

// DefaultReadLimit caps inbound frames when Dialer.ReadLimit is unset. A
// finished story with scores travels in a single frame and can outgrow the
// library's 32 KiB default.
const DefaultReadLimit int64 = 1 << 20

// Dialer opens websocket channels for conn.Manager.
type Dialer struct {
	HandshakeTimeout time.Duration
	// ReadLimit caps a single inbound frame; zero means DefaultReadLimit.
	ReadLimit  int64
	Header     http.Header
	HTTPClient *http.Client
	Logger     *zap.Logger
}

var _ conn.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, url string) (conn.Channel, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// ctx must outlive the handshake: the connection is bound to it. The
	// timeout therefore only cancels while the handshake is still running.
	hctx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if d.HandshakeTimeout > 0 {
		timer = time.AfterFunc(d.HandshakeTimeout, cancel)
	}

	c, _, err := websocket.Dial(hctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if timer != nil && !timer.Stop() {
		cancel()
		if c != nil {
			_ = c.CloseNow()
		}
		return nil, fmt.Errorf("dial %s: %w", url, ErrHandshakeTimeout)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	log.Debug("websocket dialled", zap.String("url", url))
	return &channel{c: c, cancel: cancel, log: log}, nil
}

type channel struct {
	c      *websocket.Conn
	cancel context.CancelFunc
	log    *zap.Logger
	once   sync.Once
	err    error
}

func (ch *channel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := ch.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (ch *channel) Write(ctx context.Context, data []byte) error {
	return ch.c.Write(ctx, websocket.MessageText, data)
}

// Close performs the closing handshake, bounded by the library's own close
// timeout.
func (ch *channel) Close() error {
	ch.once.Do(func() {
		ch.err = ch.c.Close(websocket.StatusNormalClosure, "bye")
		ch.cancel()
		if ch.err != nil {
			ch.log.Debug("websocket close", zap.Error(ch.err))
		}
	})
	return ch.err
}
