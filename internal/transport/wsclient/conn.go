package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/pkg/roomdto"
)

// State is the connection status shown to the player.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

var ErrNotConnected = errors.New("wsclient: not connected")

const readLimit = 1 << 20

type FrameCallback func(frame roomdto.Frame)

type StateCallback func(state State)

type Config struct {
	URL string
	// MaxReconnects bounds consecutive redial attempts. Zero disables reconnecting.
	MaxReconnects  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	DialTimeout    time.Duration
	Header         http.Header
}

type frameEntry struct {
	id       int
	callback FrameCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

// Conn is a websocket connection to one room that redials on loss.
type Conn struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	cancel context.CancelFunc

	cbM      sync.RWMutex
	frameCbs []frameEntry
	stateCbs []stateEntry
	nextID   int

	rootCtx    context.Context
	rootCancel context.CancelFunc
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func New(cfg Config) *Conn {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		cfg:        cfg,
		log:        obslog.Named("wsclient"),
		state:      StateDisconnected,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// RoomURL builds the websocket URL of a room from an http(s) or ws(s) base.
func RoomURL(base, room, password string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("wsclient: unsupported scheme " + u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("room", room)
	if password != "" {
		q.Set("password", password)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials once. On failure it returns the error and keeps redialing in
// the background when reconnects are enabled.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if c.stopping() {
		return ErrNotConnected
	}
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("ws_dial_error", zap.Error(err))
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.cfg.Header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (c *Conn) attach(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(ctx, conn)
	go c.pingLoop(ctx, conn)
}

func (c *Conn) listen(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var frame roomdto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if c.stopping() {
				return
			}
			c.log.Info("ws_read_closed", zap.Error(err))
			c.lost(conn, "read error")
			return
		}

		c.cbM.RLock()
		callbacks := make([]frameEntry, len(c.frameCbs))
		copy(callbacks, c.frameCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(frame)
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if !c.stopping() {
					c.lost(conn, "ping failure")
				}
				return
			}
		}
	}
}

// lost retires conn once and starts redialing.
func (c *Conn) lost(conn *websocket.Conn, reason string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusGoingAway, reason)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	if c.cfg.MaxReconnects <= 0 || c.stopping() {
		return
	}
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.cfg.InitialBackoff
		eb.MaxInterval = c.cfg.MaxBackoff
		eb.MaxElapsedTime = 0
		b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxReconnects)), c.rootCtx)

		var conn *websocket.Conn
		op := func() error {
			cn, err := c.dial(c.rootCtx)
			if err != nil {
				return err
			}
			conn = cn
			return nil
		}
		notify := func(err error, next time.Duration) {
			c.log.Debug("ws_redial_retry", zap.Error(err), zap.Duration("next", next))
		}
		// the first attempt also waits, so a flapping server is not hammered
		select {
		case <-c.rootCtx.Done():
			return
		case <-time.After(c.cfg.InitialBackoff):
		}
		if err := backoff.RetryNotify(op, b, notify); err != nil {
			if c.stopping() {
				return
			}
			c.log.Warn("ws_reconnect_failed", zap.Error(err), zap.Int("attempts", c.cfg.MaxReconnects))
			c.setState(StateFailed)
			return
		}
		if c.stopping() {
			_ = conn.Close(websocket.StatusNormalClosure, "close")
			return
		}
		c.log.Info("ws_reconnected", zap.String("url", redactURL(c.cfg.URL)))
		c.attach(conn)
	}()
}

// Send writes one frame. It fails fast while the connection is down.
func (c *Conn) Send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	frame, err := roomdto.NewFrame(typ, payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, frame)
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) OnFrame(cb FrameCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.frameCbs = append(c.frameCbs, frameEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Conn) RemoveFrameCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.frameCbs {
		if cb.id == id {
			c.frameCbs = append(c.frameCbs[:i], c.frameCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Conn) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(state)
	}
}

// Close stops reconnecting, closes the socket and waits for the loops.
func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(c.rootCancel)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Conn) stopping() bool {
	return c.rootCtx.Err() != nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
