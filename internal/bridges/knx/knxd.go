package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// maxFrameSize bounds a single knxd frame; group packets are far smaller.
	maxFrameSize = 256

	callbackQueueSize = 100
)

// ClientConfig configures the knxd connection.
type ClientConfig struct {
	// Connection is "tcp://host:port" or "unix:///path".
	Connection string

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
}

// Stats are the client's counters.
type Stats struct {
	TelegramsTx      uint64
	TelegramsRx      uint64
	TelegramsDropped uint64
	ErrorsTotal      uint64
	ReconnectsTotal  uint64
	LastActivity     time.Time
	Connected        bool
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connector is the bus access a Climate needs.
type Connector interface {
	Send(ctx context.Context, t Telegram) error
	IsConnected() bool
}

var _ Connector = (*Client)(nil)

// Client is a knxd group socket client.
//
// Telegrams are delivered in arrival order on a single callback goroutine.
// A lost connection is re-established with a 1.5x backoff capped at two
// minutes until Close is called.
type Client struct {
	cfg              ClientConfig
	network, address string

	mu        sync.RWMutex
	conn      net.Conn
	connected bool

	handlersMu   sync.RWMutex
	onTelegram   []func(Telegram)
	onConnection []func(bool)

	queue     chan Telegram
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger Logger

	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// Connect dials knxd, opens a group socket and starts receiving.
func Connect(ctx context.Context, cfg ClientConfig, logger Logger) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:     cfg,
		network: network,
		address: address,
		queue:   make(chan Telegram, callbackQueueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	c.lastActivity.Store(time.Now().Unix())

	c.wg.Add(2)
	go c.dispatchLoop()
	go c.receiveLoop()

	c.logger.Info("connected to knxd", "connection", cfg.Connection)
	return c, nil
}

func parseConnectionURL(raw string) (network, address string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "tcp", "localhost:6720", nil
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// dial connects and completes the EIB_OPEN_GROUPCON handshake.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s://%s: %w", ErrConnectionFailed, c.network, c.address, err)
	}

	if err := openGroupCon(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}
	return conn, nil
}

func openGroupCon(ctx context.Context, conn net.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
		defer conn.SetDeadline(time.Time{}) //nolint:errcheck // cleared on a live conn
	}

	// write_only=0x00: send and receive.
	if _, err := conn.Write(EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	msgType, _, err := readFrame(conn)
	if err != nil {
		return err
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// readFrame reads one size-prefixed knxd frame.
func readFrame(r io.Reader) (uint16, []byte, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := int(binary.BigEndian.Uint16(head[:]))
	if size < 2 || size+2 > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: frame size %d", ErrProtocolDesync, size)
	}

	frame := make([]byte, size+2)
	copy(frame, head[:])
	if _, err := io.ReadFull(r, frame[2:]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return ParseKNXDMessage(frame)
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		msgType, payload, err := readFrame(conn)
		if err != nil {
			if c.closed() {
				return
			}
			c.errorsTotal.Add(1)
			c.logger.Warn("knxd connection lost", "error", err)
			c.setDisconnected()
			if !c.reconnect() {
				return
			}
			continue
		}

		if msgType != EIBGroupPacket {
			continue
		}

		t, err := ParseTelegram(payload)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logger.Debug("dropping malformed telegram", "error", err)
			continue
		}

		c.telegramsRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		select {
		case c.queue <- t:
		default:
			c.telegramsDropped.Add(1)
			c.logger.Warn("telegram queue full, dropping", "ga", t.Destination.String())
		}
	}
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case t := <-c.queue:
			c.handlersMu.RLock()
			handlers := append([]func(Telegram){}, c.onTelegram...)
			c.handlersMu.RUnlock()

			for _, h := range handlers {
				c.safeCall(func() { h(t) })
			}
		}
	}
}

func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("knx callback panic recovered", "panic", r)
		}
	}()
	fn()
}

// reconnect retries until it succeeds (true) or Close is called (false).
func (c *Client) reconnect() bool {
	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.dial(ctx)
		cancel()

		if err == nil {
			c.reconnectsTotal.Add(1)
			c.setConn(conn)
			c.logger.Info("reconnected to knxd", "attempt", attempt)
			return true
		}

		c.errorsTotal.Add(1)
		c.logger.Warn("knxd reconnect failed", "attempt", attempt, "error", err)
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval)
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.notifyConnection(true)
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	if was {
		c.notifyConnection(false)
	}
}

func (c *Client) notifyConnection(up bool) {
	c.handlersMu.RLock()
	handlers := append([]func(bool){}, c.onConnection...)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall(func() { h(up) })
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OnTelegram adds a handler for received telegrams.
func (c *Client) OnTelegram(h func(Telegram)) {
	c.handlersMu.Lock()
	c.onTelegram = append(c.onTelegram, h)
	c.handlersMu.Unlock()
}

// OnConnectionChange adds a handler called when the link goes up or down.
func (c *Client) OnConnectionChange(h func(connected bool)) {
	c.handlersMu.Lock()
	c.onConnection = append(c.onConnection, h)
	c.handlersMu.Unlock()
}

// Send writes a telegram to the bus.
func (c *Client) Send(ctx context.Context, t Telegram) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTelegramFailed, err)
	}

	if _, err := conn.Write(EncodeKNXDMessage(EIBGroupPacket, t.Encode())); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrTelegramFailed, err)
	}

	c.telegramsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logger.Debug("telegram sent", "telegram", t.String())
	return nil
}

// IsConnected reports whether the group socket is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck returns ErrNotConnected while the link is down.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	return Stats{
		TelegramsTx:      c.telegramsTx.Load(),
		TelegramsRx:      c.telegramsRx.Load(),
		TelegramsDropped: c.telegramsDropped.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnectsTotal.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
	}
}

// Close stops the client. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.logger.Info("knxd connection closed")
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
