package chainevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client subscribes to Move events on a Sui fullnode websocket and emits a
// nudge whenever an event for the watched token's module arrives. The
// detectors poll regardless; the nudge only wakes them early so ticket
// credits land within a second or two of the trade instead of a full poll
// interval later.
type Client struct {
	logger *zap.Logger

	wsURL  string
	dialer *websocket.Dialer

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	nudgeCh chan struct{}
	errCh   chan error
	closeCh chan struct{} // per connection, recreated on Connect

	msgCount        uint64
	lastMsgUnixNano int64
}

func NewClient(logger *zap.Logger, wsURL string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:  logger,
		wsURL:   wsURL,
		dialer:  websocket.DefaultDialer,
		nudgeCh: make(chan struct{}, 1),
		errCh:   make(chan error, 16),
	}
}

// Connect dials the fullnode and subscribes to events emitted by the
// package/module of the given coin type.
func (c *Client) Connect(ctx context.Context, coinType string) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	pkg, module, err := splitCoinType(coinType)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial fullnode ws: %w", err)
	}

	c.logger.Info("fullnode ws dialed",
		zap.String("url", c.wsURL),
		zap.String("module", pkg+"::"+module),
	)

	done := make(chan struct{})
	c.connMu.Lock()
	c.conn = conn
	c.closeCh = done
	c.connMu.Unlock()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "suix_subscribeEvent",
		"params": []any{
			map[string]any{
				"MoveEventModule": map[string]any{
					"package": pkg,
					"module":  module,
				},
			},
		},
	}
	if err := c.writeJSON(sub); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send event subscription: %w", err)
	}

	go c.readLoop(conn)
	go c.pingLoop(conn, done)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()

	return nil
}

// Nudges delivers at most one pending wake-up; coalesced, never blocking.
func (c *Client) Nudges() <-chan struct{} {
	return c.nudgeCh
}

func (c *Client) Errors() <-chan error {
	return c.errCh
}

// Stats returns message counters for the runner's periodic status log.
func (c *Client) Stats() (count uint64, last time.Time) {
	count = atomic.LoadUint64(&c.msgCount)
	if nano := atomic.LoadInt64(&c.lastMsgUnixNano); nano > 0 {
		last = time.Unix(0, nano)
	}
	return count, last
}

// Close tears down the current connection. The client can Connect again
// afterwards, which is how the runner re-subscribes on a raffle switch.
func (c *Client) Close() error {
	c.connMu.Lock()
	conn := c.conn
	done := c.closeCh
	c.conn = nil
	c.closeCh = nil
	c.connMu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		if !isEventNotification(data) {
			continue
		}
		select {
		case c.nudgeCh <- struct{}{}:
		default:
			// a wake-up is already pending
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("ws ping: %w", err):
				default:
				}
				_ = c.Close()
				return
			}
		}
	}
}

// isEventNotification distinguishes subscription pushes from the initial
// subscribe acknowledgement.
func isEventNotification(data []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Method == "suix_subscribeEvent"
}

func splitCoinType(coinType string) (pkg, module string, err error) {
	parts := strings.SplitN(coinType, "::", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed coin type %q", coinType)
	}
	return parts[0], parts[1], nil
}
