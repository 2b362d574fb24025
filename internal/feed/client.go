package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/dota-match-companion/internal/metrics"
	"github.com/park285/dota-match-companion/internal/obslog"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type StateCallback func(state State)

// HeaderProvider supplies handshake headers.
type HeaderProvider func() map[string]string

const readLimit = 4 << 20

// Client keeps one websocket to the bridge open and dispatches its frames.
type Client struct {
	url     string
	handler Handler
	headers HeaderProvider

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	dialTimeout          time.Duration

	stateM sync.RWMutex
	state  State

	cbM      sync.RWMutex
	stateCbs []StateCallback
}

type Option func(*Client)

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// NewClient builds a client for wsURL. After maxReconnectAttempts failed dials
// in a row Serve returns an error and leaves restarting to its supervisor.
func NewClient(wsURL string, h Handler, maxReconnectAttempts int, reconnectDelay time.Duration, opts ...Option) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = 100 * time.Millisecond
	}
	c := &Client{
		url:                  wsURL,
		handler:              h,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		dialTimeout:          10 * time.Second,
		state:                StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) String() string { return "feed-client" }

func (c *Client) OnStateChange(cb StateCallback) {
	c.cbM.Lock()
	c.stateCbs = append(c.stateCbs, cb)
	c.cbM.Unlock()
}

func (c *Client) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

// Serve connects and reads frames until ctx is cancelled.
func (c *Client) Serve(ctx context.Context) error {
	defer c.setState(StateDisconnected)
	failures := 0
	for {
		if failures == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
			metrics.FeedReconnects.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffDuration(failures)):
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			obslog.L().Warn("feed_dial_error", zap.Int("attempt", failures), zap.Error(err))
			if failures > c.maxReconnectAttempts {
				c.setState(StateFailed)
				return fmt.Errorf("feed: giving up after %d attempts: %w", failures, err)
			}
			continue
		}

		failures = 0
		c.setState(StateConnected)
		obslog.L().Info("feed_connected", zap.String("url", c.url))
		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
			return ctx.Err()
		}
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
		obslog.L().Warn("feed_disconnected", zap.Error(err))
		failures = 1
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// session reads frames until the connection fails or ctx ends.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pingErr := make(chan error, 1)
	go func() { pingErr <- c.pingLoop(sctx, conn) }()

	for {
		typ, data, err := conn.Read(sctx)
		if err != nil {
			select {
			case perr := <-pingErr:
				if perr != nil {
					return perr
				}
			default:
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// 깨진 프레임은 건너뛰고 연결은 유지
			metrics.FeedFrames.WithLabelValues("malformed").Inc()
			continue
		}
		if err := Dispatch(sctx, c.handler, f); err != nil {
			obslog.L().Debug("feed_frame_ignored", zap.Error(err))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				consecutiveFailures = 0
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			consecutiveFailures++
			if consecutiveFailures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return errors.New("feed: ping failure")
			}
		}
	}
}

// backoffDuration doubles the reconnect delay per attempt, capped at 32x.
func (c *Client) backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * c.reconnectDelay
}

func (c *Client) setState(state State) {
	c.stateM.Lock()
	if c.state == state {
		c.stateM.Unlock()
		return
	}
	c.state = state
	c.stateM.Unlock()

	metrics.SetFeedConnected(state == StateConnected)
	c.cbM.RLock()
	callbacks := make([]StateCallback, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(state)
		}
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
