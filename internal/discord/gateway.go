package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web3-frozen/oraclebot/internal/chat"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

const (
	closeAuthenticationFailed = 4004

	activityWatching = 3

	handshakeTimeout = 15 * time.Second
	writeTimeout     = 5 * time.Second
)

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type presenceData struct {
	Since      *int64     `json:"since"`
	Activities []activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// connect dials the gateway and runs Hello/Identify up to READY. It returns
// the open connection and the heartbeat interval.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, time.Duration, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.GatewayURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway dial: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = conn.SetReadDeadline(deadline)

	interval, err := c.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, interval, nil
}

func (c *Client) handshake(conn *websocket.Conn) (time.Duration, error) {
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		return 0, fmt.Errorf("gateway hello: %w", err)
	}
	if hello.Op != opHello {
		return 0, fmt.Errorf("gateway hello: unexpected op %d", hello.Op)
	}
	var hd struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("gateway hello: bad heartbeat interval %q", string(hello.D))
	}

	identify := outbound{Op: opIdentify, D: identifyData{
		Token:   c.token,
		Intents: 0,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "oraclebot",
			Device:  "oraclebot",
		},
	}}
	if err := c.write(context.Background(), conn, identify); err != nil {
		return 0, fmt.Errorf("gateway identify: %w", err)
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == closeAuthenticationFailed {
				return 0, &chat.AuthError{Platform: platform, Err: fmt.Errorf("gateway rejected token: %s", ce.Text)}
			}
			return 0, fmt.Errorf("gateway identify: %w", err)
		}
		if f.S != nil {
			c.seq.Store(*f.S)
		}
		switch f.Op {
		case opInvalidSession:
			return 0, &chat.AuthError{Platform: platform, Err: errors.New("gateway invalid session")}
		case opDispatch:
			if f.T == "READY" {
				return time.Duration(hd.HeartbeatInterval) * time.Millisecond, nil
			}
		}
	}
}

// runSession heartbeats and drains the connection until it fails or the
// client is closed.
func (c *Client) runSession(conn *websocket.Conn, interval time.Duration) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		// First beat is jittered as the gateway asks.
		timer := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				_ = conn.Close()
				return
			case <-timer.C:
				if err := c.heartbeat(conn); err != nil {
					c.logger.Warn("gateway heartbeat failed", "error", err)
					_ = conn.Close()
					return
				}
				timer.Reset(interval)
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if c.ctx.Err() != nil || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("gateway read: %w", err)
		}
		if f.S != nil {
			c.seq.Store(*f.S)
		}
		switch f.Op {
		case opHeartbeat:
			if err := c.heartbeat(conn); err != nil {
				return fmt.Errorf("gateway heartbeat: %w", err)
			}
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", f.Op)
		}
	}
}

// maintain keeps a gateway session open for the life of the client,
// reconnecting with capped exponential backoff and replaying the last
// activity on every new session.
func (c *Client) maintain(conn *websocket.Conn, interval time.Duration) {
	backoff := c.opts.BackoffMin
	for {
		err := c.runSession(conn, interval)
		_ = conn.Close()
		c.setConn(nil)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("gateway session ended, reconnecting", "error", err)

		for {
			if !sleepWithJitter(c.ctx, backoff) {
				return
			}
			conn, interval, err = c.connect(c.ctx)
			if err == nil {
				break
			}
			c.logger.Warn("gateway reconnect failed", "error", err, "retry_in", backoff.String())
			backoff = nextBackoff(backoff, c.opts.BackoffMax)
		}
		backoff = c.opts.BackoffMin
		c.setConn(conn)

		if text := c.lastActivity(); text != "" {
			if err := c.sendPresence(c.ctx, conn, text); err != nil {
				c.logger.Warn("replay presence failed", "error", err)
			}
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn) error {
	var d any
	if s := c.seq.Load(); s > 0 {
		d = s
	}
	return c.write(context.Background(), conn, outbound{Op: opHeartbeat, D: d})
}

func (c *Client) sendPresence(ctx context.Context, conn *websocket.Conn, text string) error {
	return c.write(ctx, conn, outbound{Op: opPresenceUpdate, D: presenceData{
		Activities: []activity{{Name: text, Type: activityWatching}},
		Status:     "online",
	}})
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, v any) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteJSON(v)
}

func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	j := time.Duration(rand.Int63n(int64(d)/5 + 1))
	t := time.NewTimer(d + j)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}
