// Package discord is the chat.Client for Discord: REST calls for the
// account and guild nickname, and a gateway websocket session for the
// "Watching ..." activity.
package discord

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web3-frozen/oraclebot/internal/chat"
	"github.com/web3-frozen/oraclebot/internal/presence"
)

const (
	DefaultAPIURL     = "https://discord.com/api/v10"
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// NickLimit and ActivityLimit are Discord's character caps.
	NickLimit     = 32
	ActivityLimit = 128

	platform = "discord"
)

var errNotConnected = errors.New("gateway session not established")

type Options struct {
	APIURL     string
	GatewayURL string
	HTTPClient *http.Client

	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.APIURL == "" {
		o.APIURL = DefaultAPIURL
	}
	if o.GatewayURL == "" {
		o.GatewayURL = DefaultGatewayURL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	return o
}

type Client struct {
	token   string
	guildID string
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	conn     *websocket.Conn
	activity string

	writeMu sync.Mutex
	seq     atomic.Int64 // last dispatch sequence, 0 before the first
}

var _ chat.Client = (*Client)(nil)

func New(token, guildID string, opts Options, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		token:   token,
		guildID: guildID,
		opts:    opts.withDefaults(),
		logger:  logger.With("platform", platform),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) Limits() presence.Limits {
	return presence.Limits{Label: NickLimit, Presence: ActivityLimit}
}

// Authenticate checks the token over REST, then opens the gateway session.
// The session reconnects on its own until Close.
func (c *Client) Authenticate(ctx context.Context) error {
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/users/@me", nil, &me); err != nil {
		return &chat.AuthError{Platform: platform, Err: err}
	}

	if c.currentConn() != nil {
		return nil
	}
	conn, interval, err := c.connect(ctx)
	if err != nil {
		var authErr *chat.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &chat.AuthError{Platform: platform, Err: err}
	}
	c.setConn(conn)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.maintain(conn, interval)
	}()

	c.logger.Info("discord session ready", "user", me.Username, "user_id", me.ID)
	return nil
}

// SetPresence sets a "Watching <text>" activity. The last activity is
// replayed after a gateway reconnect.
func (c *Client) SetPresence(ctx context.Context, text string) error {
	c.mu.Lock()
	c.activity = text
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindPresence, Err: errNotConnected}
	}
	if err := c.sendPresence(ctx, conn, text); err != nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindPresence, Err: err}
	}
	return nil
}

// SetIdentityLabel sets the bot's nickname in its guild.
func (c *Client) SetIdentityLabel(ctx context.Context, label string) error {
	body := map[string]string{"nick": label}
	status, err := c.do(ctx, http.MethodPatch, "/guilds/"+c.guildID+"/members/@me", body, nil)
	if err != nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindLabel, Status: status, Err: err}
	}
	return nil
}

func (c *Client) SetProfile(ctx context.Context, username string, avatar []byte) error {
	body := map[string]string{"username": username}
	if len(avatar) > 0 {
		body["avatar"] = avatarDataURI(avatar)
	}
	status, err := c.do(ctx, http.MethodPatch, "/users/@me", body, nil)
	if err != nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindProfile, Status: status, Err: err}
	}
	return nil
}

func (c *Client) Close() error {
	c.cancel()
	if conn := c.currentConn(); conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) lastActivity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal body: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.APIURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/web3-frozen/oraclebot, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Message    string  `json:"message"`
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if resp.StatusCode == http.StatusTooManyRequests {
			return resp.StatusCode, fmt.Errorf("discord API rate limited, retry after %.1fs", errResp.RetryAfter)
		}
		return resp.StatusCode, fmt.Errorf("discord API error %d: %s", resp.StatusCode, errResp.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func avatarDataURI(img []byte) string {
	return "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
}
