// Package telegram is the chat.Client for Telegram. The bot's display name
// carries the price label and its short description carries the presence
// line. Once authenticated it also answers /price and /status in chats.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/oraclebot/internal/chat"
	"github.com/web3-frozen/oraclebot/internal/presence"
)

const (
	DefaultAPIURL = "https://api.telegram.org/bot"

	// NameLimit and ShortDescriptionLimit are Bot API caps.
	NameLimit             = 64
	ShortDescriptionLimit = 120

	platform = "telegram"
)

type Bot struct {
	token  string
	apiURL string
	logger *slog.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	polling  bool
	username string
	label    string
	status   string
	offset   int64
}

var _ chat.Client = (*Bot)(nil)

// NewBot returns a Telegram client. An empty apiURL uses the public Bot API.
func NewBot(token, apiURL string, logger *slog.Logger) *Bot {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		token:  token,
		apiURL: apiURL,
		logger: logger.With("platform", platform),
		client: &http.Client{Timeout: 40 * time.Second},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Bot) Limits() presence.Limits {
	return presence.Limits{Label: NameLimit, Presence: ShortDescriptionLimit}
}

// Authenticate calls getMe and starts the command loop on first success.
func (b *Bot) Authenticate(ctx context.Context) error {
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		IsBot    bool   `json:"is_bot"`
	}
	if _, err := b.call(ctx, "getMe", nil, &me); err != nil {
		return &chat.AuthError{Platform: platform, Err: err}
	}
	if !me.IsBot {
		return &chat.AuthError{Platform: platform, Err: fmt.Errorf("token belongs to non-bot user %q", me.Username)}
	}

	b.mu.Lock()
	b.username = me.Username
	start := !b.polling
	b.polling = true
	b.mu.Unlock()

	if start {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Run(b.ctx)
		}()
		b.logger.Info("telegram bot started", "user", me.Username)
	}
	return nil
}

func (b *Bot) SetPresence(ctx context.Context, text string) error {
	b.mu.Lock()
	b.status = text
	b.mu.Unlock()

	payload := map[string]string{"short_description": text}
	if status, err := b.call(ctx, "setMyShortDescription", payload, nil); err != nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindPresence, Status: status, Err: err}
	}
	return nil
}

func (b *Bot) SetIdentityLabel(ctx context.Context, label string) error {
	payload := map[string]string{"name": label}
	if status, err := b.call(ctx, "setMyName", payload, nil); err != nil {
		return &chat.PresenceUpdateError{Platform: platform, Kind: chat.KindLabel, Status: status, Err: err}
	}
	b.mu.Lock()
	b.label = label
	b.mu.Unlock()
	return nil
}

// SetProfile is a no-op: the Bot API cannot change a bot's username or
// profile photo, that is done through @BotFather.
func (b *Bot) SetProfile(_ context.Context, username string, avatar []byte) error {
	b.logger.Debug("profile update not supported by Bot API", "username", username, "avatar_bytes", len(avatar))
	return nil
}

func (b *Bot) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// SendMessage sends a text message to a Telegram chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if _, err := b.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Run long-polls for incoming messages until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	var updates []struct {
		UpdateID int64 `json:"update_id"`
		Message  *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
			Text string `json:"text"`
		} `json:"message"`
	}
	payload := map[string]int64{"offset": offset, "timeout": 30}
	if _, err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}

	for _, u := range updates {
		b.mu.Lock()
		b.offset = u.UpdateID + 1
		b.mu.Unlock()
		if u.Message == nil {
			continue
		}
		b.handleCommand(ctx, u.Message.Chat.ID, u.Message.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd := strings.TrimSpace(text)
	// Group chats address commands as /price@botname.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	b.mu.Lock()
	label, status := b.label, b.status
	b.mu.Unlock()

	var reply string
	switch cmd {
	case "/start", "/help":
		reply = "🤖 <b>Oracle price bot</b>\n\n" +
			"Commands:\n" +
			"/price — Current oracle price\n" +
			"/status — Current bot status\n" +
			"/help — Show this message"
	case "/price":
		reply = label
		if reply == "" {
			reply = presence.Initializing
		}
	case "/status":
		reply = status
		if reply == "" {
			reply = presence.Initializing
		}
	default:
		return
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil && ctx.Err() == nil {
		b.logger.Warn("reply to command", "command", cmd, "error", err)
	}
}

// call posts a JSON payload to a Bot API method and decodes result into out.
func (b *Bot) call(ctx context.Context, method string, payload, out any) (int, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return 0, fmt.Errorf("marshal %s: %w", method, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+b.token+"/"+method, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode != http.StatusOK || !envelope.OK {
		if envelope.Parameters.RetryAfter > 0 {
			return resp.StatusCode, fmt.Errorf("telegram API error %d: %s (retry after %ds)", resp.StatusCode, envelope.Description, envelope.Parameters.RetryAfter)
		}
		return resp.StatusCode, fmt.Errorf("telegram API error %d: %s", resp.StatusCode, envelope.Description)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return resp.StatusCode, nil
}
