// Package supervisor runs one bot: it authenticates to the chat platform,
// then polls the oracle and pushes the price label and working presence,
// with a private watchdog observing its liveness.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/oraclebot/internal/chat"
	"github.com/web3-frozen/oraclebot/internal/config"
	"github.com/web3-frozen/oraclebot/internal/liveness"
	"github.com/web3-frozen/oraclebot/internal/metrics"
	"github.com/web3-frozen/oraclebot/internal/oracle"
	"github.com/web3-frozen/oraclebot/internal/presence"
	"github.com/web3-frozen/oraclebot/internal/watchdog"
)

const (
	DefaultBackoff     = 10 * time.Second
	DefaultCallTimeout = 10 * time.Second

	profileSuffix = "-Oraclebot"
)

type State int32

const (
	Starting State = iota
	Polling
	Backoff
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Polling:
		return "polling"
	case Backoff:
		return "backoff"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pricer computes a bot's display price. *oracle.Client implements it.
type Pricer interface {
	Quote(ctx context.Context, ref oracle.Reference, version oracle.Version, quoteHint string) (oracle.Quote, error)
}

type Options struct {
	Reference   oracle.Reference
	Version     oracle.Version
	Policy      watchdog.Policy
	Backoff     time.Duration
	CallTimeout time.Duration
}

// Status is a point-in-time view of a supervisor for health endpoints.
type Status struct {
	Name        string    `json:"name"`
	Platform    string    `json:"platform"`
	State       string    `json:"state"`
	Watchdog    string    `json:"watchdog"`
	Degraded    bool      `json:"degraded"`
	Cycles      uint64    `json:"cycles"`
	LastSuccess time.Time `json:"last_success"`
	LastPrice   string    `json:"last_price,omitempty"`
	LastLabel   string    `json:"last_label,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type Option func(*Supervisor)

// WithClock replaces time.Now for the supervisor and its watchdog.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithSleep replaces the context-aware sleep between cycles. It must return
// false once ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithFatalHandler is passed through to the watchdog.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Supervisor) { s.onFatal = fn }
}

type Supervisor struct {
	bot         config.Bot
	ref         oracle.Reference
	version     oracle.Version
	policy      watchdog.Policy
	backoff     time.Duration
	callTimeout time.Duration

	pricer Pricer
	client chat.Client
	live   *liveness.State
	dog    *watchdog.Watchdog
	logger *slog.Logger

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool
	onFatal func(error)

	state  atomic.Int32
	cycles atomic.Uint64

	mu        sync.Mutex
	lastPrice decimal.Decimal
	lastLabel string
	lastErr   string
}

func New(bot config.Bot, opts Options, pricer Pricer, client chat.Client, logger *slog.Logger, options ...Option) *Supervisor {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if bot.PriceEvery <= 0 {
		bot.PriceEvery = config.DefaultPriceEvery
	}
	if bot.PollInterval <= 0 {
		bot.PollInterval = config.DefaultPollInterval
	}

	s := &Supervisor{
		bot:         bot,
		ref:         opts.Reference,
		version:     opts.Version,
		backoff:     opts.Backoff,
		callTimeout: opts.CallTimeout,
		pricer:      pricer,
		client:      client,
		logger:      logger.With("bot", bot.Name),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range options {
		opt(s)
	}

	s.live = liveness.New(s.now())
	dogOpts := []watchdog.Option{watchdog.WithClock(s.now)}
	if s.onFatal != nil {
		dogOpts = append(dogOpts, watchdog.WithFatalHandler(s.onFatal))
	}
	s.dog = watchdog.New(bot.Name, opts.Policy, s.live, s.staleAlarm, logger, dogOpts...)
	s.policy = s.dog.Policy()
	return s
}

func (s *Supervisor) Name() string { return s.bot.Name }

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:        s.bot.Name,
		Platform:    s.bot.Platform,
		State:       s.State().String(),
		Watchdog:    s.dog.State().String(),
		Degraded:    s.live.Degraded(),
		Cycles:      s.cycles.Load(),
		LastSuccess: s.live.LastSuccess(),
		LastLabel:   s.lastLabel,
		LastError:   s.lastErr,
	}
	if s.lastLabel != "" {
		st.LastPrice = s.lastPrice.StringFixed(2)
	}
	return st
}

// Run starts the bot and blocks until ctx is done or the watchdog fails in
// strict mode. Per-cycle errors never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.setState(Stopped)
		_ = s.client.Close()
	}()

	if err := s.start(ctx); err != nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pollLoop(gctx) })
	g.Go(func() error { return s.dog.Run(gctx) })
	return g.Wait()
}

// start authenticates, retrying on the backoff until it succeeds or ctx is
// done, then pushes the placeholder identity and profile.
func (s *Supervisor) start(ctx context.Context) error {
	s.setState(Starting)
	for attempt := 1; ; attempt++ {
		err := s.withTimeout(ctx, s.client.Authenticate)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordError(err)
		metrics.PollErrorsTotal.WithLabelValues(s.bot.Name, "auth").Inc()
		s.logger.Error("authenticate failed", "attempt", attempt, "error", err, "retry_in", s.backoff.String())
		if !s.sleep(ctx, s.backoff) {
			return ctx.Err()
		}
	}

	if err := s.push(ctx, chat.KindPresence, presence.Initializing); err != nil {
		s.logger.Warn("initial presence failed", "error", err)
	}
	if err := s.push(ctx, chat.KindLabel, presence.Initializing); err != nil {
		s.logger.Warn("initial label failed", "error", err)
	}

	var avatar []byte
	if s.bot.AvatarFile != "" {
		var err error
		if avatar, err = os.ReadFile(s.bot.AvatarFile); err != nil {
			s.logger.Warn("read avatar", "path", s.bot.AvatarFile, "error", err)
		}
	}
	if err := s.setProfile(ctx, s.bot.Name+profileSuffix, avatar); err != nil {
		s.logger.Warn("profile update failed", "error", err)
	}

	// The staleness threshold counts from the end of startup.
	s.live.MarkSuccess(s.now())
	s.logger.Info("bot started", "platform", s.bot.Platform, "version", int(s.version))
	return nil
}

func (s *Supervisor) pollLoop(ctx context.Context) error {
	s.setState(Polling)
	for n := uint64(1); ; n++ {
		if ctx.Err() != nil {
			return nil
		}
		s.cycles.Store(n)

		if err := s.cycle(ctx, n); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.fail(n, err)
			s.setState(Backoff)
			if !s.sleep(ctx, s.backoff) {
				return nil
			}
			s.setState(Polling)
		} else {
			metrics.PollTotal.WithLabelValues(s.bot.Name, "success").Inc()
		}

		if !s.sleep(ctx, s.bot.PollInterval) {
			return nil
		}
	}
}

// cycle prices on every PriceEvery-th cycle, then advances the working
// indicator unless updates are stale, which leaves the watchdog's alarm up.
func (s *Supervisor) cycle(ctx context.Context, n uint64) error {
	if n%uint64(s.bot.PriceEvery) == 0 {
		if err := s.updatePrice(ctx); err != nil {
			return err
		}
	}
	if s.live.Stale(s.now(), s.policy.Threshold) {
		return nil
	}
	text := presence.PresenceText(presence.Indicator(n), s.bot.PresenceSuffix, s.client.Limits())
	return s.push(ctx, chat.KindPresence, text)
}

func (s *Supervisor) updatePrice(ctx context.Context) error {
	start := time.Now()
	q, err := s.pricer.Quote(ctx, s.ref, s.version, s.bot.QuoteHint)
	metrics.PriceDuration.WithLabelValues(s.bot.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("compute price: %w", err)
	}

	label, err := presence.IdentityLabel(s.bot.Name, q.Price, s.client.Limits())
	if err != nil {
		return err
	}
	if err := s.push(ctx, chat.KindLabel, label); err != nil {
		return err
	}

	// Only a pushed label counts as a success.
	now := s.now()
	s.live.MarkSuccess(now)

	s.mu.Lock()
	s.lastPrice = q.Price
	s.lastLabel = label
	s.lastErr = ""
	s.mu.Unlock()

	metrics.Price.WithLabelValues(s.bot.Name).Set(q.Price.InexactFloat64())
	metrics.PollLastSuccess.WithLabelValues(s.bot.Name).Set(float64(now.Unix()))
	s.logger.Debug("price updated", "label", label)
	return nil
}

func (s *Supervisor) staleAlarm(ctx context.Context) error {
	return s.push(ctx, chat.KindPresence, presence.StaleWarning)
}

func (s *Supervisor) push(ctx context.Context, kind, text string) error {
	var fn func(context.Context, string) error
	switch kind {
	case chat.KindLabel:
		fn = s.client.SetIdentityLabel
	default:
		fn = s.client.SetPresence
	}
	err := s.withTimeout(ctx, func(ctx context.Context) error { return fn(ctx, text) })
	recordPush(s.bot.Name, kind, err)
	return err
}

func (s *Supervisor) setProfile(ctx context.Context, username string, avatar []byte) error {
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.client.SetProfile(ctx, username, avatar)
	})
	recordPush(s.bot.Name, chat.KindProfile, err)
	return err
}

func (s *Supervisor) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Supervisor) fail(n uint64, err error) {
	kind := errorKind(err)
	s.recordError(err)
	metrics.PollTotal.WithLabelValues(s.bot.Name, "error").Inc()
	metrics.PollErrorsTotal.WithLabelValues(s.bot.Name, kind).Inc()
	s.logger.Error("poll cycle failed", "cycle", n, "kind", kind, "error", err, "backoff", s.backoff.String())
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

func errorKind(err error) string {
	var (
		callErr *oracle.OracleCallError
		dataErr *oracle.OracleDataError
		updErr  *chat.PresenceUpdateError
		authErr *chat.AuthError
	)
	switch {
	case errors.As(err, &callErr):
		return "oracle_call"
	case errors.As(err, &dataErr):
		return "oracle_data"
	case errors.As(err, &updErr):
		return "presence_update"
	case errors.As(err, &authErr):
		return "auth"
	case errors.Is(err, presence.ErrLabelTooLong):
		return "label_too_long"
	default:
		return "other"
	}
}

func recordPush(bot, kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.PresenceUpdatesTotal.WithLabelValues(bot, kind, status).Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
