// Package watchdog detects a bot whose price updates have stalled and raises
// a visible alarm. A watchdog that cannot do its job is treated as fatal in
// strict mode: the process exits rather than leave a bot showing stale
// prices with nothing watching it.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/web3-frozen/oraclebot/internal/liveness"
	"github.com/web3-frozen/oraclebot/internal/metrics"
)

type State int32

const (
	Healthy State = iota
	Degraded
	Fatal
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Policy configures staleness detection. Threshold should be at least twice
// the bot's expected success interval.
type Policy struct {
	Interval  time.Duration
	Threshold time.Duration
	// ClearOnRecover returns DEGRADED to HEALTHY once updates are fresh again.
	// Without it DEGRADED is sticky for the process lifetime.
	ClearOnRecover bool
	// Strict makes any failure inside the check loop fatal.
	Strict bool
}

func DefaultPolicy() Policy {
	return Policy{
		Interval:       5 * time.Second,
		Threshold:      24 * time.Second,
		ClearOnRecover: true,
		Strict:         true,
	}
}

// WatchdogFailure is a fault in the watchdog itself, such as a failed alarm
// push or a panic during a check.
type WatchdogFailure struct {
	Bot string
	Err error
}

func (e *WatchdogFailure) Error() string {
	return fmt.Sprintf("watchdog %s: %v", e.Bot, e.Err)
}

func (e *WatchdogFailure) Unwrap() error { return e.Err }

// AlarmFunc pushes the stale-data presence.
type AlarmFunc func(ctx context.Context) error

type Option func(*Watchdog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithFatalHandler replaces the default process exit taken on a strict failure.
func WithFatalHandler(fn func(error)) Option {
	return func(w *Watchdog) { w.onFatal = fn }
}

type Watchdog struct {
	bot     string
	policy  Policy
	live    *liveness.State
	alarm   AlarmFunc
	now     func() time.Time
	onFatal func(error)
	logger  *slog.Logger

	state atomic.Int32
}

func New(bot string, policy Policy, live *liveness.State, alarm AlarmFunc, logger *slog.Logger, opts ...Option) *Watchdog {
	def := DefaultPolicy()
	if policy.Interval <= 0 {
		policy.Interval = def.Interval
	}
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}
	w := &Watchdog{
		bot:    bot,
		policy: policy,
		live:   live,
		alarm:  alarm,
		now:    time.Now,
		logger: logger.With("bot", bot, "component", "watchdog"),
		onFatal: func(error) {
			os.Exit(1)
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	metrics.WatchdogState.WithLabelValues(bot).Set(float64(Healthy))
	return w
}

func (w *Watchdog) State() State { return State(w.state.Load()) }

func (w *Watchdog) Policy() Policy { return w.policy }

func (w *Watchdog) setState(s State) {
	w.state.Store(int32(s))
	metrics.WatchdogState.WithLabelValues(w.bot).Set(float64(s))
}

// Check evaluates staleness once. While stale it pushes the alarm on every
// call. Errors returned are *WatchdogFailure.
func (w *Watchdog) Check(ctx context.Context) (st State, err error) {
	defer func() {
		if r := recover(); r != nil {
			st, err = w.State(), &WatchdogFailure{Bot: w.bot, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	gap := w.live.Since(w.now())
	metrics.StalenessSeconds.WithLabelValues(w.bot).Set(gap.Seconds())

	if gap > w.policy.Threshold {
		if w.State() != Degraded {
			w.logger.Warn("updates stalled", "since_last_success", gap.Round(time.Millisecond).String(), "threshold", w.policy.Threshold.String())
		}
		w.setState(Degraded)
		w.live.SetDegraded(true)

		metrics.StaleAlarmsTotal.WithLabelValues(w.bot).Inc()
		if err := w.alarm(ctx); err != nil {
			return Degraded, &WatchdogFailure{Bot: w.bot, Err: fmt.Errorf("stale alarm: %w", err)}
		}
		return Degraded, nil
	}

	if w.State() == Degraded && w.policy.ClearOnRecover {
		w.setState(Healthy)
		w.live.SetDegraded(false)
		w.logger.Info("updates recovered", "since_last_success", gap.Round(time.Millisecond).String())
	}
	return w.State(), nil
}

// Run checks on every policy interval until ctx is done. In strict mode a
// failed check moves to FATAL, invokes the fatal handler and returns the
// failure; otherwise the failure is logged and the loop continues.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := w.Check(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if !w.policy.Strict {
				w.logger.Warn("watchdog check failed", "error", err)
				continue
			}
			w.setState(Fatal)
			w.logger.Error("watchdog failed, not safe to continue without it", "error", err)
			w.onFatal(err)
			return err
		}
	}
}
