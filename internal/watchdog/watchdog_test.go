package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/web3-frozen/oraclebot/internal/liveness"
)

var epoch = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type alarmRecorder struct {
	calls atomic.Int32
	err   error
}

func (a *alarmRecorder) push(context.Context) error {
	a.calls.Add(1)
	return a.err
}

func newTestWatchdog(policy Policy, live *liveness.State, alarm AlarmFunc, clock *fakeClock, opts ...Option) *Watchdog {
	opts = append([]Option{WithClock(clock.Now), WithFatalHandler(func(error) {})}, opts...)
	return New("test", policy, live, alarm, slog.Default(), opts...)
}

func TestCheckStaleScenario(t *testing.T) {
	clock := &fakeClock{now: epoch}
	live := liveness.New(epoch)
	alarm := &alarmRecorder{}
	w := newTestWatchdog(Policy{Interval: 5 * time.Second, Threshold: 15 * time.Second, ClearOnRecover: true}, live, alarm.push, clock)

	clock.Set(epoch.Add(20 * time.Second))
	st, err := w.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st != Degraded || !live.Degraded() {
		t.Fatalf("state = %s degraded=%v, want degraded/true", st, live.Degraded())
	}
	if n := alarm.calls.Load(); n != 1 {
		t.Fatalf("alarm pushes = %d, want 1", n)
	}

	clock.Set(epoch.Add(25 * time.Second))
	if _, err := w.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := alarm.calls.Load(); n != 2 {
		t.Fatalf("alarm pushes = %d, want one per stale check (2)", n)
	}

	live.MarkSuccess(epoch.Add(26 * time.Second))
	clock.Set(epoch.Add(30 * time.Second))
	st, err = w.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st != Healthy || live.Degraded() {
		t.Errorf("state = %s degraded=%v after fresh success, want healthy/false", st, live.Degraded())
	}
	if n := alarm.calls.Load(); n != 2 {
		t.Errorf("alarm pushes = %d after recovery, want 2", n)
	}
}

func TestCheckStickyWithoutClear(t *testing.T) {
	clock := &fakeClock{now: epoch}
	live := liveness.New(epoch)
	alarm := &alarmRecorder{}
	w := newTestWatchdog(Policy{Interval: 5 * time.Second, Threshold: 24 * time.Second}, live, alarm.push, clock)

	clock.Set(epoch.Add(30 * time.Second))
	if st, _ := w.Check(context.Background()); st != Degraded {
		t.Fatalf("state = %s, want degraded", st)
	}

	live.MarkSuccess(epoch.Add(31 * time.Second))
	clock.Set(epoch.Add(35 * time.Second))
	st, err := w.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st != Degraded || !live.Degraded() {
		t.Errorf("state = %s degraded=%v, want sticky degraded", st, live.Degraded())
	}
	if n := alarm.calls.Load(); n != 1 {
		t.Errorf("alarm pushes = %d, want 1 (no alarm once fresh)", n)
	}
}

// With the last success frozen, stepping the clock one check interval at a
// time must hit DEGRADED within one interval after the threshold, never before.
func TestDegradesWithinOneIntervalOfThreshold(t *testing.T) {
	tests := []struct {
		interval, threshold time.Duration
	}{
		{5 * time.Second, 15 * time.Second},
		{5 * time.Second, 24 * time.Second},
		{3 * time.Second, 12 * time.Second},
		{7 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		clock := &fakeClock{now: epoch}
		live := liveness.New(epoch)
		alarm := &alarmRecorder{}
		w := newTestWatchdog(Policy{Interval: tt.interval, Threshold: tt.threshold, ClearOnRecover: true}, live, alarm.push, clock)

		var degradedAt time.Duration
		for elapsed := tt.interval; elapsed <= tt.threshold+3*tt.interval; elapsed += tt.interval {
			clock.Set(epoch.Add(elapsed))
			st, err := w.Check(context.Background())
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if st == Degraded {
				degradedAt = elapsed
				break
			}
			if alarm.calls.Load() != 0 {
				t.Fatalf("alarm pushed at %s before degrading", elapsed)
			}
		}
		if degradedAt <= tt.threshold || degradedAt > tt.threshold+tt.interval {
			t.Errorf("interval %s threshold %s: degraded at %s, want in (%s, %s]",
				tt.interval, tt.threshold, degradedAt, tt.threshold, tt.threshold+tt.interval)
		}
	}
}

func TestCheckPanicIsFailure(t *testing.T) {
	clock := &fakeClock{now: epoch.Add(time.Minute)}
	live := liveness.New(epoch)
	w := newTestWatchdog(DefaultPolicy(), live, func(context.Context) error { panic("boom") }, clock)

	_, err := w.Check(context.Background())
	var failure *WatchdogFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *WatchdogFailure", err)
	}
}

func TestRunStrictFailureIsFatal(t *testing.T) {
	clock := &fakeClock{now: epoch.Add(time.Minute)}
	live := liveness.New(epoch)
	alarm := &alarmRecorder{err: errors.New("presence rejected")}

	fatal := make(chan error, 1)
	w := newTestWatchdog(Policy{Interval: 5 * time.Millisecond, Threshold: time.Second, Strict: true}, live, alarm.push, clock,
		WithFatalHandler(func(err error) { fatal <- err }))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.Run(ctx)
	var failure *WatchdogFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run = %v, want *WatchdogFailure", err)
	}
	if w.State() != Fatal {
		t.Errorf("state = %s, want fatal", w.State())
	}
	select {
	case got := <-fatal:
		if !errors.As(got, &failure) {
			t.Errorf("fatal handler got %v", got)
		}
	default:
		t.Error("fatal handler was not invoked")
	}
}

func TestRunLenientFailureContinues(t *testing.T) {
	clock := &fakeClock{now: epoch.Add(time.Minute)}
	live := liveness.New(epoch)
	alarm := &alarmRecorder{err: errors.New("presence rejected")}

	var fatalCalls atomic.Int32
	w := newTestWatchdog(Policy{Interval: 5 * time.Millisecond, Threshold: time.Second}, live, alarm.push, clock,
		WithFatalHandler(func(error) { fatalCalls.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for alarm.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("alarm pushes = %d, want at least 3", alarm.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil on shutdown", err)
	}
	if fatalCalls.Load() != 0 {
		t.Error("fatal handler invoked in lenient mode")
	}
	if w.State() != Degraded {
		t.Errorf("state = %s, want degraded", w.State())
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	w := New("d", Policy{}, liveness.New(epoch), func(context.Context) error { return nil }, slog.Default())
	p := w.Policy()
	if p.Interval != 5*time.Second || p.Threshold != 24*time.Second {
		t.Errorf("policy = %+v, want 5s/24s defaults", p)
	}
	if w.State() != Healthy {
		t.Errorf("initial state = %s, want healthy", w.State())
	}
}
