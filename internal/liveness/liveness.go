// Package liveness holds the per-bot state shared by the poll loop and its
// watchdog. The poll loop is the only writer of the success timestamp; the
// watchdog is the only writer of the degraded flag.
package liveness

import (
	"sync/atomic"
	"time"
)

type State struct {
	lastSuccess atomic.Int64 // unix nanos
	degraded    atomic.Bool
}

// New returns a State whose last success is start, so a freshly started bot
// gets one full threshold before it can be considered stale.
func New(start time.Time) *State {
	s := &State{}
	s.lastSuccess.Store(start.UnixNano())
	return s
}

// MarkSuccess records a successful update at t. Older timestamps are ignored
// so the value never moves backwards.
func (s *State) MarkSuccess(t time.Time) {
	next := t.UnixNano()
	for {
		cur := s.lastSuccess.Load()
		if next <= cur {
			return
		}
		if s.lastSuccess.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (s *State) LastSuccess() time.Time {
	return time.Unix(0, s.lastSuccess.Load())
}

// Since is the gap between now and the last success.
func (s *State) Since(now time.Time) time.Duration {
	return now.Sub(s.LastSuccess())
}

// Stale reports whether the gap exceeds threshold.
func (s *State) Stale(now time.Time, threshold time.Duration) bool {
	return s.Since(now) > threshold
}

func (s *State) SetDegraded(v bool) { s.degraded.Store(v) }

func (s *State) Degraded() bool { return s.degraded.Load() }
