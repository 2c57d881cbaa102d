// Package fleet runs every configured bot side by side.
package fleet

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/oraclebot/internal/supervisor"
)

// Unit is one supervised bot. *supervisor.Supervisor implements it.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
	Status() supervisor.Status
}

// Orchestrator owns the fleet's supervisors. Bots are isolated: one bot
// returning does not stop the others.
type Orchestrator struct {
	units  []Unit
	logger *slog.Logger
}

func New(units []Unit, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{units: units, logger: logger}
}

func (o *Orchestrator) Len() int { return len(o.units) }

// Run starts every bot and waits for all of them. It returns the first
// non-nil error, which only a strict watchdog failure produces.
func (o *Orchestrator) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, u := range o.units {
		u := u
		g.Go(func() error {
			err := u.Run(ctx)
			if err != nil {
				o.logger.Error("bot stopped", "bot", u.Name(), "error", err)
			} else {
				o.logger.Info("bot stopped", "bot", u.Name())
			}
			return err
		})
	}
	o.logger.Info("fleet started", "bots", len(o.units))
	return g.Wait()
}

// Health returns one status per bot in configuration order.
func (o *Orchestrator) Health() []supervisor.Status {
	out := make([]supervisor.Status, 0, len(o.units))
	for _, u := range o.units {
		out = append(out, u.Status())
	}
	return out
}

// Ready reports whether every bot has left STARTING.
func (o *Orchestrator) Ready() bool {
	for _, u := range o.units {
		if u.Status().State == supervisor.Starting.String() {
			return false
		}
	}
	return len(o.units) > 0
}
