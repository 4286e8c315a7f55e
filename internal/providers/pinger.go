package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// Pinger fires a callback on a cron schedule. The gateway uses it to probe
// model connectivity between real requests.
type Pinger struct {
	expr string
	fn   func(context.Context)
}

// NewPinger validates expr and returns a pinger that invokes fn on every due
// minute.
func NewPinger(expr string, fn func(context.Context)) (*Pinger, error) {
	if !gronx.New().IsValid(expr) {
		return nil, errdefs.Newf(errdefs.KindConfig, "invalid ping cron expression: %s", expr)
	}
	return &Pinger{expr: expr, fn: fn}, nil
}

// Run blocks until ctx is done, polling the schedule every 30 seconds. A due
// minute triggers fn at most once even though the poll fires twice in it.
func (p *Pinger) Run(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	var lastFired time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			minute := now.Truncate(time.Minute)
			if minute.Equal(lastFired) {
				continue
			}
			due, err := gron.IsDue(p.expr, minute)
			if err != nil {
				slog.Warn("ping cron evaluation failed", "error", err)
				continue
			}
			if !due {
				continue
			}
			lastFired = minute
			p.fn(ctx)
		}
	}
}
