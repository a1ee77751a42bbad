package background

import (
	"context"
	"time"

	"github.com/acteon-dev/acteon/internal/gateway"
)

// batchLimit bounds how many due items one tick processes, so a large
// backlog is drained over several ticks rather than one unbounded pass.
const batchLimit = 100

// Reaper is satisfied by a DLQ backend that bounds its own retention
// (currently only dlq.MySQLSink; the memory backend is intentionally
// unbounded per §9 Open Question 2).
type Reaper interface {
	Reap(ctx context.Context) (int64, error)
}

// GatewayWorkers builds the six standard workers that drive gw's
// background operations (§4.6): state-machine timeouts, group flush,
// scheduled- and recurring-action dispatch, chain advancement, and,
// when reaper is non-nil, DLQ retention reaping.
func GatewayWorkers(gw *gateway.Gateway, reaper Reaper) []Worker {
	workers := []Worker{
		{
			Name:     "event-timeout",
			Interval: 5 * time.Second,
			Tick:     func(ctx context.Context) (int, error) { return gw.ProcessEventTimeouts(ctx, batchLimit) },
		},
		{
			Name:     "group-flush",
			Interval: 5 * time.Second,
			Tick:     func(ctx context.Context) (int, error) { return gw.ProcessDueGroups(ctx, batchLimit) },
		},
		{
			Name:     "scheduled-action",
			Interval: 2 * time.Second,
			Tick:     func(ctx context.Context) (int, error) { return gw.ProcessDueScheduled(ctx, batchLimit) },
		},
		{
			Name:     "recurring-action",
			Interval: 10 * time.Second,
			Tick:     func(ctx context.Context) (int, error) { return gw.ProcessDueRecurring(ctx, batchLimit) },
		},
		{
			Name:     "chain-advance",
			Interval: 2 * time.Second,
			Tick:     func(ctx context.Context) (int, error) { return gw.ProcessDueChains(ctx, batchLimit) },
		},
	}

	if reaper != nil {
		workers = append(workers, Worker{
			Name:     "dlq-reaper",
			Interval: time.Hour,
			Tick: func(ctx context.Context) (int, error) {
				n, err := reaper.Reap(ctx)
				return int(n), err
			},
		})
	}

	return workers
}
