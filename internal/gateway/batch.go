package gateway

import (
	"context"
	"sync"

	"github.com/acteon-dev/acteon/internal/action"
)

// DispatchBatch dispatches every action concurrently, subject to the same
// concurrency cap the executor enforces for single dispatches, and
// returns results in input order. A failure on one item never aborts the
// others (§4.5 Batch dispatch).
func (g *Gateway) DispatchBatch(ctx context.Context, actions []*action.Action) ([]Outcome, error) {
	outcomes := make([]Outcome, len(actions))
	errs := make([]error, len(actions))

	var wg sync.WaitGroup
	wg.Add(len(actions))
	for i, act := range actions {
		go func(i int, act *action.Action) {
			defer wg.Done()
			outcomes[i], errs[i] = g.Dispatch(ctx, act)
		}(i, act)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}
