package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/chain"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/value"
)

func (g *Gateway) handleChainStart(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	def, ok := g.chains.Get(v.ChainName)
	if !ok {
		err := fmt.Errorf("gateway: chain %q is not registered", v.ChainName)
		return failed(ReasonConfigurationError, err), err
	}

	seed := seedVariablesFromPayload(act.Payload)
	exec := chain.NewExecution(uuid.NewString(), def.Name, def.FirstStep, seed)

	data, err := exec.MarshalJSON()
	if err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: marshal chain execution: %w", err)
	}
	key := action.NewKey(act.Namespace, act.Tenant, action.KindChain, exec.ID)
	if err := g.state.Set(ctx, key, data, 0); err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: persist chain execution: %w", err)
	}

	pendingKey := action.NewKey(act.Namespace, act.Tenant, action.KindPendingChains, exec.ID)
	if err := g.state.IndexTimeout(ctx, pendingChainsIndex, pendingKey, time.Now().UTC()); err != nil {
		g.log.Error(err, "failed to index chain for immediate advancement", "chain", exec.ID)
	}

	return Outcome{
		Kind: OutcomeChainStarted, RuleName: v.RuleName,
		ChainID: exec.ID, ChainName: def.Name, TotalSteps: def.TotalSteps(), FirstStep: def.FirstStep,
	}, nil
}

func seedVariablesFromPayload(payload json.RawMessage) map[string]value.Value {
	if len(payload) == 0 {
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}
	seed := make(map[string]value.Value, len(decoded))
	for k, v := range decoded {
		seed[k] = value.FromJSON(v)
	}
	return seed
}
