package gateway

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/acteon-dev/acteon/internal/approval"
	"github.com/acteon-dev/acteon/internal/audit"
	"github.com/acteon-dev/acteon/internal/chain"
	"github.com/acteon-dev/acteon/internal/events"
	"github.com/acteon-dev/acteon/internal/executor"
	"github.com/acteon-dev/acteon/internal/metrics"
	"github.com/acteon-dev/acteon/internal/provider"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/statemachine"
	"github.com/acteon-dev/acteon/internal/store"
)

// Builder is the fluent constructor for a Gateway, mirroring the
// original Rust GatewayBuilder: a StateStore and DistributedLock are the
// only required fields, everything else defaults to an empty/no-op
// collaborator.
type Builder struct {
	state         store.StateStore
	lock          store.DistributedLock
	rules         []ir.Rule
	providers     *provider.Registry
	executorCfg   executor.Config
	environment   map[string]string
	auditSink     audit.Sink
	metrics       *metrics.GatewayMetrics
	log           logr.Logger
	embedding     engine.EmbeddingEvaluator
	wasm          engine.WasmRuntime
	statemachines *statemachine.Registry
	chains        *chain.Registry
	approvalSigner []byte
	attachments   AttachmentResolver
	events        *events.Bus
	lockTTL       time.Duration
	lockWait      time.Duration
}

// NewBuilder starts a builder with every optional collaborator set to
// its zero-effort default.
func NewBuilder() *Builder {
	return &Builder{
		providers:     provider.NewRegistry(),
		environment:   make(map[string]string),
		log:           logr.Discard(),
		statemachines: statemachine.NewRegistry(),
		chains:        chain.NewRegistry(),
		lockTTL:       10 * time.Second,
		lockWait:      5 * time.Second,
	}
}

func (b *Builder) WithState(s store.StateStore) *Builder { b.state = s; return b }
func (b *Builder) WithLock(l store.DistributedLock) *Builder { b.lock = l; return b }
func (b *Builder) WithRules(rules []ir.Rule) *Builder { b.rules = rules; return b }
func (b *Builder) WithProvider(p provider.Provider) *Builder { b.providers.Register(p); return b }
func (b *Builder) WithExecutorConfig(cfg executor.Config) *Builder { b.executorCfg = cfg; return b }
func (b *Builder) WithEnvVar(key, value string) *Builder { b.environment[key] = value; return b }
func (b *Builder) WithAudit(sink audit.Sink) *Builder { b.auditSink = sink; return b }
func (b *Builder) WithMetrics(m *metrics.GatewayMetrics) *Builder { b.metrics = m; return b }
func (b *Builder) WithLogger(l logr.Logger) *Builder { b.log = l; return b }
func (b *Builder) WithEmbedding(e engine.EmbeddingEvaluator) *Builder { b.embedding = e; return b }
func (b *Builder) WithWasm(w engine.WasmRuntime) *Builder { b.wasm = w; return b }
func (b *Builder) WithStateMachine(c *statemachine.Config) *Builder { b.statemachines.Register(c); return b }
func (b *Builder) WithChain(d *chain.Definition) *Builder { b.chains.Register(d); return b }
func (b *Builder) WithApprovalSigningKey(key []byte) *Builder { b.approvalSigner = key; return b }
func (b *Builder) WithAttachmentResolver(r AttachmentResolver) *Builder { b.attachments = r; return b }
func (b *Builder) WithEvents(bus *events.Bus) *Builder { b.events = bus; return b }
func (b *Builder) WithLockTiming(ttl, wait time.Duration) *Builder {
	b.lockTTL, b.lockWait = ttl, wait
	return b
}

// Build validates required fields and assembles a Gateway. A missing
// state store or distributed lock is a configuration error, exactly as
// in the original builder.
func (b *Builder) Build() (*Gateway, error) {
	if b.state == nil {
		return nil, fmt.Errorf("gateway: state store is required")
	}
	if b.lock == nil {
		return nil, fmt.Errorf("gateway: distributed lock is required")
	}
	if b.metrics == nil {
		b.metrics = metrics.NoOp()
	}
	if b.auditSink == nil {
		b.auditSink = audit.NewMemorySink()
	}

	re := engine.NewRuleEngine(b.rules, b.log)

	execCfg := b.executorCfg
	execCfg.Registry = b.providers
	execCfg.Metrics = b.metrics
	execCfg.Log = b.log
	exec := executor.New(execCfg)

	var approvals *approval.Manager
	if len(b.approvalSigner) > 0 {
		approvals = approval.NewManager(b.state, approval.NewSigner(b.approvalSigner), b.log)
	}

	gw := &Gateway{
		state:         b.state,
		lock:          b.lock,
		engine:        re,
		providers:     b.providers,
		executor:      exec,
		environment:   b.environment,
		audit:         b.auditSink,
		metrics:       b.metrics,
		log:           b.log,
		embedding:     b.embedding,
		wasm:          b.wasm,
		statemachines: b.statemachines,
		chains:        b.chains,
		approvals:     approvals,
		attachments:   b.attachments,
		events:        b.events,
		lockTTL:       b.lockTTL,
		lockWait:      b.lockWait,
	}
	return gw, nil
}
