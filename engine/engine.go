// Package engine is the embeddable core of golaw. A host constructs one
// Engine per knowledge base + database pair and drives it through plain
// method calls; everything asynchronous comes back over the event bus.
//
// The engine owns the store, the retriever, the tool registry and the
// per-session scheduler. Hosts (the gateway, the chat CLI, channel
// adapters) never touch those directly.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/nextlevelbuilder/golaw/internal/agent"
	"github.com/nextlevelbuilder/golaw/internal/bus"
	"github.com/nextlevelbuilder/golaw/internal/providers"
	"github.com/nextlevelbuilder/golaw/internal/retrieval"
	"github.com/nextlevelbuilder/golaw/internal/scheduler"
	"github.com/nextlevelbuilder/golaw/internal/store"
	"github.com/nextlevelbuilder/golaw/internal/store/sqlite"
	"github.com/nextlevelbuilder/golaw/internal/tools"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Config carries the three knobs every deployment has to decide.
type Config struct {
	// KBPath is the knowledge base root. Created when missing; empty
	// disables retrieval-backed tools (they return no results).
	KBPath string
	// DBPath is the SQLite file. Ignored when WithStore supplies a
	// backend. The parent directory is created when missing.
	DBPath string
	// MaxIterations bounds one agent run. Must be positive.
	MaxIterations int
}

// Option adjusts an Engine at construction time.
type Option func(*Engine)

// WithStore replaces the default SQLite store, typically with the
// Postgres backend in managed mode. The engine takes ownership and
// closes it on Close.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithModelRateLimit caps outbound model calls at rpm requests per
// minute. Zero or negative leaves the connector unlimited. The cap is
// reapplied whenever the model config changes.
func WithModelRateLimit(rpm int) Option {
	return func(e *Engine) { e.modelRPM = rpm }
}

// Engine is the conversational legal-advisory core. All methods are safe
// for concurrent use.
type Engine struct {
	cfg       Config
	store     store.Store
	retriever *retrieval.Retriever
	tools     *tools.Registry
	bus       *bus.Bus
	locks     *scheduler.SessionLocks
	controls  *scheduler.Controls
	pending   *agent.Pending
	allowAll  *agent.AllowAllSessions
	logger    *slog.Logger

	modelMu  sync.RWMutex
	model    *providers.OpenRouter
	modelRPM int
}

// New validates cfg, prepares the filesystem and opens the store. The
// model connector starts unconfigured; call UpdateModelConfig before any
// model-backed operation.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.MaxIterations <= 0 {
		return nil, errdefs.New(errdefs.KindConfig, "max_iterations must be > 0")
	}

	e := &Engine{
		cfg:      cfg,
		bus:      bus.New(),
		locks:    scheduler.NewSessionLocks(),
		controls: scheduler.NewControls(),
		pending:  agent.NewPending(),
		allowAll: agent.NewAllowAllSessions(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.KBPath != "" {
		if _, err := os.Stat(cfg.KBPath); os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.KBPath, 0o755); err != nil {
				return nil, errdefs.Wrap(errdefs.KindConfig, "failed to create kb_path", err)
			}
		}
	}

	if e.store == nil {
		if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errdefs.Wrap(errdefs.KindConfig, "failed to create db directory", err)
			}
		}
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		e.store = st
	}

	e.retriever = retrieval.New(cfg.KBPath)

	e.tools = tools.NewRegistry()
	e.tools.Register(tools.NewAskUserTool())
	e.tools.Register(tools.NewKBSearchTool(e.retriever))
	e.tools.Register(tools.NewKBReadTool(e.retriever))
	e.tools.Register(tools.NewCiteTool())
	e.tools.Register(tools.NewSummarizeFactsTool())
	e.tools.Register(tools.NewCheckSafetyTool())
	e.tools.Register(tools.NewSuggestEscalationTool())

	e.logger.Info("engine ready", "kb_path", cfg.KBPath, "max_iterations", cfg.MaxIterations)
	return e, nil
}

// Close releases the store. Running agent tasks are not interrupted;
// cancel them first when a clean shutdown matters.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Info describes the engine configuration in one line.
func (e *Engine) Info() string {
	return fmt.Sprintf("kb_path=%s, max_iterations=%d", e.cfg.KBPath, e.cfg.MaxIterations)
}

// Tools exposes the registry so hosts can mount additional tools, for
// example MCP server tools. Register before the first agent run.
func (e *Engine) Tools() *tools.Registry {
	return e.tools
}

// SubscribeEvents registers h for every future event and returns the
// subscription id. A "subscribed" event is published immediately after
// registration, so the new handler sees it.
func (e *Engine) SubscribeEvents(h bus.Handler) uint64 {
	id := e.bus.Subscribe(h)
	e.bus.Publish(protocol.NewEvent(protocol.EventSubscribed, "subscription_id="+strconv.FormatUint(id, 10)))
	return id
}

// UnsubscribeEvents removes a subscription.
func (e *Engine) UnsubscribeEvents(id uint64) error {
	if !e.bus.Unsubscribe(id) {
		return errdefs.Newf(errdefs.KindNotFound, "subscription %d", id)
	}
	return nil
}

// EmitTestEvent publishes an event with the given payload, letting hosts
// verify their subscription plumbing end to end.
func (e *Engine) EmitTestEvent(payload string) {
	e.bus.Publish(protocol.NewEvent(protocol.EventTest, payload))
}

func (e *Engine) publish(kind, payload string) {
	e.bus.Publish(protocol.NewEvent(kind, payload))
}
