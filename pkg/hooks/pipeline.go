// Package hooks wraps every LLM and MCP exchange in a typed interaction
// envelope and fans it out to a small set of interceptors: a history hook
// that persists the interaction, an event hook that publishes it for live
// trace viewers, and a masking hook that redacts MCP tool results before
// either of the others sees them. Interceptors are grouped by priority —
// hooks sharing a priority run concurrently with each other, and each hook
// carries its own error budget so a failing interceptor degrades instead of
// blocking the exchange it wraps.
package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies the kind of exchange an Interaction wraps.
type OperationType string

const (
	OperationLLM         OperationType = "llm"
	OperationMCPToolCall OperationType = "mcp_tool_call"
	OperationMCPToolList OperationType = "mcp_tool_list"
)

// maxConsecutiveFailures disables a hook after this many failures in a row.
// It is re-enabled the next time the pipeline is constructed (process
// restart) — there is no automatic recovery within a process lifetime.
const maxConsecutiveFailures = 5

// Interaction is the typed context threaded through one LLM or MCP
// exchange. Hooks read and, for Request/Response, mutate it in place.
type Interaction struct {
	RequestID   string
	Type        OperationType
	SessionID   string
	StageID     string
	ExecutionID string
	ServerName  string // MCP only
	ToolName    string // MCP tool_call only
	ModelName   string // LLM only

	// InteractionType is the fine-grained label stored alongside the
	// interaction row (e.g. "iteration", "forced_conclusion", "tool_call",
	// "tool_list"). Left empty, the history hook falls back to a type
	// derived from OperationType.
	InteractionType string

	StartTime  time.Time
	EndTime    time.Time
	DurationMs int64

	Success bool
	Err     error

	// Request/Response are the JSON-able payloads hooks observe. Hooks run
	// in priority order so a lower-priority hook (masking) can rewrite
	// these before a higher-priority one (history, event) reads them.
	Request  map[string]any
	Response map[string]any

	// InteractionID is populated by the history hook once the interaction
	// row is persisted, so later hooks (event) can reference it. Empty if
	// the history hook failed or was disabled by its error budget.
	InteractionID string
}

// Hook is a single typed interceptor run around every LLM/MCP exchange.
type Hook interface {
	Name() string
	// Priority groups hooks into sequential tiers (lowest first); hooks
	// sharing a tier run concurrently with each other.
	Priority() int
	Handle(ctx context.Context, ix *Interaction) error
}

// hookState tracks one hook's error budget.
type hookState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	disabled            bool
}

// Pipeline dispatches registered hooks for each operation type.
type Pipeline struct {
	mu      sync.RWMutex
	buckets map[OperationType][]Hook
	states  map[string]*hookState
	logger  *slog.Logger
}

// NewPipeline creates an empty pipeline. Register hooks with Register
// before running any operations through it.
func NewPipeline() *Pipeline {
	return &Pipeline{
		buckets: make(map[OperationType][]Hook),
		states:  make(map[string]*hookState),
		logger:  slog.Default(),
	}
}

// Register adds a hook to the bucket for opType. Safe to call before Run;
// not safe to call concurrently with Run against the same Pipeline.
func (p *Pipeline) Register(opType OperationType, h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[opType] = append(p.buckets[opType], h)
	if _, ok := p.states[h.Name()]; !ok {
		p.states[h.Name()] = &hookState{}
	}
}

// Run executes fn inside the typed interaction envelope: stamps a request
// id and start time, runs fn, stamps end time/duration/success/error, then
// dispatches every hook registered for opType before returning fn's result.
// Hook failures never affect the returned value — a hook is a side effect,
// not a participant in the exchange's result.
func (p *Pipeline) Run(
	ctx context.Context,
	opType OperationType,
	ix *Interaction,
	fn func(ctx context.Context) (map[string]any, error),
) (map[string]any, error) {
	ix.RequestID = uuid.NewString()
	ix.Type = opType
	ix.StartTime = time.Now()

	resp, err := fn(ctx)

	ix.EndTime = time.Now()
	ix.DurationMs = ix.EndTime.Sub(ix.StartTime).Milliseconds()
	ix.Response = resp
	ix.Success = err == nil
	ix.Err = err

	p.dispatch(ctx, opType, ix)

	return resp, err
}

// Dispatch fans ix out to every hook registered for ix.Type. Unlike Run, it
// does not execute the exchange itself or stamp timing — use it when the
// LLM/MCP call already happened by the time the caller is ready to record
// it (e.g. streamed calls whose response is assembled incrementally).
func (p *Pipeline) Dispatch(ctx context.Context, ix *Interaction) {
	if ix.RequestID == "" {
		ix.RequestID = uuid.NewString()
	}
	p.dispatch(ctx, ix.Type, ix)
}

// dispatch runs the hooks registered for opType in priority tiers: each
// tier completes (and its hooks' error budgets update) before the next
// tier starts, but hooks within a tier run concurrently.
func (p *Pipeline) dispatch(ctx context.Context, opType OperationType, ix *Interaction) {
	p.mu.RLock()
	hooks := append([]Hook(nil), p.buckets[opType]...)
	p.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	tiers := make(map[int][]Hook)
	for _, h := range hooks {
		tiers[h.Priority()] = append(tiers[h.Priority()], h)
	}
	priorities := make([]int, 0, len(tiers))
	for pr := range tiers {
		priorities = append(priorities, pr)
	}
	sort.Ints(priorities)

	for _, pr := range priorities {
		var wg sync.WaitGroup
		for _, h := range tiers[pr] {
			state := p.stateFor(h.Name())

			state.mu.Lock()
			disabled := state.disabled
			state.mu.Unlock()
			if disabled {
				continue
			}

			wg.Add(1)
			go func(h Hook, state *hookState) {
				defer wg.Done()
				p.runOne(ctx, h, state, ix)
			}(h, state)
		}
		wg.Wait()
	}
}

func (p *Pipeline) runOne(ctx context.Context, h Hook, state *hookState, ix *Interaction) {
	if err := h.Handle(ctx, ix); err != nil {
		p.logger.Error("hook failed", "hook", h.Name(), "operation", ix.Type,
			"session_id", ix.SessionID, "error", err)

		state.mu.Lock()
		state.consecutiveFailures++
		if state.consecutiveFailures >= maxConsecutiveFailures {
			state.disabled = true
			p.logger.Warn("hook disabled after consecutive failures",
				"hook", h.Name(), "failures", state.consecutiveFailures)
		}
		state.mu.Unlock()
		return
	}

	state.mu.Lock()
	state.consecutiveFailures = 0
	state.mu.Unlock()
}

func (p *Pipeline) stateFor(name string) *hookState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[name]
	if !ok {
		st = &hookState{}
		p.states[name] = st
	}
	return st
}
