package command

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/automcagent/mcbridge/internal/bot"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/automcagent/mcbridge/internal/store"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
)

const ActionGetState = "get_state"

var (
	//nolint:staticcheck // wire-visible text expected by controllers
	ErrNotImplemented = errors.New("Command execution not yet implemented")
	ErrNotSpawned     = errors.New("bot is not spawned")
)

// Handler runs one action against the session. The returned value becomes
// the result's data field.
type Handler func(ctx context.Context, s bot.Session, params json.RawMessage) (any, error)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry holds the actions the bridge answers on its own.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ActionGetState, getState)
	return r
}

func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

func (r *Registry) Lookup(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		actions = append(actions, name)
	}
	sort.Strings(actions)
	return actions
}

func getState(_ context.Context, s bot.Session, _ json.RawMessage) (any, error) {
	state, ok := bot.Snapshot(s)
	if !ok {
		return nil, ErrNotSpawned
	}
	return state, nil
}

type Options struct {
	Timeout   time.Duration
	ResultTTL time.Duration
}

// Executor turns commands into results. Repeated ids are answered from the
// store without running the handler again.
type Executor struct {
	registry *Registry
	session  bot.Session
	store    store.Store
	opts     Options
}

func NewExecutor(registry *Registry, session bot.Session, st store.Store, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 10 * time.Minute
	}
	return &Executor{
		registry: registry,
		session:  session,
		store:    st,
		opts:     opts,
	}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

func (e *Executor) Session() bot.Session {
	return e.session
}

func (e *Executor) Execute(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	if cmd.ID != "" && e.store != nil {
		prev, ok, err := e.store.LoadResult(ctx, cmd.ID)
		if err != nil {
			pterm.Warning.Printfln("load result failed: id=%s err=%v", cmd.ID, err)
		} else if ok {
			pterm.Debug.Printfln("replay result: id=%s action=%s", cmd.ID, cmd.Action)
			prev.ID, prev.RawID = cmd.ID, cmd.RawID
			return prev
		}
	}

	result := e.run(ctx, cmd)

	if cmd.ID != "" && e.store != nil {
		if err := e.store.SaveResult(ctx, result, e.opts.ResultTTL); err != nil {
			pterm.Warning.Printfln("save result failed: id=%s err=%v", cmd.ID, err)
		}
	}
	return result
}

func (e *Executor) run(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	h, ok := e.registry.Lookup(cmd.Action)
	if !ok {
		return protocol.CommandResult{ID: cmd.ID, RawID: cmd.RawID, Success: false, Error: ErrNotImplemented.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: errors.Errorf("action %s panicked: %v", cmd.Action, rec)}
			}
		}()
		data, err := h(ctx, e.session, cmd.Params)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return protocol.CommandResult{ID: cmd.ID, RawID: cmd.RawID, Success: false, Error: out.err.Error()}
		}
		return protocol.CommandResult{ID: cmd.ID, RawID: cmd.RawID, Success: true, Data: out.data}
	case <-ctx.Done():
		return protocol.CommandResult{ID: cmd.ID, RawID: cmd.RawID, Success: false, Error: ctx.Err().Error()}
	}
}
