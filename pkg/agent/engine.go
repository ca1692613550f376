package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"kollektiv/pkg/config"
	"kollektiv/pkg/handler"
	"kollektiv/pkg/llm"
	"kollektiv/pkg/monitor"
	"kollektiv/pkg/tools"
	"kollektiv/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoHistory is returned when a request carries no caller-owned history.
	ErrNoHistory = errors.New("exchange requires a caller-owned history")
	// ErrTurnLimit is returned when a free-order exchange needs more backend
	// calls than SystemConfig.MaxTurns allows.
	ErrTurnLimit = errors.New("exchange exceeded the turn limit")
)

// defaultMaxTurns applies when the system config leaves MaxTurns at zero.
const defaultMaxTurns = 10

// instructionSeparator sits between the tool and the format instructions.
const instructionSeparator = "\n\n---\n\n"

// Request describes one exchange.
type Request struct {
	// Message is an optional user message appended before the first call.
	Message string
	// History is the caller-visible log. Only successful turns reach it.
	History *llm.History
	// Tools and Format select the mode; both nil means a plain exchange.
	Tools  *tools.Registry
	Format *handler.Format
	// Forced consumes every tool once, in registry order, before the format.
	Forced bool

	// ContextWindow overrides the configured window when non-zero.
	ContextWindow int
	// DynamicContext sizes the window from the input for this exchange only.
	DynamicContext bool
}

// Reply is the outcome of one exchange.
type Reply struct {
	// Text is the raw content of the final assistant message.
	Text string
	// Value is the decoded format value; nil without a format.
	Value   any
	Message llm.Message
}

// Engine drives exchanges against one backend.
//
// Handler budgets are scoped per mode: a free-order exchange builds one
// ToolHandler and one FormatHandler for its whole duration, while the
// forced-sequential mode builds a fresh handler for every forced step.
type Engine struct {
	completer llm.Completer
	sys       atomic.Pointer[config.SystemConfig]
	monitor   monitor.Monitor
}

// NewEngine builds an engine. A nil sys uses the defaults and a nil mon
// discards transcript events.
func NewEngine(completer llm.Completer, sys *config.SystemConfig, mon monitor.Monitor) *Engine {
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}
	if mon == nil {
		mon = monitor.Nop{}
	}
	e := &Engine{completer: completer, monitor: mon}
	e.sys.Store(sys)
	return e
}

// SetSystemConfig swaps the engine parameters for subsequent exchanges.
func (e *Engine) SetSystemConfig(sys *config.SystemConfig) {
	if sys != nil {
		e.sys.Store(sys)
	}
}

// SystemConfig returns the parameters currently in effect.
func (e *Engine) SystemConfig() *config.SystemConfig {
	return e.sys.Load()
}

// Chat runs one exchange. The mode follows from the request: no tools and no
// format is plain, Forced is forced-sequential, anything else is free-order.
func (e *Engine) Chat(ctx context.Context, req Request) (Reply, error) {
	if req.History == nil {
		return Reply{}, ErrNoHistory
	}

	if llm.DebugID(ctx) == "" {
		ctx = llm.WithDebugID(ctx, utils.GenerateExchangeID())
	}

	if req.Message != "" {
		e.commit(ctx, req.History, llm.NewUserMessage(req.Message))
	}

	hasTools := req.Tools != nil && req.Tools.Len() > 0
	switch {
	case !hasTools && req.Format == nil:
		slog.DebugContext(ctx, "Starting exchange", "mode", "plain")
		return e.plain(ctx, req)
	case req.Forced:
		slog.DebugContext(ctx, "Starting exchange", "mode", "forced")
		return e.forced(ctx, req, hasTools)
	default:
		slog.DebugContext(ctx, "Starting exchange", "mode", "free-order")
		return e.freeOrder(ctx, req, hasTools)
	}
}

//----------------------------------------------------------------
// modes
//----------------------------------------------------------------

func (e *Engine) plain(ctx context.Context, req Request) (Reply, error) {
	reply, err := e.complete(ctx, *req.History, e.options(req, *req.History))
	if err != nil {
		return Reply{}, err
	}
	e.commit(ctx, req.History, reply)
	return Reply{Text: reply.Content, Message: reply}, nil
}

func (e *Engine) freeOrder(ctx context.Context, req Request, hasTools bool) (Reply, error) {
	sys := e.sys.Load()

	var (
		toolHandler   *handler.ToolHandler
		formatHandler *handler.FormatHandler
		blocks        []string
	)
	if hasTools {
		toolHandler = handler.NewToolHandler(req.Tools, sys.RetryBudget)
		blocks = append(blocks, toolHandler.Instructions())
	}
	if req.Format != nil {
		formatHandler = handler.NewFormatHandler(req.Format, sys.RetryBudget)
		blocks = append(blocks, formatHandler.Instructions())
	}

	branch := req.History.Clone()
	branch.AugmentSystem(strings.Join(blocks, instructionSeparator))

	maxTurns := sys.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	for turn := 1; turn <= maxTurns; turn++ {
		opts := e.options(req, branch)
		if formatHandler != nil && toolHandler == nil {
			opts.SchemaHint = jsoniter.RawMessage(req.Format.SchemaJSON())
		}

		reply, err := e.complete(ctx, branch, opts)
		if err != nil {
			return Reply{}, err
		}

		if toolHandler != nil && handler.IsToolCall(reply.Content) {
			res, err := toolHandler.Resolve(ctx, reply.Content)
			if err != nil {
				return Reply{}, err
			}
			branch.Append(reply, res.Message)
			if res.OK {
				e.commit(ctx, req.History, reply, res.Message)
			} else {
				e.discard(ctx, reply, res.Message)
			}
			continue
		}

		if formatHandler != nil {
			res, err := formatHandler.Resolve(ctx, reply.Content)
			if err != nil {
				return Reply{}, err
			}
			if !res.OK {
				branch.Append(reply, res.Message)
				e.discard(ctx, reply, res.Message)
				continue
			}
			e.commit(ctx, req.History, reply)
			return Reply{Text: reply.Content, Value: res.Value, Message: reply}, nil
		}

		e.commit(ctx, req.History, reply)
		return Reply{Text: reply.Content, Message: reply}, nil
	}

	return Reply{}, fmt.Errorf("%w: %d backend calls", ErrTurnLimit, maxTurns)
}

func (e *Engine) forced(ctx context.Context, req Request, hasTools bool) (Reply, error) {
	budget := e.sys.Load().RetryBudget

	if hasTools {
		for _, name := range req.Tools.Names() {
			single, err := req.Tools.Subset(name)
			if err != nil {
				return Reply{}, err
			}
			h := handler.NewToolHandler(single, budget, handler.WithMaxCalls(1))
			if _, err := e.force(ctx, req, h, nil); err != nil {
				return Reply{}, fmt.Errorf("forced tool %s: %w", name, err)
			}
		}
	}

	if req.Format != nil {
		h := handler.NewFormatHandler(req.Format, budget)
		reply, err := e.force(ctx, req, h, jsoniter.RawMessage(req.Format.SchemaJSON()))
		if err != nil {
			return Reply{}, fmt.Errorf("forced format %s: %w", req.Format.Name, err)
		}
		return reply, nil
	}

	return e.plain(ctx, req)
}

// force queries the backend against h on a fresh branch until h resolves.
// The loop ends through the handler: its budget turns the last failure into
// an error.
func (e *Engine) force(ctx context.Context, req Request, h handler.Handler, schemaHint jsoniter.RawMessage) (Reply, error) {
	branch := req.History.Clone()
	branch.AugmentSystem(h.Instructions())

	for {
		opts := e.options(req, branch)
		opts.SchemaHint = schemaHint

		reply, err := e.complete(ctx, branch, opts)
		if err != nil {
			return Reply{}, err
		}

		res, err := h.Resolve(ctx, reply.Content)
		if err != nil {
			return Reply{}, err
		}
		if !res.OK {
			branch.Append(reply, res.Message)
			e.discard(ctx, reply, res.Message)
			continue
		}

		committed := []llm.Message{reply}
		if res.Message.Content != "" {
			committed = append(committed, res.Message)
		}
		e.commit(ctx, req.History, committed...)
		return Reply{Text: reply.Content, Value: res.Value, Message: reply}, nil
	}
}

//----------------------------------------------------------------
// backend + transcript helpers
//----------------------------------------------------------------

func (e *Engine) options(req Request, input llm.History) llm.Options {
	sys := e.sys.Load()
	opts := llm.Options{
		Temperature:   sys.Temperature,
		TopP:          sys.TopP,
		ContextWindow: sys.ContextWindow,
		Seed:          sys.Seed,
	}
	switch {
	case req.DynamicContext || (sys.DynamicContext && req.ContextWindow == 0):
		opts.ContextWindow = llm.EstimateContextWindow(input.Messages(), sys.MaxTokens)
	case req.ContextWindow > 0:
		opts.ContextWindow = req.ContextWindow
	}
	if opts.Seed == nil {
		seed := utils.RandomSeed()
		opts.Seed = &seed
	}
	return opts
}

func (e *Engine) complete(ctx context.Context, input llm.History, opts llm.Options) (llm.Message, error) {
	slog.DebugContext(ctx, "Calling backend", "messages", input.Len(), "num_ctx", opts.ContextWindow, "seed", *opts.Seed)
	reply, err := e.completer.Complete(ctx, input.Messages(), opts)
	if err != nil {
		return llm.Message{}, fmt.Errorf("backend call: %w", err)
	}
	return reply, nil
}

func (e *Engine) commit(ctx context.Context, history *llm.History, msgs ...llm.Message) {
	history.Append(msgs...)
	id := llm.DebugID(ctx)
	for _, m := range msgs {
		e.monitor.OnMessage(monitor.NewMonitorMessage(id, m, true))
	}
}

func (e *Engine) discard(ctx context.Context, msgs ...llm.Message) {
	id := llm.DebugID(ctx)
	for _, m := range msgs {
		slog.DebugContext(ctx, "Attempt discarded", "role", m.Role, "chars", len(m.Content))
		e.monitor.OnMessage(monitor.NewMonitorMessage(id, m, false))
	}
}
