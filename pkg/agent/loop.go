package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rizal/riko/pkg/shell"
	"github.com/rizal/riko/pkg/tool"
)

// Config bounds loop behavior per run.
type Config struct {
	// MaxTurns caps model calls per run to prevent infinite loops.
	MaxTurns int
	// KeepImages is the number of most recent images retained in the
	// history view sent to the model.
	KeepImages int
	// PruneChunk batches image removal to keep prompt caching effective.
	PruneChunk int
	// CacheMarkers is the number of recent turn boundaries annotated
	// for prompt caching.
	CacheMarkers int
	// ToolConcurrency bounds parallel tool execution within one batch;
	// zero means unbounded.
	ToolConcurrency int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:     50,
		KeepImages:   10,
		PruneChunk:   5,
		CacheMarkers: 3,
	}
}

// Loop drives the turn-by-turn protocol: model call, tool dispatch,
// result injection, repeat. It owns the conversation history for the
// duration of one task and releases the shell session on every
// terminal state.
type Loop struct {
	client   ModelClient
	registry *tool.Registry
	session  *shell.Session
	config   Config
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State
}

// NewLoop creates a loop controller. The session may be nil when no
// shell-backed tool is registered.
func NewLoop(cfg Config, client ModelClient, registry *tool.Registry, session *shell.Session, logger zerolog.Logger) (*Loop, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	return &Loop{
		client:   client,
		registry: registry,
		session:  session,
		config:   cfg,
		logger:   logger.With().Str("component", "loop").Logger(),
		state:    StateIdle,
	}, nil
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.logger.Debug().Str("state", string(s)).Msg("State transition")
}

// Run executes one task to a terminal state. Cancel the context to
// stop the run; the shell session is terminated best-effort on every
// terminal path so no orphaned process survives the loop.
func (l *Loop) Run(ctx context.Context, task string) (Result, error) {
	runID := uuid.New().String()
	logger := l.logger.With().Str("run_id", runID).Logger()
	logger.Info().Msg("Run started")

	defer func() {
		if l.session != nil {
			l.session.Stop()
		}
	}()

	history := []Turn{{Role: RoleUser, Blocks: []Block{{Kind: BlockText, Text: task}}}}
	var usage TokenUsage

	fail := func(err error) (Result, error) {
		l.setState(StateFailed)
		logger.Error().Err(err).Msg("Run failed")
		return Result{State: StateFailed, Turns: history, Usage: usage}, err
	}
	cancelled := func() (Result, error) {
		l.setState(StateCancelled)
		logger.Info().Msg("Run cancelled")
		return Result{State: StateCancelled, Turns: history, Usage: usage}, nil
	}

	for turn := 0; ; turn++ {
		if l.config.MaxTurns > 0 && turn >= l.config.MaxTurns {
			return fail(fmt.Errorf("maximum turns (%d) exceeded", l.config.MaxTurns))
		}
		if ctx.Err() != nil {
			return cancelled()
		}

		l.setState(StateAwaitingModel)

		view := MarkCacheBoundaries(PruneImages(history, l.config.KeepImages, l.config.PruneChunk), l.config.CacheMarkers)

		exchange, err := l.client.Send(ctx, view, l.registry.Schemas())
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			var clientErr *ClientError
			if !errors.As(err, &clientErr) {
				err = &ClientError{Err: err}
			}
			return fail(err)
		}

		usage.Add(exchange.Usage)
		history = append(history, exchange.Turn)

		if len(exchange.Calls) == 0 {
			l.setState(StateCompleted)
			logger.Info().Int("turns", turn+1).Msg("Run completed")
			return Result{
				State:     StateCompleted,
				FinalText: exchange.Turn.Text(),
				Turns:     history,
				Usage:     usage,
			}, nil
		}

		l.setState(StateExecutingTools)

		blocks, fatalErr := l.executeBatch(ctx, exchange.Calls, logger)
		history = append(history, Turn{Role: RoleUser, Blocks: blocks})

		if ctx.Err() != nil {
			return cancelled()
		}
		if fatalErr != nil {
			return fail(fatalErr)
		}
	}
}

// executeBatch runs one batch of tool calls, fanning out up to the
// configured concurrency limit. Results are reassembled in the order
// the model requested them regardless of completion order. A fatal
// execution error is returned after the whole batch settles so every
// call still gets a history-visible result.
func (l *Loop) executeBatch(ctx context.Context, calls []tool.Call, logger zerolog.Logger) ([]Block, error) {
	blocks := make([]Block, len(calls))

	var sem chan struct{}
	if l.config.ToolConcurrency > 0 {
		sem = make(chan struct{}, l.config.ToolConcurrency)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call tool.Call) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			block, err := l.executeCall(ctx, call, logger)
			blocks[i] = block

			if err != nil {
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
			}
		}(i, call)
	}
	wg.Wait()

	return blocks, fatal
}

// executeCall dispatches one tool call and converts its outcome into a
// history block. Execution errors become result-bearing notes the
// model can adapt to; only errors tagged fatal propagate.
func (l *Loop) executeCall(ctx context.Context, call tool.Call, logger zerolog.Logger) (Block, error) {
	result, err := l.registry.Dispatch(ctx, call)
	if err == nil {
		return resultBlock(call.ID, result), nil
	}

	if ctx.Err() != nil {
		return Block{
			Kind:      BlockToolResult,
			ResultFor: call.ID,
			Text:      "tool execution cancelled",
			IsError:   true,
		}, nil
	}

	var execErr *tool.ExecutionError
	if !errors.As(err, &execErr) {
		execErr = tool.NewExecutionError(call.Name, err)
	}

	logger.Warn().Str("tool", call.Name).Bool("fatal", execErr.Fatal).Err(execErr).Msg("Tool execution error")

	block := Block{
		Kind:      BlockToolResult,
		ResultFor: call.ID,
		Text:      fmt.Sprintf("tool execution error: %v", execErr),
		IsError:   true,
	}
	if execErr.Fatal {
		return block, execErr
	}
	return block, nil
}

// resultBlock renders a tool result for history: the system note is
// wrapped so the model can tell it apart from command output.
func resultBlock(id string, result tool.Result) Block {
	var b strings.Builder
	if result.System != "" {
		b.WriteString("<system>" + result.System + "</system>")
	}
	if result.Output != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(result.Output)
	}
	if result.Error != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(result.Error)
	}

	return Block{
		Kind:      BlockToolResult,
		ResultFor: id,
		Text:      b.String(),
		Image:     result.Image,
		IsError:   result.Failure,
	}
}
