package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizal/riko/pkg/coretools"
	"github.com/rizal/riko/pkg/shell"
	"github.com/rizal/riko/pkg/tool"
)

// scriptedClient replays a fixed sequence of model responses and
// records the history view it was sent on each call.
type scriptedClient struct {
	mu    sync.Mutex
	steps []func(turns []Turn) (*Exchange, error)
	views [][]Turn
}

func (c *scriptedClient) Send(ctx context.Context, turns []Turn, tools []tool.Schema) (*Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.views = append(c.views, turns)
	if len(c.views) > len(c.steps) {
		return nil, fmt.Errorf("unexpected model call %d", len(c.views))
	}
	return c.steps[len(c.views)-1](turns)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

func (c *scriptedClient) view(i int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[i]
}

func toolCallStep(calls ...tool.Call) func(turns []Turn) (*Exchange, error) {
	return func(turns []Turn) (*Exchange, error) {
		blocks := make([]Block, 0, len(calls))
		for i := range calls {
			blocks = append(blocks, Block{Kind: BlockToolUse, Call: &calls[i]})
		}
		return &Exchange{
			Turn:  Turn{Role: RoleAssistant, Blocks: blocks},
			Calls: calls,
			Usage: TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

func finalStep(text string) func(turns []Turn) (*Exchange, error) {
	return func(turns []Turn) (*Exchange, error) {
		return &Exchange{
			Turn:  Turn{Role: RoleAssistant, Blocks: []Block{{Kind: BlockText, Text: text}}},
			Usage: TokenUsage{InputTokens: 20, OutputTokens: 8},
		}, nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxTurns = 10
	return cfg
}

func newShellLoop(t *testing.T, client ModelClient, sessionTimeout time.Duration) *Loop {
	t.Helper()

	session := shell.NewSession(zerolog.Nop(), sessionTimeout)
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(coretools.NewBashTool(session, 0)))

	loop, err := NewLoop(testConfig(), client, registry, session, zerolog.Nop())
	require.NoError(t, err)
	return loop
}

func TestNewLoop_Validation(t *testing.T) {
	registry := tool.NewRegistry()

	_, err := NewLoop(testConfig(), nil, registry, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewLoop(testConfig(), &scriptedClient{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	loop, err := NewLoop(testConfig(), &scriptedClient{}, registry, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, loop.State())
}

func TestLoop_Run_CompletedWithoutTools(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		finalStep("nothing to do"),
	}}
	registry := tool.NewRegistry()
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "say hi")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, StateCompleted, loop.State())
	assert.Equal(t, "nothing to do", result.FinalText)
	assert.Equal(t, TokenUsage{InputTokens: 20, OutputTokens: 8}, result.Usage)

	// Task turn plus the final assistant turn.
	require.Len(t, result.Turns, 2)
	assert.Equal(t, RoleUser, result.Turns[0].Role)
	assert.Equal(t, "say hi", result.Turns[0].Text())
}

func TestLoop_Run_CompletedWithShellCommand(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "bash", Params: map[string]interface{}{"command": "echo hello"}}),
		finalStep("printed hello"),
	}}
	loop := newShellLoop(t, client, 10*time.Second)

	result, err := loop.Run(context.Background(), "print hello")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "printed hello", result.FinalText)
	assert.Equal(t, 2, client.callCount())

	// The second model call saw the command output as a tool result.
	secondView := client.view(1)
	last := secondView[len(secondView)-1]
	assert.Equal(t, RoleUser, last.Role)
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, BlockToolResult, last.Blocks[0].Kind)
	assert.Equal(t, "t1", last.Blocks[0].ResultFor)
	assert.Equal(t, "hello", last.Blocks[0].Text)
	assert.False(t, last.Blocks[0].IsError)

	// Usage accumulated across both calls.
	assert.Equal(t, TokenUsage{InputTokens: 30, OutputTokens: 13}, result.Usage)

	// The loop released the session on completion.
	assert.False(t, loop.session.Running())
}

func TestLoop_Run_FailureResultContinues(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "bash", Params: map[string]interface{}{"command": "false"}}),
		finalStep("command failed, done"),
	}}
	loop := newShellLoop(t, client, 10*time.Second)

	result, err := loop.Run(context.Background(), "run something that fails")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)

	secondView := client.view(1)
	last := secondView[len(secondView)-1]
	require.Len(t, last.Blocks, 1)
	assert.True(t, last.Blocks[0].IsError)
	assert.Contains(t, last.Blocks[0].Text, "exited with code 1")
}

func TestLoop_Run_FailedOnCommandTimeout(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "bash", Params: map[string]interface{}{"command": "sleep 30"}}),
	}}
	loop := newShellLoop(t, client, 200*time.Millisecond)

	result, err := loop.Run(context.Background(), "sleep forever")
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateFailed, loop.State())

	var execErr *tool.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.True(t, execErr.Fatal)

	var timeoutErr *shell.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))

	// No further model calls after the fatal error, and no shell
	// process left behind.
	assert.Equal(t, 1, client.callCount())
	assert.False(t, loop.session.Running())
}

func TestLoop_Run_CancelledMidExecution(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "bash", Params: map[string]interface{}{"command": "sleep 30"}}),
	}}
	loop := newShellLoop(t, client, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	result, err := loop.Run(ctx, "sleep forever")
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, StateCancelled, loop.State())
	assert.Equal(t, 1, client.callCount())
	assert.False(t, loop.session.Running())
}

func TestLoop_Run_CancelledBeforeModelCall(t *testing.T) {
	client := &scriptedClient{}
	registry := tool.NewRegistry()
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx, "never starts")
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, client.callCount())
}

func TestLoop_Run_FailedOnClientError(t *testing.T) {
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		func(turns []Turn) (*Exchange, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}}
	registry := tool.NewRegistry()
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "anything")
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)

	var clientErr *ClientError
	assert.True(t, errors.As(err, &clientErr))
}

func TestLoop_Run_FailedOnMaxTurns(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	call := tool.Call{ID: "t1", Name: "echo", Params: map[string]interface{}{"text": "again"}}
	step := toolCallStep(call)
	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){step, step, step}}

	cfg := testConfig()
	cfg.MaxTurns = 3
	loop, err := NewLoop(cfg, client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "loop forever")
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, err.Error(), "maximum turns")
	assert.Equal(t, 3, client.callCount())
}

func TestLoop_Run_ExecutionErrorBecomesNote(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&faultyTool{err: tool.NewExecutionError("faulty", errors.New("transient fault"))}))

	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "faulty", Params: map[string]interface{}{}}),
		finalStep("recovered"),
	}}
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "try the faulty tool")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)

	secondView := client.view(1)
	last := secondView[len(secondView)-1]
	require.Len(t, last.Blocks, 1)
	assert.True(t, last.Blocks[0].IsError)
	assert.Contains(t, last.Blocks[0].Text, "tool execution error")
	assert.Contains(t, last.Blocks[0].Text, "transient fault")
}

func TestLoop_Run_FatalErrorStillRecordsBatch(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))
	require.NoError(t, registry.Register(&faultyTool{err: tool.NewFatalError("faulty", errors.New("broken beyond repair"))}))

	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(
			tool.Call{ID: "t1", Name: "echo", Params: map[string]interface{}{"text": "first"}},
			tool.Call{ID: "t2", Name: "faulty", Params: map[string]interface{}{}},
			tool.Call{ID: "t3", Name: "echo", Params: map[string]interface{}{"text": "third"}},
		),
	}}
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "mixed batch")
	require.Error(t, err)

	assert.Equal(t, StateFailed, result.State)

	// Every call in the batch still got a history-visible result.
	last := result.Turns[len(result.Turns)-1]
	require.Len(t, last.Blocks, 3)
	assert.Equal(t, "t1", last.Blocks[0].ResultFor)
	assert.Equal(t, "t2", last.Blocks[1].ResultFor)
	assert.Equal(t, "t3", last.Blocks[2].ResultFor)
	assert.True(t, last.Blocks[1].IsError)
}

func TestLoop_Run_BatchPreservesCallOrder(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{staggered: true}))

	calls := make([]tool.Call, 4)
	for i := range calls {
		calls[i] = tool.Call{
			ID:     fmt.Sprintf("t%d", i),
			Name:   "echo",
			Params: map[string]interface{}{"text": fmt.Sprintf("out-%d", i), "delay_ms": float64((len(calls) - i) * 50)},
		}
	}

	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(calls...),
		finalStep("all done"),
	}}

	cfg := testConfig()
	cfg.ToolConcurrency = 4
	loop, err := NewLoop(cfg, client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "fan out")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)

	// Slowest call finished first in wall time, yet the results arrive
	// in request order.
	secondView := client.view(1)
	last := secondView[len(secondView)-1]
	require.Len(t, last.Blocks, 4)
	for i, block := range last.Blocks {
		assert.Equal(t, fmt.Sprintf("t%d", i), block.ResultFor)
		assert.Equal(t, fmt.Sprintf("out-%d", i), block.Text)
	}
}

func TestLoop_Run_SystemNoteWrapped(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&faultyTool{result: tool.Result{System: "session has been restarted", Output: "ready"}}))

	client := &scriptedClient{steps: []func(turns []Turn) (*Exchange, error){
		toolCallStep(tool.Call{ID: "t1", Name: "faulty", Params: map[string]interface{}{}}),
		finalStep("done"),
	}}
	loop, err := NewLoop(testConfig(), client, registry, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), "restart")
	require.NoError(t, err)

	secondView := client.view(1)
	last := secondView[len(secondView)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, "<system>session has been restarted</system>\n\nready", last.Blocks[0].Text)
}

// echoTool returns its text parameter, optionally after a delay.
type echoTool struct {
	staggered bool
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes its input" }

func (e *echoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (e *echoTool) Invoke(ctx context.Context, params map[string]interface{}) (tool.Result, error) {
	if e.staggered {
		if ms, ok := params["delay_ms"].(float64); ok {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}
	text, _ := params["text"].(string)
	return tool.Result{Output: text}, nil
}

// faultyTool returns a fixed result or error.
type faultyTool struct {
	result tool.Result
	err    error
}

func (f *faultyTool) Name() string        { return "faulty" }
func (f *faultyTool) Description() string { return "always misbehaves" }

func (f *faultyTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (f *faultyTool) Invoke(ctx context.Context, params map[string]interface{}) (tool.Result, error) {
	return f.result, f.err
}
