// Package agent drives the autonomous tool-use loop: it sends a
// bounded view of the conversation to the model, dispatches the tool
// calls the model requests, appends the results to history and
// repeats until the task completes, fails or is cancelled.
//
// Invariants:
// - History is append-only; the pruned view sent upstream never
//   mutates it.
// - Tool results are reassembled in the order the model requested the
//   calls, even when they execute concurrently.
// - Every terminal state releases the shell session.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.DefaultConfig(), client, registry, session, logger)
//	result, err := loop.Run(ctx, "list files in /tmp")
//	_ = result
//	_ = err
package agent
