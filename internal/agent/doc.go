// Package agent runs the bounded tool-calling loop between a model and the
// in-process tool registry.
//
// # Overview
//
// A Loop owns one Provider, one Store and one tool Invoker. Each call to Run
// handles a single external request:
//
//	loop := agent.New(agent.Config{Provider: p, Store: s, Tools: reg, Logger: logger})
//	resp, err := loop.Run(ctx, agent.Request{SessionID: id, Transcript: msgs, Options: opts})
//
// # States
//
// Every iteration calls the provider with the current transcript. A result
// without tool calls is final: it is persisted as one assistant entry and
// returned. A result with tool calls is persisted as an assistant entry that
// carries the full call set, then each call is dispatched to the registry and
// its output persisted as a tool entry. The transcript grows by the same
// entries that were persisted, so the stored conversation always matches what
// the next provider call sees.
//
// # Bound
//
// At most MaxIterations provider calls are made per Run. When the model keeps
// asking for tools after the last allowed call, Run returns ErrLoopExceeded
// without calling the provider again.
//
// # Persistence
//
// Persistence is best effort. A failed write is logged and the run carries
// on, so a storage hiccup never loses a reply that the model already produced.
// An empty SessionID disables persistence entirely.
package agent
