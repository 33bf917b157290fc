// Package conversation turns a stored session into model turns.
//
// # Overview
//
// The Service sits between the transports (REST, WebSocket, CLI) and the
// model layer. For every user message it:
//
//  1. Persists the message to the session.
//  2. Loads the newest max_history_messages entries as the transcript,
//     restoring tool calls and tool call ids from message metadata.
//  3. Builds the grounded system prompt (see below).
//  4. Runs either the agent loop (Reply) or a streamed completion (Stream).
//
// # Grounding
//
// The system prompt is prefixed with the current date so the model can
// answer time-relative questions:
//
//	Current Date: Saturday, March 09, 2024.
//
//	You are a helpful assistant.
//
// Any "{current_date}" placeholder inside the prompt is replaced with the
// same date. A session's metadata key "system_prompt" overrides the
// configured prompt.
//
// # Streaming
//
// Stream relays fragments through a bounded relay and hands each one to the
// caller's emit function. The concatenated reply is persisted once at the
// end, never per fragment. A stream whose context was cancelled persists
// nothing, so an aborted turn leaves only the user message behind.
package conversation
