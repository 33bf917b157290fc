// Package store provides persistent storage for sessions and messages.
//
// # Architecture
//
// Store is the interface every consumer depends on. SQLiteStore implements
// it on modernc.org/sqlite; MockStore is an in-memory implementation for
// tests.
//
// # Data Models
//
//   - Session: a named conversation with JSON metadata (system_prompt, ...)
//   - Message: one transcript entry with role, content, optional model and
//     token count, and JSON metadata (tool_calls, tool_call_id, source)
//
// # Concurrency
//
// A single mutex guards every statement sequence. Each method acquires it,
// runs its statements and releases it before returning, so no caller ever
// holds the store across a network call.
//
// # Ordering
//
// Message ids are autoincrementing, and lists order by id, so the
// transcript order is insertion order even when timestamps collide.
package store
