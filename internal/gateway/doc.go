// Package gateway serves jacox over HTTP.
//
// # Overview
//
// The Gateway owns the HTTP server and wires the store, the model
// provider, the tool registry and the conversation service together.
//
// # REST API
//
//   - GET /health - provider name and advertised models
//   - POST /sessions, GET /sessions - create and page sessions
//   - GET /sessions/stats - session/message counts and database size
//   - GET|PATCH|DELETE /sessions/{id}
//   - POST|GET /sessions/{id}/messages - a user message runs a full agent turn
//   - GET /sessions/{id}/export?format=text|html
//   - POST /sessions/import - restore a plain-text export
//
// # OpenAI Compatibility
//
// POST /v1/chat/completions accepts OpenAI-shaped requests. System
// messages are grounded with the current date, and the registry's tools
// are offered when the request carries none. Setting the
// X-Jacox-Session-Id header persists the last user message and the reply
// to that session. With "stream": true the response is a stream of
// chat.completion.chunk events ending in "data: [DONE]".
//
// # WebSocket Chat
//
// GET /ws/chat/{session_id} upgrades to a duplex connection:
//
//	-> {"type":"message","content":"hi"}
//	<- {"type":"chunk","content":"Hel"}
//	<- {"type":"chunk","content":"lo"}
//	<- {"type":"done","content":""}
//
// A new message replaces the active run. {"type":"cancel"} aborts it and
// is answered with a "Generation cancelled" status followed by done.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is cancelled and shutdown completes
package gateway
