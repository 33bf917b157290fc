// Package llm defines the vendor-neutral chat vocabulary spoken by every
// other part of jacox.
//
// # Overview
//
// A conversation is a Transcript: an ordered slice of Message values with
// roles system, user, assistant and tool. Assistant messages may carry
// ToolCalls; tool messages carry the ToolCallID of the request they answer.
//
// Backends implement Provider. Complete returns one Result; a Result whose
// ToolCalls slice is non-empty is an unfinished turn and must be answered
// with tool messages before the model can produce a final reply.
// CompleteStreaming pushes text fragments into a caller-supplied channel and
// blocks when that channel is full.
//
// # Errors
//
// Adapters report failures as *Error with one of four kinds:
//
//	KindNetwork         transport failure reaching the vendor
//	KindAPI             non-success status (carries status and body)
//	KindRateLimited     HTTP 429, kept apart from KindAPI
//	KindInvalidRequest  response body did not have the expected shape
//
// # Framing
//
// ScanSSE and ScanLines split vendor response bodies into events so each
// adapter only deals with the JSON payload it cares about.
package llm
