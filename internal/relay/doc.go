// ABOUTME: Package documentation for the relay package
// ABOUTME: Bounded producer/consumer hand-off for streamed tokens

// Package relay turns a blocking streaming completion into a receive-only
// channel of text fragments. The producer runs in its own goroutine and
// writes into a bounded buffer; when it finishes, the channel is closed and
// any producer error becomes available through Err.
//
// Fragments arrive in production order. The buffer holds up to Capacity
// fragments, so a slow consumer applies backpressure to the provider rather
// than growing memory without bound.
package relay
