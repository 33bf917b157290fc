// ABOUTME: Package documentation for the cache package
// ABOUTME: Thread-safe TTL cache with size-bounded LRU eviction

// Package cache provides a small in-process key/value cache with per-entry
// expiry and least-recently-written eviction. The search tool uses it to
// avoid re-fetching results for identical queries.
package cache
