// ABOUTME: Package documentation for the tools package
// ABOUTME: In-process tool registry offered to models during the agent loop

// Package tools holds the functions a model may ask the gateway to run.
//
// A Registry maps unique tool names to implementations. Invoke never fails:
// an unknown name or a tool-level problem is reported as text, because the
// result is fed straight back to the model as the content of a tool message.
//
// The only built-in tool is internet_search, which scrapes DuckDuckGo's HTML
// results page, fetches the top hits concurrently and returns their visible
// text.
package tools
