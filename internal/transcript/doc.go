// Package transcript converts sessions to and from portable documents.
//
// Export writes the flat text format used for backups and hand editing:
//
//	Session: <name>
//	ID: <id>
//	Created At: <RFC 3339 timestamp>
//	---
//	[USER]: first line
//	continuation line
//	---
//	[ASSISTANT]: reply
//	---
//
// Import reads the same format back. Only the session name and the role and
// content of each entry survive a round trip; ids, timestamps, models and
// metadata are assigned afresh by the store.
//
// RenderHTML produces a standalone HTML page with message bodies rendered
// as Markdown.
package transcript
