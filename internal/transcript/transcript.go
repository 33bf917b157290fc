// ABOUTME: Flat text export and import of a session's messages
// ABOUTME: Entries are "[ROLE]: content" blocks separated by "---" lines

package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/jacox/internal/store"
)

const (
	delimiter       = "---"
	namePrefix      = "Session: "
	defaultName     = "Imported Session"
	roleLineDivider = "]: "
)

// Entry is one message recovered from an imported document.
type Entry struct {
	Role    string
	Content string
}

// Document is the parsed form of an exported session.
type Document struct {
	Name    string
	Entries []Entry
}

// Export renders session and its messages in the flat text format.
func Export(session *store.Session, messages []*store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", namePrefix, session.Name)
	fmt.Fprintf(&b, "ID: %s\n", session.ID)
	fmt.Fprintf(&b, "Created At: %s\n", session.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(delimiter + "\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s]: %s\n", strings.ToUpper(m.Role), m.Content)
		b.WriteString(delimiter + "\n")
	}
	return b.String()
}

// Import parses text produced by Export. It never fails: lines that do not
// fit the format become continuation lines of the current entry. Entries
// with empty content are kept, since assistant tool requests carry none.
func Import(text string) Document {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	doc := Document{Name: defaultName}
	if name, ok := strings.CutPrefix(lines[0], namePrefix); ok {
		doc.Name = name
	}

	var role string
	var content strings.Builder
	flush := func() {
		body := strings.TrimSpace(content.String())
		if role != "" {
			doc.Entries = append(doc.Entries, Entry{Role: strings.ToLower(role), Content: body})
		}
		role = ""
		content.Reset()
	}

	for _, line := range lines[1:] {
		switch {
		case line == delimiter:
			flush()
		case strings.HasPrefix(line, "[") && strings.Contains(line, roleLineDivider):
			flush()
			idx := strings.Index(line, roleLineDivider)
			role = line[1:idx]
			content.WriteString(line[idx+len(roleLineDivider):])
		default:
			// Header lines have no role yet and are dropped by the next flush.
			content.WriteString("\n")
			content.WriteString(line)
		}
	}
	flush()
	return doc
}

// Restore creates a new session from doc and stores its entries in order.
func Restore(ctx context.Context, s store.Store, doc Document) (*store.Session, error) {
	session, err := s.CreateSession(ctx, doc.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	for i, e := range doc.Entries {
		msg := &store.Message{SessionID: session.ID, Role: e.Role, Content: e.Content}
		if err := s.InsertMessage(ctx, msg); err != nil {
			return session, fmt.Errorf("inserting entry %d: %w", i, err)
		}
	}
	return session, nil
}
