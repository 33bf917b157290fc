// ABOUTME: HTML rendering of a session with Markdown message bodies
// ABOUTME: Uses goldmark for content and an embedded html/template page

package transcript

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/jacox/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	pageTemplate = template.Must(template.ParseFS(templateFS, "templates/export.html"))
	markdown     = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

type renderedMessage struct {
	Role      string
	Model     string
	CreatedAt string
	Body      template.HTML
}

// RenderHTML renders the session as a standalone HTML page.
func RenderHTML(session *store.Session, messages []*store.Message) ([]byte, error) {
	data := struct {
		Name      string
		ID        string
		CreatedAt string
		Messages  []renderedMessage
	}{
		Name:      session.Name,
		ID:        session.ID,
		CreatedAt: session.CreatedAt.UTC().Format(time.RFC1123),
	}

	for _, m := range messages {
		var body bytes.Buffer
		if err := markdown.Convert([]byte(m.Content), &body); err != nil {
			return nil, fmt.Errorf("rendering message %d: %w", m.ID, err)
		}
		data.Messages = append(data.Messages, renderedMessage{
			Role:      strings.ToLower(m.Role),
			Model:     m.Model,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC1123),
			Body:      template.HTML(body.String()),
		})
	}

	var out bytes.Buffer
	if err := pageTemplate.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("executing export template: %w", err)
	}
	return out.Bytes(), nil
}
