package mail

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"strings"

	fiberhtml "github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// ErrUnknownTemplate is returned for template names without a body or subject.
var ErrUnknownTemplate = errors.New("unknown email template")

// subjectPrefix names the {{define}} block holding a template's subject line.
const subjectPrefix = "subject:"

// Renderer turns a template name plus data into a subject and HTML body using the same
// view engine the web layer uses.
type Renderer struct {
	engine *fiberhtml.Engine
}

func NewRenderer() (*Renderer, error) {
	root, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("open email templates: %w", err)
	}
	engine := fiberhtml.NewFileSystem(http.FS(root), ".html")
	engine.AddFunc("money", formatCents)
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

// Render executes the named template and its subject block.
func (r *Renderer) Render(name string, data map[string]interface{}) (string, string, error) {
	if r.engine.Templates.Lookup(name) == nil || r.engine.Templates.Lookup(subjectPrefix+name) == nil {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var sb, bb bytes.Buffer
	if err := r.engine.Render(&sb, subjectPrefix+name, data); err != nil {
		return "", "", fmt.Errorf("render subject %s: %w", name, err)
	}
	if err := r.engine.Render(&bb, name, data); err != nil {
		return "", "", fmt.Errorf("render body %s: %w", name, err)
	}
	// Subjects go into a mail header, not HTML.
	return html.UnescapeString(strings.TrimSpace(sb.String())), bb.String(), nil
}

// formatCents renders an amount in cents as dollars. Payload values arrive as float64
// after a JSON round trip through the job queue.
func formatCents(v interface{}) string {
	var cents int64
	switch n := v.(type) {
	case int:
		cents = int64(n)
	case int64:
		cents = n
	case float64:
		cents = int64(n)
	case json.Number:
		cents, _ = n.Int64()
	default:
		return ""
	}
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
