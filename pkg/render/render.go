// Package render turns user-submitted text into safe HTML fragments.
// Chat content is markdown-rendered then sanitized; status text is
// escaped and sanitized without markdown. The hub treats every result
// as an opaque string.
package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts raw chat input into sanitized HTML. Safe for
// concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New builds a Renderer with GFM markdown, hard line breaks, and the
// bluemonday UGC sanitization policy.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Markdown renders raw markdown to HTML and sanitizes the result. The
// returned string may be empty if the input had no visible content.
func (r *Renderer) Markdown(raw string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(raw), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return strings.TrimSpace(r.policy.Sanitize(buf.String())), nil
}

// PlainText escapes and sanitizes a single line of text (status
// messages). Markup never survives.
func (r *Renderer) PlainText(raw string) string {
	return r.policy.Sanitize(html.EscapeString(raw))
}

// Message wraps already-sanitized content in the chat message fragment.
// When showInfo is set the fragment carries a header with the poster's
// username and timestamp; consecutive messages from the same user
// within the grouping window omit it.
func Message(content, username string, ts time.Time, showInfo bool) string {
	hash := fragmentID(content, username, ts)
	var sb strings.Builder
	sb.WriteString(`<div id="msg_` + hash + `" class="message">`)
	if showInfo {
		sb.WriteString(`<hr/><span id="msg_info_` + hash + `" class="message_info">`)
		sb.WriteString(`<strong id="msg_username_` + hash + `" class="message_username">`)
		sb.WriteString(html.EscapeString(username))
		sb.WriteString(`</strong><span id="msg_ts_` + hash + `" class="message_ts"></span>`)
		sb.WriteString(`<input class="message_ts_value" type="hidden" value="` + ts.UTC().Format(time.RFC3339) + `"/>`)
		sb.WriteString(`</span>`)
	}
	sb.WriteString(`<div id="msg_content_` + hash + `" class="message_content">` + content + `</div>`)
	sb.WriteString(`</div>`)
	return sb.String()
}

// fragmentID derives a stable element ID so clients can anchor and
// deduplicate fragments.
func fragmentID(content, username string, ts time.Time) string {
	h := sha256.Sum256([]byte(content + "\x00" + username + "\x00" + ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:8])
}
