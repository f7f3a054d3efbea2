// Package sanitize strips markup from user supplied text.
package sanitize

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// UnsafePlaceholder replaces text that was entirely markup.
const UnsafePlaceholder = "[unsafe content removed]"

// Text removes every tag from s, drops the contents of script and style
// elements and escapes what is left, so the result renders as plain text.
func Text(s string) string {
	z := xhtml.NewTokenizer(strings.NewReader(s))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return strings.TrimSpace(html.EscapeString(b.String()))
		case xhtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case xhtml.StartTagToken:
			if dropsContent(z) {
				skip++
			}
		case xhtml.EndTagToken:
			if dropsContent(z) && skip > 0 {
				skip--
			}
		}
	}
}

func dropsContent(z *xhtml.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Iframe, atom.Noscript, atom.Template:
		return true
	}
	return false
}

// Message sanitizes a chat message. Non-empty input that sanitizes to
// nothing is replaced by UnsafePlaceholder.
func Message(s string) string {
	clean := Text(s)
	if clean == "" && strings.TrimSpace(s) != "" {
		return UnsafePlaceholder
	}
	return clean
}
