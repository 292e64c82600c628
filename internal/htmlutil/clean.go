package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text, decoding entities and stripping tags.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// CleanLine reduces untrusted model text to a single trimmed plain-text line.
func CleanLine(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = ToText(s)
	}
	return strings.Join(strings.Fields(s), " ")
}
