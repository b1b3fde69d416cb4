// Thinking-token stripping.
//
// Some models leak internal deliberation markers into assistant content.
// The closed set handled here: XML-like think tags, and the fullwidth
// vertical-bar framed tokens certain models emit. Stripping applies only to
// upstream-produced assistant content, never to user messages being
// forwarded upstream.
package gateway

import (
	"regexp"
	"strings"
)

var (
	// Block and standalone forms of the XML-like tags.
	thinkBlockPattern = regexp.MustCompile(`(?is)<(think|thinking|thought|antthinking)>.*?</(think|thinking|thought|antthinking)>`)
	thinkTagPattern   = regexp.MustCompile(`(?i)</?(think|thinking|thought|antthinking)>`)

	// Fullwidth-bar framed tokens: block form first, then any stragglers.
	barBlockPattern = regexp.MustCompile(`(?is)<｜[^｜<>]*begin[^｜<>]*｜>.*?<｜[^｜<>]*end[^｜<>]*｜>`)
	barTokenPattern = regexp.MustCompile(`<｜[^｜]*｜>`)
)

// StripThinking removes internal deliberation markers from assistant
// content. Matching is case-insensitive and non-greedy. Leading whitespace
// left behind by a stripped block is trimmed; untouched content is returned
// as-is.
func StripThinking(content string) string {
	if content == "" {
		return content
	}
	// Fast path: no marker openers at all.
	if !strings.Contains(content, "<") {
		return content
	}

	stripped := thinkBlockPattern.ReplaceAllString(content, "")
	stripped = thinkTagPattern.ReplaceAllString(stripped, "")
	stripped = barBlockPattern.ReplaceAllString(stripped, "")
	stripped = barTokenPattern.ReplaceAllString(stripped, "")

	if stripped == content {
		return content
	}
	return strings.TrimLeft(stripped, " \t\n\r")
}
