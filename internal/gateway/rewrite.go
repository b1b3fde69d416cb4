// Request body rewrites applied before forwarding.
//
// DESIGN: Surgical edits via gjson/sjson so unknown fields pass through
// byte-for-byte. Two rewrites:
//   - leading-message normalization for provider families that reject a
//     conversation starting with a non-user message
//   - tool-call id sanitization for upstreams that only accept [A-Za-z0-9_-]
package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// continuationPlaceholder is prepended when a conversation would otherwise
// open with an assistant or tool message.
const continuationPlaceholder = "(continuing conversation)"

// familiesRequiringLeadingUser reject a leading non-user message after the
// system block.
var familiesRequiringLeadingUser = map[string]bool{
	"anthropic": true,
	"deepseek":  true,
}

// NormalizeLeadingMessages prepends a placeholder user message when the
// first non-system message is not a user message and the target family
// requires one. Returns the body unchanged otherwise.
func NormalizeLeadingMessages(body []byte, family string) []byte {
	if !familiesRequiringLeadingUser[family] {
		return body
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body
	}

	insertAt := -1
	for i, msg := range messages.Array() {
		role := msg.Get("role").String()
		if role == "system" || role == "developer" {
			continue
		}
		if role != "user" {
			insertAt = i
		}
		break
	}
	if insertAt < 0 {
		return body
	}

	placeholder := map[string]string{"role": "user", "content": continuationPlaceholder}
	rebuilt, err := insertMessage(body, insertAt, placeholder)
	if err != nil {
		log.Warn().Err(err).Msg("rewrite: leading-message normalization failed, forwarding as-is")
		return body
	}
	return rebuilt
}

// insertMessage rebuilds messages with an extra entry at index.
func insertMessage(body []byte, index int, msg any) ([]byte, error) {
	raw := gjson.GetBytes(body, "messages").Raw
	var messages []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(messages)+1)
	out = append(out, messages[:index]...)
	out = append(out, encoded)
	out = append(out, messages[index:]...)
	return sjson.SetBytes(body, "messages", out)
}

// toolIDPattern matches characters upstreams reject in tool-call ids.
var toolIDPattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// idSite is one location in the body holding a tool-call id.
type idSite struct {
	path string
	id   string
}

// SanitizeToolIDs rewrites embedded tool identifiers to the [A-Za-z0-9_-]
// alphabet. The mapping is consistent within one request, so a
// tool_result's tool_use_id keeps matching its producing tool_use id;
// post-sanitization collisions get a deterministic numeric suffix.
func SanitizeToolIDs(body []byte) []byte {
	sites := collectIDSites(body)
	if len(sites) == 0 {
		return body
	}

	// First pass: reserve ids that are already clean so a sanitized id
	// cannot collide with them.
	used := make(map[string]bool, len(sites))
	for _, site := range sites {
		if !toolIDPattern.MatchString(site.id) {
			used[site.id] = true
		}
	}

	mapping := make(map[string]string)
	rewrite := func(id string) string {
		if !toolIDPattern.MatchString(id) {
			return id
		}
		if mapped, ok := mapping[id]; ok {
			return mapped
		}
		candidate := toolIDPattern.ReplaceAllString(id, "_")
		if used[candidate] {
			for n := 2; ; n++ {
				next := fmt.Sprintf("%s_%d", candidate, n)
				if !used[next] {
					candidate = next
					break
				}
			}
		}
		used[candidate] = true
		mapping[id] = candidate
		return candidate
	}

	result := body
	for _, site := range sites {
		sanitized := rewrite(site.id)
		if sanitized == site.id {
			continue
		}
		rewritten, err := sjson.SetBytes(result, site.path, sanitized)
		if err != nil {
			log.Warn().Err(err).Str("path", site.path).Msg("rewrite: tool id sanitization failed")
			continue
		}
		result = rewritten
	}
	return result
}

// collectIDSites walks messages for every tool-id field, in document order.
func collectIDSites(body []byte) []idSite {
	var sites []idSite
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return nil
	}

	for mi, msg := range messages.Array() {
		if tcs := msg.Get("tool_calls"); tcs.IsArray() {
			for ti, tc := range tcs.Array() {
				if id := tc.Get("id"); id.Exists() && id.String() != "" {
					sites = append(sites, idSite{
						path: fmt.Sprintf("messages.%d.tool_calls.%d.id", mi, ti),
						id:   id.String(),
					})
				}
			}
		}
		if id := msg.Get("tool_call_id"); id.Exists() && id.String() != "" {
			sites = append(sites, idSite{
				path: fmt.Sprintf("messages.%d.tool_call_id", mi),
				id:   id.String(),
			})
		}
		// Anthropic-style content blocks.
		if content := msg.Get("content"); content.IsArray() {
			for ci, part := range content.Array() {
				switch part.Get("type").String() {
				case "tool_use":
					if id := part.Get("id"); id.Exists() && id.String() != "" {
						sites = append(sites, idSite{
							path: fmt.Sprintf("messages.%d.content.%d.id", mi, ci),
							id:   id.String(),
						})
					}
				case "tool_result":
					if id := part.Get("tool_use_id"); id.Exists() && id.String() != "" {
						sites = append(sites, idSite{
							path: fmt.Sprintf("messages.%d.content.%d.tool_use_id", mi, ci),
							id:   id.String(),
						})
					}
				}
			}
		}
	}
	return sites
}

// extractPromptParts pulls the last user message and first system message
// for the scorer, plus the concatenated text of every message for token
// estimation.
func extractPromptParts(body []byte) (lastUser, firstSystem, allText string) {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return "", "", ""
	}

	var sb strings.Builder
	for _, msg := range messages.Array() {
		content := messageText(msg.Get("content"))
		sb.WriteString(content)
		sb.WriteByte('\n')

		switch msg.Get("role").String() {
		case "user":
			lastUser = content
		case "system", "developer":
			if firstSystem == "" {
				firstSystem = content
			}
		}
	}
	return lastUser, firstSystem, sb.String()
}

// messageText flattens string or multi-part content to text.
func messageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var sb strings.Builder
		for _, part := range content.Array() {
			if t := part.Get("text"); t.Exists() {
				sb.WriteString(t.String())
				sb.WriteByte(' ')
			}
		}
		return strings.TrimSpace(sb.String())
	}
	return ""
}
