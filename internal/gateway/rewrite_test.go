package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNormalizeLeadingMessages_PrependsPlaceholder(t *testing.T) {
	body := []byte(`{"model":"x","messages":[
		{"role":"system","content":"be brief"},
		{"role":"assistant","content":"earlier answer"},
		{"role":"user","content":"continue"}
	]}`)

	out := NormalizeLeadingMessages(body, "anthropic")
	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Get("role").String())
	assert.Equal(t, "user", messages[1].Get("role").String())
	assert.Equal(t, continuationPlaceholder, messages[1].Get("content").String())
	assert.Equal(t, "assistant", messages[2].Get("role").String())
}

func TestNormalizeLeadingMessages_NoChangeWhenUserLeads(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, string(body), string(NormalizeLeadingMessages(body, "anthropic")))
}

func TestNormalizeLeadingMessages_FamilyGated(t *testing.T) {
	body := []byte(`{"messages":[{"role":"assistant","content":"x"}]}`)
	assert.Equal(t, string(body), string(NormalizeLeadingMessages(body, "openai")))

	out := NormalizeLeadingMessages(body, "deepseek")
	assert.Len(t, gjson.GetBytes(out, "messages").Array(), 2)
}

func TestSanitizeToolIDs_ConsistentMapping(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"assistant","tool_calls":[{"id":"call:with:colons","type":"function"}]},
		{"role":"tool","tool_call_id":"call:with:colons","content":"result"}
	]}`)

	out := SanitizeToolIDs(body)
	callID := gjson.GetBytes(out, "messages.0.tool_calls.0.id").String()
	resultID := gjson.GetBytes(out, "messages.1.tool_call_id").String()

	assert.Equal(t, "call_with_colons", callID)
	assert.Equal(t, callID, resultID, "producer and consumer ids must keep matching")
}

func TestSanitizeToolIDs_CleanIDsUntouched(t *testing.T) {
	body := []byte(`{"messages":[{"role":"assistant","tool_calls":[{"id":"call_ok-1"}]}]}`)
	assert.Equal(t, string(body), string(SanitizeToolIDs(body)))
}

func TestSanitizeToolIDs_CollisionGetsSuffix(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"assistant","tool_calls":[{"id":"call_a_b"},{"id":"call:a:b"}]},
		{"role":"tool","tool_call_id":"call:a:b","content":"r"}
	]}`)

	out := SanitizeToolIDs(body)
	first := gjson.GetBytes(out, "messages.0.tool_calls.0.id").String()
	second := gjson.GetBytes(out, "messages.0.tool_calls.1.id").String()
	resultID := gjson.GetBytes(out, "messages.1.tool_call_id").String()

	assert.Equal(t, "call_a_b", first)
	assert.Equal(t, "call_a_b_2", second, "sanitized id must not steal an existing clean id")
	assert.Equal(t, second, resultID)
}

func TestSanitizeToolIDs_AnthropicContentBlocks(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"tool|1","name":"search"}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"tool|1","content":"ok"}]}
	]}`)

	out := SanitizeToolIDs(body)
	useID := gjson.GetBytes(out, "messages.0.content.0.id").String()
	resultID := gjson.GetBytes(out, "messages.1.content.0.tool_use_id").String()

	assert.Equal(t, "tool_1", useID)
	assert.Equal(t, useID, resultID)
}

func TestSanitizeToolIDs_PreservesUnknownFields(t *testing.T) {
	body := []byte(`{"messages":[{"role":"assistant","tool_calls":[{"id":"a:b"}]}],"custom_field":{"nested":true}}`)
	out := SanitizeToolIDs(body)
	assert.True(t, gjson.GetBytes(out, "custom_field.nested").Bool())
}

func TestExtractPromptParts(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"system","content":"first system"},
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"answer"},
		{"role":"user","content":"second question"}
	]}`)

	lastUser, firstSystem, allText := extractPromptParts(body)
	assert.Equal(t, "second question", lastUser)
	assert.Equal(t, "first system", firstSystem)
	assert.Contains(t, allText, "first question")
	assert.Contains(t, allText, "answer")
}

func TestExtractPromptParts_MultiPartContent(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}
	]}`)

	lastUser, _, _ := extractPromptParts(body)
	assert.Equal(t, "part one part two", lastUser)
}
