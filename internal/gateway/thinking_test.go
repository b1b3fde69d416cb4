package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain content untouched", "hello world", "hello world"},
		{"think block removed", "<think>internal</think>answer", "answer"},
		{"thinking block removed", "<thinking>steps...</thinking>final", "final"},
		{"thought block removed", "<thought>hmm</thought>yes", "yes"},
		{"antthinking block removed", "<antthinking>x</antthinking>ok", "ok"},
		{"case insensitive", "<THINK>loud</THINK>quiet", "quiet"},
		{"multiline block", "<think>line one\nline two</think>\n\nresult", "result"},
		{"standalone open tag", "<think>dangling text", "dangling text"},
		{"standalone close tag", "leftover</thinking> text", "leftover text"},
		{"multiple blocks", "<think>a</think>keep<think>b</think>tail", "keeptail"},
		{"math comparison preserved", "x < y and y > z", "x < y and y > z"},
		{"fullwidth block", "<｜begin of thinking｜>internal<｜end of thinking｜>visible", "visible"},
		{"fullwidth stray token", "before<｜special token｜>after", "beforeafter"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripThinking(tt.in))
		})
	}
}
