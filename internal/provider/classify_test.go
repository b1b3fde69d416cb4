package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      string
		retryable bool
	}{
		{"429 is rate", 429, `{}`, KindRate, true},
		{"500 is capacity", 500, `{}`, KindCapacity, true},
		{"503 is capacity", 503, `{}`, KindCapacity, true},
		{"402 is billing", 402, `{}`, KindBilling, true},
		{"401 is auth", 401, `{}`, KindAuth, false},
		{"403 is auth", 403, `{}`, KindAuth, false},
		{"plain 400 is other", 400, `{"error":"invalid messages"}`, KindOther, false},
		{"rate limit body", 400, `{"error":"rate limit exceeded"}`, KindRate, true},
		{"billing body", 400, `{"error":"billing hard limit reached"}`, KindBilling, true},
		{"quota body", 400, `{"error":{"code":"insufficient_quota"}}`, KindBilling, true},
		{"overloaded body", 400, `{"error":"Overloaded"}`, KindCapacity, true},
		{"model unavailable body", 404, `{"error":"model unavailable"}`, KindCapacity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryable := Classify(tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestNewNetworkError(t *testing.T) {
	err := NewNetworkError("p1", assert.AnError)
	assert.Equal(t, KindNetwork, err.Kind)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "p1")
}
