package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_AutoEntryPresent(t *testing.T) {
	c := Builtin()

	auto, ok := c.Get(AutoModelID)
	require.True(t, ok)
	assert.True(t, auto.IsAuto())
	assert.Zero(t, auto.InputPerMTok)
	assert.Zero(t, auto.OutputPerMTok)
}

func TestBuiltin_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Builtin().All() {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestBuiltin_ListableExcludesAuto(t *testing.T) {
	for _, m := range Builtin().Listable() {
		assert.NotEqual(t, AutoModelID, m.ID)
	}
	assert.Equal(t, Builtin().Len()-1, len(Builtin().Listable()))
}

func TestNew_RejectsDuplicateID(t *testing.T) {
	_, err := New([]Model{{ID: "a"}, {ID: "a"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNew_RejectsDanglingAlias(t *testing.T) {
	_, err := New([]Model{{ID: "a"}}, map[string]string{"short": "missing"})
	require.Error(t, err)
}

func TestResolveAlias(t *testing.T) {
	c := Builtin()

	tests := []struct {
		in   string
		want string
	}{
		{"sonnet", "anthropic/claude-sonnet-4"},
		{"  Sonnet  ", "anthropic/claude-sonnet-4"},
		{"HAIKU", "anthropic/claude-3-5-haiku"},
		{"openai/gpt-4o", "openai/gpt-4o"},
		{"some-unknown-model", "some-unknown-model"},
		{"Some-Unknown-Model", "some-unknown-model"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.ResolveAlias(tt.in), "input %q", tt.in)
	}
}

func TestResolveAlias_Idempotent(t *testing.T) {
	c := Builtin()

	inputs := []string{"sonnet", "gpt-4o", "openai/gpt-4o", "bogus", "  FLASH "}
	for _, m := range c.All() {
		inputs = append(inputs, m.ID, strings.ToUpper(m.ID))
	}
	for _, in := range inputs {
		once := c.ResolveAlias(in)
		assert.Equal(t, once, c.ResolveAlias(once), "not idempotent for %q", in)
	}
}

func TestEstimateCost(t *testing.T) {
	m := Model{InputPerMTok: 2.5, OutputPerMTok: 10}
	assert.InDelta(t, 0.0025+0.01, EstimateCost(m, 1000, 1000), 1e-9)
	assert.Zero(t, EstimateCost(Model{}, 5000, 5000))
}
