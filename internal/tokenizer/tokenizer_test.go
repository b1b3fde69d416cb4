package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxByLength(t *testing.T) {
	assert.Equal(t, 0, ApproxByLength(0))
	assert.Equal(t, 0, ApproxByLength(-5))
	assert.Equal(t, 1, ApproxByLength(1))
	assert.Equal(t, 1, ApproxByLength(4))
	assert.Equal(t, 25, ApproxByLength(100))
}

func TestEstimate_EmptyIsZero(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Estimate(""))
}

func TestEstimate_Monotonic(t *testing.T) {
	e := NewEstimator()
	short := e.Estimate("hello world")
	long := e.Estimate(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short)
}

func TestEstimate_Deterministic(t *testing.T) {
	e := NewEstimator()
	text := "Prove that sqrt(2) is irrational, step by step."
	assert.Equal(t, e.Estimate(text), e.Estimate(text))
}

func TestEstimateAll(t *testing.T) {
	e := NewEstimator()
	a, b := "first message", "second message"
	assert.Equal(t, e.Estimate(a)+e.Estimate(b), e.EstimateAll(a, b))
}
