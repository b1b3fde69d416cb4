// Prompt scorer: weighted keyword dimensions -> tier + confidence.
//
// DESIGN: A pure function over (prompt, system prompt, token estimate).
// Fifteen dimensions contribute weight * magnitude to a score in [0,1];
// logistic calibration turns the score into a confidence; configured
// boundaries map score to tier. Sub-millisecond, no I/O, no hidden state.
package routing

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/config"
)

// Dimension weights. The positive weights sum to under 1 so the raw score
// stays in [0,1] before clamping.
const (
	weightReasoning  = 0.18
	weightCode       = 0.15
	weightMultiStep  = 0.12
	weightAgentic    = 0.10
	weightTechnical  = 0.10
	weightTokenCount = 0.08
	weightCreative   = 0.05 // lowers
	weightQuestion   = 0.05
	weightConstraint = 0.04
	weightImperative = 0.03
	weightOutput     = 0.03
	weightSimple     = 0.02 // lowers
	weightDomain     = 0.02
	weightReference  = 0.02
	weightNegation   = 0.01
)

// Tier score boundaries.
const (
	boundarySimple  = 0.30
	boundaryMedium  = 0.60
	boundaryComplex = 0.80
)

// Token-count shape: short prompts pull the score down, long ones push up.
const (
	shortPromptTokens = 50
	longPromptTokens  = 500
)

// Built-in heuristic patterns for the non-configurable dimensions.
var (
	constraintPattern = regexp.MustCompile(`(?i)\b(at most|at least|no more than|no fewer than|exactly \d+|within \d+|under \d+|o\([a-z0-9^ *+]+\)|time complexity|space complexity)\b`)
	imperativePattern = regexp.MustCompile(`(?i)\b(write|list|explain|summarize|describe|generate|compare|analyze|give|show|make|build)\b`)
	referencePattern  = regexp.MustCompile(`(?i)\b(the docs|the documentation|as mentioned|see above|the above|the previous|the following|earlier you said)\b`)
	negationPattern   = regexp.MustCompile(`(?i)\b(not|without|except|unless|never|don't|do not|avoid)\b`)
	structuredOutput  = regexp.MustCompile(`(?i)(respond (only )?(in|with) (valid )?(json|yaml|xml)|output (json|yaml|xml)|json schema|structured (output|format)|must be valid (json|yaml))`)
)

// Scorer classifies prompts. Safe for concurrent use; all state is built at
// construction.
type Scorer struct {
	classifier config.ClassifierConfig
	overrides  config.OverridesConfig
	groups     map[string]*keywordGroup
}

// NewScorer compiles the keyword groups and calibration settings.
func NewScorer(cfg config.RoutingConfig) *Scorer {
	return &Scorer{
		classifier: cfg.Classifier,
		overrides:  cfg.Overrides,
		groups:     compileGroups(cfg.Scoring),
	}
}

// Classify scores one prompt. It never fails: any internal panic degrades to
// MEDIUM at confidence zero.
func (s *Scorer) Classify(prompt, systemPrompt string, approxTokens int) (result ScoringResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scorer: classification panic, degrading to MEDIUM")
			result = ScoringResult{
				Tier:      TierMedium,
				Reasoning: "internal classifier error",
				Signals:   []string{"classifier_error"},
			}
		}
	}()
	return s.classify(prompt, systemPrompt, approxTokens)
}

func (s *Scorer) classify(prompt, systemPrompt string, approxTokens int) ScoringResult {
	if strings.TrimSpace(prompt) == "" {
		return ScoringResult{
			Confidence: 1.0,
			Tier:       TierSimple,
			Reasoning:  "empty prompt",
			Signals:    []string{"empty_prompt"},
		}
	}

	// Keyword scanning is bounded on huge prompts; token estimation already
	// accounted for the full length.
	scanText := prompt
	if len(scanText) > config.DefaultMaxPromptScanBytes {
		scanText = scanText[:config.DefaultMaxPromptScanBytes]
	}
	lower := strings.ToLower(scanText)
	lowerSystem := strings.ToLower(systemPrompt)

	signals := map[string]int{}
	count := func(group string) int {
		n := s.groups[group].count(lower, config.MaxDimensionMatches)
		if n > 0 {
			signals[group] = n
		}
		return n
	}

	reasoningMatches := count(GroupReasoning)
	codeMatches := count(GroupCode)
	multiStepMatches := count(GroupMultiStep)
	agenticMatches := count(GroupAgentic)
	technicalMatches := count(GroupTechnical)
	creativeMatches := count(GroupCreative)
	outputMatches := count(GroupOutput)
	simpleMatches := count(GroupSimple)
	domainMatches := count(GroupDomain)

	score := 0.0
	score += weightReasoning * magnitude(reasoningMatches)
	score += weightCode * magnitude(codeMatches)
	score += weightMultiStep * magnitude(multiStepMatches)
	score += weightAgentic * magnitude(agenticMatches)
	score += weightTechnical * magnitude(technicalMatches)
	score += weightTokenCount * tokenMagnitude(approxTokens)
	score -= weightCreative * magnitude(creativeMatches)
	score += weightQuestion * magnitude(cappedCount(strings.Count(lower, "?")))
	score += weightConstraint * patternMagnitude(constraintPattern, lower, signals, "constraints")
	score += weightImperative * patternMagnitude(imperativePattern, lower, signals, "imperatives")
	score += weightOutput * magnitude(outputMatches)
	score -= weightSimple * magnitude(simpleMatches)
	score += weightDomain * magnitude(domainMatches)
	score += weightReference * patternMagnitude(referencePattern, lower, signals, "references")
	score += weightNegation * patternMagnitude(negationPattern, lower, signals, "negations")
	score = clamp01(score)

	confidence := logistic(s.classifier.CalibrationK, s.classifier.CalibrationMidpoint, score)

	result := ScoringResult{
		Score:         score,
		Confidence:    confidence,
		Signals:       signalNames(signals),
		PreferAgentic: agenticMatches >= 2,
	}

	switch {
	case reasoningMatches >= 2:
		// Strong reasoning signal short-circuits calibration.
		result.Tier = TierReasoning
		result.Confidence = math.Max(confidence, s.classifier.ReasoningConfidence)
		result.Reasoning = fmt.Sprintf("reasoning markers (%d matches)", reasoningMatches)
	case confidence < s.classifier.ConfidenceThreshold:
		result.Tier = ""
		result.Reasoning = fmt.Sprintf("ambiguous (confidence %.2f below %.2f)", confidence, s.classifier.ConfidenceThreshold)
	case score < boundarySimple:
		result.Tier = TierSimple
		result.Reasoning = fmt.Sprintf("score %.2f below simple boundary", score)
	case score < boundaryMedium:
		result.Tier = TierMedium
		result.Reasoning = fmt.Sprintf("score %.2f in medium band", score)
	case score < boundaryComplex:
		result.Tier = TierComplex
		result.Reasoning = fmt.Sprintf("score %.2f in complex band", score)
	default:
		result.Tier = TierReasoning
		result.Reasoning = fmt.Sprintf("score %.2f above reasoning boundary", score)
	}

	// Post-assignment overrides, in order.
	if approxTokens > s.overrides.LargeContextTokens {
		result.Tier = TierComplex
		result.Reasoning = fmt.Sprintf("large context (%d tokens)", approxTokens)
		result.Signals = append(result.Signals, "large_context")
	}
	if s.overrides.StructuredOutputEnabled() && structuredOutput.MatchString(lowerSystem) {
		if result.Tier != "" {
			result.Tier = result.Tier.AtLeast(TierMedium)
		}
		result.Signals = append(result.Signals, "structured_output")
	}
	if result.PreferAgentic {
		result.Signals = append(result.Signals, "agentic_preference")
	}

	return result
}

// magnitude maps a capped match count to [0,1].
func magnitude(matches int) float64 {
	return float64(cappedCount(matches)) / float64(config.MaxDimensionMatches)
}

func cappedCount(n int) int {
	if n > config.MaxDimensionMatches {
		return config.MaxDimensionMatches
	}
	if n < 0 {
		return 0
	}
	return n
}

// patternMagnitude counts pattern hits, records the signal, returns magnitude.
func patternMagnitude(re *regexp.Regexp, text string, signals map[string]int, name string) float64 {
	matches := len(re.FindAllStringIndex(text, config.MaxDimensionMatches))
	if matches > 0 {
		signals[name] = matches
	}
	return magnitude(matches)
}

// tokenMagnitude lowers the score for short prompts and raises it for long
// ones, scaling toward 1 as the prompt approaches very large sizes.
func tokenMagnitude(tokens int) float64 {
	switch {
	case tokens < shortPromptTokens:
		return -1
	case tokens <= longPromptTokens:
		return 0
	default:
		return math.Min(1, float64(tokens)/4000)
	}
}

func logistic(k, midpoint, score float64) float64 {
	return 1 / (1 + math.Exp(-k*(score-midpoint)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// signalNames flattens the signal map to a sorted name list.
func signalNames(signals map[string]int) []string {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
