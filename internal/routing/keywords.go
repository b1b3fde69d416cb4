// Keyword groups for the prompt scorer.
//
// The nine groups below are the configurable surface (routing.scoring.*);
// overriding a group replaces its built-in set. The remaining dimensions
// (questions, constraints, imperatives, references, negations) are built-in
// heuristics and not configurable.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Configurable keyword group names.
const (
	GroupReasoning = "reasoning"
	GroupCode      = "code"
	GroupSimple    = "simple"
	GroupMultiStep = "multiStep"
	GroupTechnical = "technical"
	GroupCreative  = "creative"
	GroupDomain    = "domain"
	GroupAgentic   = "agentic"
	GroupOutput    = "output"
)

var builtinKeywordGroups = map[string][]string{
	GroupReasoning: {
		"prove", "proof", "theorem", "derive", "deduce", "step by step",
		"reason through", "chain of thought", "rigorous", "lemma",
		"induction", "contradiction", "formally",
	},
	GroupCode: {
		"function", "class", "struct", "compile", "refactor", "unit test",
		"stack trace", "segfault", "algorithm", "implement", "debug",
		"regex", "api endpoint", "```",
	},
	GroupSimple: {
		"what is", "what's", "define", "definition of", "who is", "when was",
		"capital of", "meaning of", "translate", "how do you say",
	},
	GroupMultiStep: {
		"first", "then", "finally", "after that", "next,", "step 1",
		"followed by", "subsequently", "in order",
	},
	GroupTechnical: {
		"kubernetes", "docker", "database", "latency", "throughput",
		"microservice", "load balancer", "cache", "queue", "deployment",
		"terraform", "tls", "oauth", "grpc",
	},
	GroupCreative: {
		"story", "poem", "haiku", "lyrics", "fiction", "character",
		"creative", "imagine a world", "screenplay", "plot",
	},
	GroupDomain: {
		"quantum", "genomics", "cryptography", "topology", "bayesian",
		"stochastic", "epidemiology", "compiler theory", "category theory",
		"homomorphic",
	},
	GroupAgentic: {
		"run", "execute", "deploy", "install", "fix", "create file",
		"delete", "rename", "commit", "push", "open a pr", "apply the patch",
		"update the config",
	},
	GroupOutput: {
		"json", "yaml", "csv", "xml", "markdown table", "schema",
		"structured output", "respond only with",
	},
}

// keywordGroup is a compiled set of patterns for one group.
type keywordGroup struct {
	name     string
	patterns []*regexp.Regexp
}

// compileGroup builds word-boundary patterns for a keyword list.
// Multi-word and symbol-bearing entries fall back to substring matching
// since \b anchors misbehave around punctuation.
func compileGroup(name string, keywords []string) (*keywordGroup, error) {
	g := &keywordGroup{name: name}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		expr := regexp.QuoteMeta(kw)
		if isWordLike(kw) {
			expr = `\b` + expr + `\b`
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("group %s: bad keyword %q: %w", name, kw, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// isWordLike reports whether a keyword is safe to anchor with \b.
func isWordLike(kw string) bool {
	for _, r := range kw {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum && r != ' ' {
			return false
		}
	}
	return true
}

// count returns the number of matching patterns in text, capped at max.
func (g *keywordGroup) count(text string, max int) int {
	n := 0
	for _, re := range g.patterns {
		if re.MatchString(text) {
			n++
			if n >= max {
				break
			}
		}
	}
	return n
}

// compileGroups merges config overrides over the builtin sets.
// A group that fails to compile keeps its builtin set; the scorer must not
// fail on operator config (§error policy: classify errors degrade, never
// surface).
func compileGroups(overrides map[string][]string) map[string]*keywordGroup {
	groups := make(map[string]*keywordGroup, len(builtinKeywordGroups))
	for name, builtin := range builtinKeywordGroups {
		keywords := builtin
		if custom, ok := overrides[name]; ok && len(custom) > 0 {
			keywords = custom
		}
		g, err := compileGroup(name, keywords)
		if err != nil {
			log.Warn().Err(err).Str("group", name).Msg("scorer: keyword override rejected, using builtin set")
			g, err = compileGroup(name, builtin)
			if err != nil {
				// Builtin sets are static and covered by tests.
				panic(err)
			}
		}
		groups[name] = g
	}
	return groups
}
