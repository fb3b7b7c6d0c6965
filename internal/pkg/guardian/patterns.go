package guardian

import (
	"fmt"
	"regexp"
)

const (
	CategoryDestructive   = "destructive"
	CategoryInjection     = "injection"
	CategoryTraversal     = "traversal"
	CategoryCodeExecution = "code-execution"
)

const (
	PatternSetV1 = "v1"
	PatternSetV2 = "v2"
)

// Pattern is one compiled rule of a pattern set.
type Pattern struct {
	Category string
	Source   string
	re       *regexp.Regexp
}

// Label is the "category:pattern" form reported in verdicts.
func (p Pattern) Label() string {
	return p.Category + ":" + p.Source
}

// PatternSet is an immutable, versioned list of rules.
type PatternSet struct {
	Version  string
	patterns []Pattern
}

// Patterns returns a copy of the rules in the set.
func (s *PatternSet) Patterns() []Pattern {
	out := make([]Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Match returns the labels of every rule matching value.
func (s *PatternSet) Match(value string) []string {
	var hits []string
	for _, p := range s.patterns {
		if p.re.MatchString(value) {
			hits = append(hits, p.Label())
		}
	}
	return hits
}

var destructivePatterns = []string{
	`rm\s+-rf`,
	`delete\s+from`,
	`drop\s+table`,
	`drop\s+database`,
	`truncate\s+table`,
	`\bformat\s+[a-z]:`,
	`mkfs\.`,
	`dd\s+if=`,
	`>\s*/dev/sd`,
}

var injectionPatterns = []string{
	`'\s*or\s+'?1'?\s*=\s*'?1`,
	`union\s+select`,
	`;\s*shutdown\b`,
	`--\s*$`,
	`<script\b`,
	`javascript:`,
	`\$\{jndi:`,
}

var traversalPatterns = []string{
	`\.\./`,
	`\.\.\\`,
	`%2e%2e%2f`,
	`/etc/passwd`,
}

var codeExecutionPatterns = []string{
	`\beval\s*\(`,
	`\bexec\s*\(`,
	`__import__`,
	`os\.system`,
	`subprocess\.`,
	`\$\([^)]*\)`,
	"`[^`]+`",
	`\|\s*(sh|bash)\b`,
}

// NewPatternSet compiles the rules of a known version.
func NewPatternSet(version string) (*PatternSet, error) {
	groups := map[string][]string{CategoryDestructive: destructivePatterns}
	order := []string{CategoryDestructive}

	switch version {
	case PatternSetV1:
	case PatternSetV2:
		groups[CategoryInjection] = injectionPatterns
		groups[CategoryTraversal] = traversalPatterns
		groups[CategoryCodeExecution] = codeExecutionPatterns
		order = append(order, CategoryInjection, CategoryTraversal, CategoryCodeExecution)
	default:
		return nil, fmt.Errorf("unknown guardian pattern set version %q", version)
	}

	set := &PatternSet{Version: version}
	for _, category := range order {
		for _, src := range groups[category] {
			re, err := regexp.Compile(`(?i)` + src)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", category, src, err)
			}
			set.patterns = append(set.patterns, Pattern{Category: category, Source: src, re: re})
		}
	}
	return set, nil
}
