package memory

import (
	"strings"

	"github.com/elisa-build/elisa/pkg/spec"
)

var keywordStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "are": true, "was": true, "will": true,
	"can": true, "has": true, "have": true, "not": true, "but": true,
	"all": true, "when": true, "then": true, "should": true, "into": true,
	"make": true, "build": true, "create": true, "add": true, "use": true,
	"simple": true, "app": true, "project": true,
}

// Keywords extracts the deduplicated keyword set from the spec's goal and
// requirement descriptions.
func Keywords(ps *spec.ProjectSpec) []string {
	if ps == nil {
		return nil
	}
	var parts []string
	parts = append(parts, ps.Goal)
	for _, r := range ps.Requirements {
		parts = append(parts, r.Description)
	}

	seen := make(map[string]bool)
	var out []string
	for _, part := range parts {
		for _, word := range splitWords(part) {
			if len(word) < 3 || keywordStopwords[word] || seen[word] {
				continue
			}
			seen[word] = true
			out = append(out, word)
		}
	}
	return out
}

// SpecPatterns lifts skill and rule patterns out of the spec's open
// document, tolerating missing or malformed sections.
func SpecPatterns(ps *spec.ProjectSpec) []Pattern {
	if ps == nil {
		return nil
	}
	var out []Pattern
	for _, key := range []string{"skills", "rules"} {
		items, ok := ps.Raw()[key].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			p := Pattern{}
			if v, ok := m["name"].(string); ok {
				p.Name = v
			}
			if v, ok := m["prompt"].(string); ok {
				p.Prompt = v
			}
			if p.Name != "" || p.Prompt != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func splitWords(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}
