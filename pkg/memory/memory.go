// Package memory persists outcomes of prior builds and feeds planning
// with similar-run context and reusable pattern suggestions.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elisa-build/elisa/pkg/spec"
)

// storeVersion is the on-disk document version.
const storeVersion = 1

// DefaultMaxRecords caps the store FIFO.
const DefaultMaxRecords = 200

// Similarity weights and cutoffs.
const (
	weightKeywords   = 0.6
	weightSameType   = 0.25
	weightSameDeploy = 0.15
	weightSuccess    = 0.05
	plannerMinScore  = 0.2
	plannerLimit     = 3
	patternsMinScore = 0.18
	patternsLimit    = 4
)

// Pattern is a named prompt fragment (skill or rule) carried between runs.
type Pattern struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Outcome aggregates how a run ended.
type Outcome struct {
	TasksTotal      int      `json:"tasks_total"`
	TasksDone       int      `json:"tasks_done"`
	TasksFailed     int      `json:"tasks_failed"`
	TestsPassed     int      `json:"tests_passed"`
	TestsFailed     int      `json:"tests_failed"`
	CoveragePct     *float64 `json:"coverage_pct,omitempty"`
	TokensTotal     int      `json:"tokens_total"`
	CostUSD         float64  `json:"cost_usd"`
	JudgeScore      int      `json:"judge_score"`
	JudgeOverridden bool     `json:"judge_overridden"`
	Success         bool     `json:"success"`
}

// Record is one remembered run.
type Record struct {
	SessionID        string    `json:"session_id"`
	CreatedAt        time.Time `json:"created_at"`
	Goal             string    `json:"goal"`
	NuggetType       string    `json:"nugget_type"`
	DeployTarget     string    `json:"deploy_target"`
	Keywords         []string  `json:"keywords"`
	SkillsUsed       []Pattern `json:"skills_used,omitempty"`
	RulesUsed        []Pattern `json:"rules_used,omitempty"`
	CommitHighlights []string  `json:"commit_highlights,omitempty"`
	Outcome          Outcome   `json:"outcome"`
}

type document struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store is the file-backed build memory. All operations are
// read-modify-write under a mutex; persistence is atomic.
type Store struct {
	path       string
	maxRecords int

	mu sync.Mutex
}

// NewStore creates a store over the given file path. The file is created
// on first write.
func NewStore(path string) *Store {
	return &Store{path: path, maxRecords: DefaultMaxRecords}
}

// RecordRun appends a record, replacing any earlier record with the same
// session id, and truncates to the cap keeping the newest entries.
func (s *Store) RecordRun(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	kept := doc.Records[:0]
	for _, r := range doc.Records {
		if r.SessionID != rec.SessionID {
			kept = append(kept, r)
		}
	}
	doc.Records = append(kept, rec)
	if len(doc.Records) > s.maxRecords {
		doc.Records = doc.Records[len(doc.Records)-s.maxRecords:]
	}
	return s.save(doc)
}

// Records returns a copy of all stored records, oldest first.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return append([]Record(nil), doc.Records...), nil
}

// scored pairs a record with its similarity to the current spec.
type scored struct {
	rec   Record
	score float64
}

// PlannerContext returns a text block describing up to three similar
// prior runs, for injection into the planner prompt. Empty when nothing
// similar is stored.
func (s *Store) PlannerContext(ps *spec.ProjectSpec) (string, error) {
	matches, err := s.similar(ps, plannerMinScore, plannerLimit)
	if err != nil || len(matches) == 0 {
		return "", err
	}

	var b strings.Builder
	for _, m := range matches {
		o := m.rec.Outcome
		verdict := "succeeded"
		if !o.Success {
			verdict = "struggled"
		}
		fmt.Fprintf(&b, "- %q %s: %d/%d tasks done, judge %d",
			m.rec.Goal, verdict, o.TasksDone, o.TasksTotal, o.JudgeScore)
		if o.TasksFailed > 0 {
			fmt.Fprintf(&b, ", %d failed", o.TasksFailed)
		}
		if names := patternNames(m.rec.SkillsUsed); names != "" {
			fmt.Fprintf(&b, "; skills that helped: %s", names)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// SuggestReusablePatterns aggregates skills and rules from successful
// similar runs, weighted by similarity and outcome quality, excluding
// patterns the current spec already carries.
func (s *Store) SuggestReusablePatterns(ps *spec.ProjectSpec) ([]Pattern, error) {
	matches, err := s.similar(ps, patternsMinScore, 0)
	if err != nil || len(matches) == 0 {
		return nil, err
	}

	current := make(map[string]bool)
	for _, p := range SpecPatterns(ps) {
		current[patternKey(p)] = true
	}

	type weighted struct {
		pattern Pattern
		weight  float64
	}
	best := make(map[string]*weighted)
	for _, m := range matches {
		o := m.rec.Outcome
		if !o.Success {
			continue
		}
		completion := 0.0
		if o.TasksTotal > 0 {
			completion = float64(o.TasksDone) / float64(o.TasksTotal)
		}
		quality := float64(o.JudgeScore) / 100
		w := m.score * (0.35 + 0.65*completion) * (0.4 + 0.6*quality)
		for _, p := range append(append([]Pattern{}, m.rec.SkillsUsed...), m.rec.RulesUsed...) {
			key := patternKey(p)
			if key == "" || current[key] {
				continue
			}
			if prev, ok := best[key]; !ok || w > prev.weight {
				best[key] = &weighted{pattern: p, weight: w}
			}
		}
	}

	out := make([]*weighted, 0, len(best))
	for _, w := range best {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return out[i].pattern.Name < out[j].pattern.Name
	})
	if len(out) > patternsLimit {
		out = out[:patternsLimit]
	}
	patterns := make([]Pattern, len(out))
	for i, w := range out {
		patterns[i] = w.pattern
	}
	return patterns, nil
}

func (s *Store) similar(ps *spec.ProjectSpec, minScore float64, limit int) ([]scored, error) {
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	keywords := Keywords(ps)
	var matches []scored
	for _, rec := range doc.Records {
		sc := similarity(ps, keywords, rec)
		if sc >= minScore {
			matches = append(matches, scored{rec: rec, score: sc})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// similarity blends keyword overlap with type, deploy target, and prior
// success.
func similarity(ps *spec.ProjectSpec, keywords []string, rec Record) float64 {
	score := weightKeywords * jaccard(keywords, rec.Keywords)
	if ps.ProjectType != "" && ps.ProjectType == rec.NuggetType {
		score += weightSameType
	}
	if string(ps.Deployment.Target) == rec.DeployTarget {
		score += weightSameDeploy
	}
	if rec.Outcome.Success {
		score += weightSuccess
	}
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	inter, union := 0, len(setA)
	seenB := make(map[string]bool, len(b))
	for _, w := range b {
		if seenB[w] {
			continue
		}
		seenB[w] = true
		if setA[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &document{Version: storeVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: reading store: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("memory: parsing store: %w", err)
	}
	doc.Version = storeVersion
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: serializing store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: creating store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		return fmt.Errorf("memory: creating temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("memory: writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("memory: closing temp file: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("memory: replacing store: %w", err)
	}
	return nil
}

func patternKey(p Pattern) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	prompt := strings.ToLower(strings.TrimSpace(p.Prompt))
	if name == "" && prompt == "" {
		return ""
	}
	return name + "\x00" + prompt
}

func patternNames(ps []Pattern) string {
	var names []string
	for _, p := range ps {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}
