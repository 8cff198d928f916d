package judge

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/elisa-build/elisa/pkg/models"
)

// Corpus bounds: at most this many source files and this many total bytes
// feed the keyword set.
const (
	corpusMaxFiles = 80
	corpusMaxBytes = 180 * 1024
)

// corpusExtensions is the allowlist of file types scanned from the
// workspace.
var corpusExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".go": true, ".html": true, ".css": true, ".md": true, ".json": true,
	".ino": true, ".cpp": true, ".c": true, ".h": true, ".yaml": true,
	".yml": true, ".txt": true,
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "are": true, "was": true, "will": true,
	"can": true, "has": true, "have": true, "had": true, "not": true,
	"but": true, "all": true, "when": true, "then": true, "should": true,
	"its": true, "into": true, "also": true, "each": true, "they": true,
	"them": true, "your": true, "you": true, "out": true, "use": true,
	"using": true, "via": true, "any": true, "than": true, "there": true,
	"must": true, "may": true, "more": true, "some": true, "one": true,
	"two": true, "new": true, "like": true, "after": true, "before": true,
}

// Corpus is the deduplicated keyword set the traceability checks match
// against.
type Corpus struct {
	words map[string]bool
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{words: make(map[string]bool)}
}

// AddText tokenizes text into the corpus.
func (c *Corpus) AddText(text string) {
	for _, w := range tokenize(text) {
		c.words[w] = true
	}
}

// AddTasks folds task names, descriptions, and acceptance criteria in.
func (c *Corpus) AddTasks(tasks []*models.Task) {
	for _, t := range tasks {
		c.AddText(t.Name)
		c.AddText(t.Description)
		for _, ac := range t.AcceptanceCriteria {
			c.AddText(ac)
		}
	}
}

// AddCommits folds commit messages in.
func (c *Corpus) AddCommits(commits []models.Commit) {
	for _, cm := range commits {
		c.AddText(cm.Message)
	}
}

// AddTests folds test names and details in.
func (c *Corpus) AddTests(report *models.TestReport) {
	if report == nil {
		return
	}
	for _, t := range report.Tests {
		c.AddText(t.Name)
		c.AddText(t.Details)
	}
}

// AddWorkspace scans source files under root, bounded by the file count
// and byte budgets, skipping VCS and metadata trees.
func (c *Corpus) AddWorkspace(root string) {
	files, bytesRead := 0, 0
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".elisa") {
				return filepath.SkipDir
			}
			return nil
		}
		if files >= corpusMaxFiles || bytesRead >= corpusMaxBytes {
			return filepath.SkipAll
		}
		if !corpusExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > int64(corpusMaxBytes-bytesRead) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		files++
		bytesRead += len(data)
		c.AddText(string(data))
		return nil
	})
}

// Coverage is the fraction of an item's keywords present in the corpus.
func (c *Corpus) Coverage(item string) float64 {
	words := tokenize(item)
	if len(words) == 0 {
		return 1
	}
	seen := make(map[string]bool, len(words))
	hits, total := 0, 0
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		total++
		if c.words[w] {
			hits++
		}
	}
	return float64(hits) / float64(total)
}

// AverageCoverage averages Coverage over the items.
func (c *Corpus) AverageCoverage(items []string) float64 {
	if len(items) == 0 {
		return 1
	}
	sum := 0.0
	for _, item := range items {
		sum += c.Coverage(item)
	}
	return sum / float64(len(items))
}
