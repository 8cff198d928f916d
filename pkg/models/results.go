package models

// TestResult is a single normalized test outcome.
type TestResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// TestReport aggregates a test-phase run.
type TestReport struct {
	Tests           []TestResult `json:"tests"`
	Passed          int          `json:"passed"`
	Failed          int          `json:"failed"`
	Total           int          `json:"total"`
	CoveragePct     *float64     `json:"coverage_pct,omitempty"`
	CoverageDetails string       `json:"coverage_details,omitempty"`
}

// JudgeCheck is one weighted acceptance check.
type JudgeCheck struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Passed   bool   `json:"passed"`
	Details  string `json:"details,omitempty"`
}

// JudgeResult is the objective acceptance verdict for a completed build.
// Score is in [0,100]. Passed requires score >= Threshold and no blocking
// issues. Overridden is set when a human approved the judge gate.
type JudgeResult struct {
	Score          int          `json:"score"`
	Threshold      int          `json:"threshold"`
	Passed         bool         `json:"passed"`
	RawPassed      bool         `json:"raw_passed"`
	Overridden     bool         `json:"overridden,omitempty"`
	Checks         []JudgeCheck `json:"checks"`
	BlockingIssues []string     `json:"blocking_issues,omitempty"`
}

// TokenSnapshot is a point-in-time copy of the session token counters.
type TokenSnapshot struct {
	InputTokens       int     `json:"input_tokens"`
	OutputTokens      int     `json:"output_tokens"`
	CachedInputTokens int     `json:"cached_input_tokens,omitempty"`
	ReasoningTokens   int     `json:"reasoning_tokens,omitempty"`
	TotalTokens       int     `json:"total_tokens"`
	CostUSD           float64 `json:"cost_usd"`
}
