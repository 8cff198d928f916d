// Package testrun abstracts the test capability invoked after execution
// and normalizes its outcome into per-test results.
package testrun

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elisa-build/elisa/pkg/models"
)

// Runner is the test capability consumed by the pipeline.
type Runner interface {
	// Run executes the workspace's tests. A nil report with a nil error
	// means no test suite was found.
	Run(ctx context.Context, workspaceDir string) (*models.TestReport, error)
}

// runTimeout bounds one suite run.
const runTimeout = 120 * time.Second

// PytestRunner runs the workspace's Python test suite and parses the
// outcome line.
type PytestRunner struct{}

// NewPytestRunner returns the pytest-backed runner.
func NewPytestRunner() *PytestRunner {
	return &PytestRunner{}
}

var testFileRe = regexp.MustCompile(`^(test_.*|.*_test)\.py$`)

// resultLineRe matches pytest's verbose per-test lines.
var resultLineRe = regexp.MustCompile(`^(\S+::\S+)\s+(PASSED|FAILED|ERROR)`)

// coverageTotalRe matches the TOTAL row of pytest-cov's terminal report:
// "TOTAL  40  5  88%".
var coverageTotalRe = regexp.MustCompile(`^TOTAL\s+\d+\s+\d+\s+(\d+(?:\.\d+)?)%`)

// Run looks for Python test files under tests/ and runs pytest over them.
func (r *PytestRunner) Run(ctx context.Context, workspaceDir string) (*models.TestReport, error) {
	if !hasPythonTests(workspaceDir) {
		return nil, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	args := []string{"-m", "pytest", "tests", "-v", "--tb=line"}
	if coverageAvailable(runCtx, workspaceDir) {
		args = append(args, "--cov=src", "--cov-report=term")
	}
	cmd := exec.CommandContext(runCtx, "python3", args...)
	cmd.Dir = workspaceDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	report := parsePytestOutput(out.String())
	if report.Total == 0 && runErr != nil {
		// The suite never ran (import error, missing pytest); surface the
		// tail of the output as a single failing result.
		return &models.TestReport{
			Tests: []models.TestResult{{
				Name:    "test suite",
				Passed:  false,
				Details: tail(out.String(), 2000),
			}},
			Failed: 1,
			Total:  1,
		}, nil
	}
	return report, nil
}

func parsePytestOutput(output string) *models.TestReport {
	report := &models.TestReport{}
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if c := coverageTotalRe.FindStringSubmatch(trimmed); c != nil {
			if pct, err := strconv.ParseFloat(c[1], 64); err == nil {
				report.CoveragePct = &pct
				report.CoverageDetails = trimmed
			}
			continue
		}
		m := resultLineRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		passed := m[2] == "PASSED"
		report.Tests = append(report.Tests, models.TestResult{
			Name:    m[1],
			Passed:  passed,
			Details: m[2],
		})
		if passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	report.Total = report.Passed + report.Failed
	return report
}

// coverageAvailable reports whether pytest-cov is importable, so the --cov
// flags do not abort the run on workspaces without it installed.
func coverageAvailable(ctx context.Context, workspaceDir string) bool {
	cmd := exec.CommandContext(ctx, "python3", "-c", "import pytest_cov")
	cmd.Dir = workspaceDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	return cmd.Run() == nil
}

func hasPythonTests(workspaceDir string) bool {
	entries, err := os.ReadDir(filepath.Join(workspaceDir, "tests"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && testFileRe.MatchString(e.Name()) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// StaticRunner returns a fixed report. Test double for the pipeline.
type StaticRunner struct {
	Report *models.TestReport
	Err    error
}

// Run returns the configured report.
func (r *StaticRunner) Run(context.Context, string) (*models.TestReport, error) {
	return r.Report, r.Err
}

var _ Runner = (*PytestRunner)(nil)
var _ Runner = (*StaticRunner)(nil)

// Summary renders a one-line description of a report.
func Summary(report *models.TestReport) string {
	if report == nil || report.Total == 0 {
		return "No tests ran"
	}
	s := fmt.Sprintf("%d/%d tests passed", report.Passed, report.Total)
	if report.CoveragePct != nil {
		s += fmt.Sprintf(" (coverage %.0f%%)", *report.CoveragePct)
	}
	return s
}
