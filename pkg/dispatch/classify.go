package dispatch

import "strings"

// Stable failure markers the executor keys its retry strategy on.
const (
	MarkerContextWindow = "CONTEXT_WINDOW_EXCEEDED:"
	MarkerOutputLimit   = "OUTPUT_LIMIT_REACHED:"
)

var contextWindowPatterns = []string{
	"context_length_exceeded",
	"maximum context length",
	"too many tokens",
	"prompt too long",
	"prompt is too long",
	"input is too long",
}

var outputLimitPatterns = []string{
	"max_tokens",
	"max_completion_tokens",
	"could not finish the message",
	"completion length",
	"output limit",
}

// classifyError maps a provider error to a marker-prefixed summary so the
// retry ladder can pick the right remediation.
func classifyError(message, code string) string {
	probe := strings.ToLower(message + " " + code)
	for _, p := range contextWindowPatterns {
		if strings.Contains(probe, p) {
			return MarkerContextWindow + " " + message
		}
	}
	for _, p := range outputLimitPatterns {
		if strings.Contains(probe, p) {
			return MarkerOutputLimit + " " + message
		}
	}
	return message
}

// IsContextWindowError reports whether a failure summary carries the
// context-window marker.
func IsContextWindowError(summary string) bool {
	return strings.HasPrefix(summary, MarkerContextWindow)
}

// IsOutputLimitError reports whether a failure summary carries the
// output-limit marker.
func IsOutputLimitError(summary string) bool {
	return strings.HasPrefix(summary, MarkerOutputLimit)
}
