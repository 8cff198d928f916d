package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// blockedPatterns reject commands that reach the network, write to remote
// version control, install packages, or leak the environment. Matching is
// on word boundaries so e.g. "curly" is not blocked.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|[\s;|&])curl(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])wget(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])ssh(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])scp(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])git\s+push(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])git\s+remote(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])pip3?\s+install(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])npm\s+install(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])env(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])printenv(\s|$)`),
	regexp.MustCompile(`(^|[\s;|&])export(\s|$)`),
	regexp.MustCompile(`\$\{[A-Za-z_]`),
	regexp.MustCompile(`\$[A-Za-z_]`),
}

// bashOutputLimit caps captured output so a noisy command cannot flood
// the conversation.
const bashOutputLimit = 50_000

func runBash(ctx context.Context, s *Sandbox, args map[string]any) (string, error) {
	command, err := argString(args, "command")
	if err != nil {
		return "", err
	}
	for _, re := range blockedPatterns {
		if re.MatchString(command) {
			return "", fmt.Errorf("Command blocked by security policy: %s", firstLine(command))
		}
	}

	timeout := s.bashTimeout
	if sec := optInt(args, "timeout"); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = s.ws.Root()
	// Only PATH crosses into the child; everything else in the server's
	// environment stays invisible to generated code.
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	text := out.String()
	if len(text) > bashOutputLimit {
		text = text[:bashOutputLimit] + "\n[Output truncated]"
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("Command timed out after %s\n%s", timeout, text)
	}
	if runErr != nil {
		return "", fmt.Errorf("Command failed: %v\n%s", runErr, text)
	}
	if strings.TrimSpace(text) == "" {
		return "(no output)", nil
	}
	return text, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
