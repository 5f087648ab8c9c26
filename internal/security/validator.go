// Package security validates shell commands against per-worker policies
// before any process is spawned. Validation is a pure function over the
// command string and a Policy; the checks run in a fixed order and
// short-circuit on the first failure. Blacklist and dangerous-pattern checks
// are unconditional regardless of the policy mode.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict is the validation outcome. Reason and Suggestion are user-facing
// and surfaced verbatim on denial.
type Verdict struct {
	Safe       bool   `json:"safe"`
	Reason     string `json:"reason,omitempty"`
	Program    string `json:"program,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// blacklist maps unconditionally rejected programs to a remediation
// suggestion ("" when no safer alternative exists).
var blacklist = map[string]string{
	"rm":       "Use the filesystem delete tool instead of raw rm",
	"rmdir":    "Use the filesystem delete tool instead of rmdir",
	"sudo":     "Run the command without privilege escalation",
	"su":       "Run the command without switching users",
	"chmod":    "",
	"chown":    "",
	"chgrp":    "",
	"dd":       "",
	"fdisk":    "",
	"mkfs":     "",
	"shutdown": "",
	"reboot":   "",
	"halt":     "",
	"poweroff": "",
	"init":     "",
	"eval":     "Invoke the target program directly instead of eval",
	"exec":     "Invoke the target program directly instead of exec",
	"source":   "",
	"kill":     "",
	"killall":  "",
	"pkill":    "",
}

// whitelist is the strict-mode allow set: package managers, language
// runtimes, build tools, linters, test frameworks, version control, and a
// safe subset of read-only and file-creation utilities.
var whitelist = map[string]struct{}{
	// package managers
	"npm": {}, "npx": {}, "yarn": {}, "pnpm": {}, "pip": {}, "pip3": {}, "cargo": {}, "go": {},
	// language runtimes
	"node": {}, "python": {}, "python3": {}, "deno": {}, "bun": {},
	// build tools
	"make": {}, "cmake": {}, "tsc": {}, "vite": {}, "webpack": {}, "esbuild": {},
	// linters and formatters
	"eslint": {}, "prettier": {}, "gofmt": {}, "goimports": {}, "golangci-lint": {},
	// test frameworks
	"jest": {}, "vitest": {}, "pytest": {}, "mocha": {},
	// version control
	"git": {},
	// read-only and file-creation utilities
	"ls": {}, "cat": {}, "head": {}, "tail": {}, "wc": {}, "grep": {}, "find": {},
	"pwd": {}, "echo": {}, "mkdir": {}, "touch": {}, "cp": {}, "mv": {}, "which": {},
	"env": {}, "date": {}, "diff": {}, "sort": {}, "uniq": {}, "tee": {}, "test": {},
	"true": {}, "false": {},
}

type dangerousPattern struct {
	re     *regexp.Regexp
	reason string
}

var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`\$\([^)]*\)`), "Command substitution is not allowed"},
	{regexp.MustCompile("`[^`]*`"), "Backtick substitution is not allowed"},
	{regexp.MustCompile(`\|\s*(sh|bash|zsh|dash)\b`), "Piping into a shell interpreter is not allowed"},
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\b`), "Recursive force deletion is not allowed"},
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]+\s+)*(/|~)(\s|$)`), "Deleting the filesystem root or home is not allowed"},
	{regexp.MustCompile(`(;|&&)\s*rm\b`), "Chained destructive commands are not allowed"},
	{regexp.MustCompile(`>+\s*/(etc|sys|dev|boot|proc)/`), "Writing into protected system paths is not allowed"},
	{regexp.MustCompile(`:\(\)\s*\{[^}]*\}\s*;?\s*:`), "Fork bombs are not allowed"},
}

var (
	envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
	// A single pipe that is not part of `||`.
	pipeRe        = regexp.MustCompile(`(^|[^|])\|($|[^|])`)
	redirectionRe = regexp.MustCompile(`>>|>|<`)
	chainingRe    = regexp.MustCompile(`;|&&|\|\|`)
)

// Validate runs the fixed-order checks against command under policy.
func Validate(command string, policy Policy) Verdict {
	trimmed := strings.TrimSpace(command)

	// 1-2. Program extraction; empty command.
	program := extractProgram(trimmed)
	if program == "" {
		return Verdict{Safe: false, Reason: "Empty command"}
	}

	// 3. Blacklist, independent of mode.
	if suggestion, ok := lookupBlacklist(program); ok {
		return Verdict{
			Safe:       false,
			Reason:     fmt.Sprintf("Program %q is blacklisted", program),
			Program:    program,
			Suggestion: suggestion,
		}
	}

	// 4. Dangerous patterns, independent of mode.
	for _, dp := range dangerousPatterns {
		if dp.re.MatchString(trimmed) {
			return Verdict{Safe: false, Reason: dp.reason, Program: program}
		}
	}

	// 5. Operator restrictions by policy flags.
	if !policy.AllowPipes && pipeRe.MatchString(trimmed) {
		return Verdict{Safe: false, Reason: "Pipes are not allowed", Program: program}
	}
	if !policy.AllowChaining && chainingRe.MatchString(trimmed) {
		return Verdict{Safe: false, Reason: "Command chaining is not allowed", Program: program}
	}
	if !policy.AllowRedirections && redirectionRe.MatchString(trimmed) {
		return Verdict{Safe: false, Reason: "Redirections are not allowed", Program: program}
	}

	// 6. Strict mode: whitelist plus policy extras.
	if policy.Mode == ModeStrict && !whitelisted(program, policy.AdditionalAllowedPrograms) {
		return Verdict{
			Safe:       false,
			Reason:     fmt.Sprintf("Program %q is not in the allowed list", program),
			Program:    program,
			Suggestion: "Add the program to additional_allowed_programs if it is required",
		}
	}

	// 7. Caller-supplied forbidden patterns run last.
	for _, pattern := range policy.AdditionalForbiddenPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Verdict{
				Safe:    false,
				Reason:  fmt.Sprintf("Invalid forbidden pattern %q: %v", pattern, err),
				Program: program,
			}
		}
		if re.MatchString(trimmed) {
			return Verdict{
				Safe:    false,
				Reason:  fmt.Sprintf("Command matches forbidden pattern %q", pattern),
				Program: program,
			}
		}
	}

	return Verdict{Safe: true, Program: program}
}

// extractProgram returns the leading executable name: env-var assignment
// prefixes are skipped, path components stripped, and the result case-folded.
func extractProgram(command string) string {
	for _, field := range strings.Fields(command) {
		if envAssignRe.MatchString(field) {
			continue
		}
		return strings.ToLower(filepath.Base(field))
	}
	return ""
}

// lookupBlacklist matches exact program names plus mkfs.* variants.
func lookupBlacklist(program string) (string, bool) {
	if suggestion, ok := blacklist[program]; ok {
		return suggestion, true
	}
	if strings.HasPrefix(program, "mkfs.") {
		return blacklist["mkfs"], true
	}
	return "", false
}

func whitelisted(program string, extras []string) bool {
	if _, ok := whitelist[program]; ok {
		return true
	}
	for _, extra := range extras {
		if strings.EqualFold(extra, program) {
			return true
		}
	}
	return false
}
