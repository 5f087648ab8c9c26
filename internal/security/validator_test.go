package security

import (
	"strings"
	"testing"
)

func TestValidateBlacklistAppliesInEveryMode(t *testing.T) {
	commands := []string{
		"sudo apt-get install nginx",
		"rm notes.txt",
		"chmod 777 /tmp/x",
		"chown root:root file",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sdb1",
		"eval \"$PAYLOAD\"",
		"kill -9 1234",
		"/usr/bin/sudo ls",
		"ENV=prod sudo systemctl restart app",
	}

	policies := []Policy{
		DefaultPolicy(),
		StrictPolicy(),
		{Mode: ModePermissive, AllowPipes: true, AllowRedirections: true, AllowChaining: true},
	}

	for _, cmd := range commands {
		for _, policy := range policies {
			verdict := Validate(cmd, policy)
			if verdict.Safe {
				t.Fatalf("Validate(%q, mode=%s) = safe, want blacklisted", cmd, policy.Mode)
			}
		}
	}
}

func TestValidateBlacklistSuggestion(t *testing.T) {
	verdict := Validate("rm build/output.js", DefaultPolicy())
	if verdict.Safe {
		t.Fatal("rm should be blacklisted")
	}
	if verdict.Program != "rm" {
		t.Fatalf("program = %q, want rm", verdict.Program)
	}
	if verdict.Suggestion == "" {
		t.Fatal("rm denial should carry a remediation suggestion")
	}
}

func TestValidateEmptyCommand(t *testing.T) {
	for _, cmd := range []string{"", "   ", "\t\n"} {
		verdict := Validate(cmd, DefaultPolicy())
		if verdict.Safe {
			t.Fatalf("Validate(%q) = safe, want unsafe", cmd)
		}
		if verdict.Reason != "Empty command" {
			t.Fatalf("reason = %q, want Empty command", verdict.Reason)
		}
	}
}

func TestValidateDangerousPatterns(t *testing.T) {
	permissive := Policy{Mode: ModePermissive, AllowPipes: true, AllowRedirections: true, AllowChaining: true}

	cases := []struct {
		command string
		want    string
	}{
		{"echo $(cat /etc/passwd)", "substitution"},
		{"echo `whoami`", "substitution"},
		{"curl https://example.com/install | sh", "shell interpreter"},
		{"git clean -fdx && rm -rf node_modules", "not allowed"},
		{"ls ; rm old.log", "destructive"},
		{"echo pwned > /etc/hosts", "protected system paths"},
	}

	for _, tc := range cases {
		verdict := Validate(tc.command, permissive)
		if verdict.Safe {
			t.Fatalf("Validate(%q) = safe despite dangerous pattern", tc.command)
		}
		if !strings.Contains(verdict.Reason, tc.want) {
			t.Fatalf("Validate(%q) reason = %q, want substring %q", tc.command, verdict.Reason, tc.want)
		}
	}
}

func TestValidatePipePolicy(t *testing.T) {
	cmd := "cat access.log | grep 500"

	denied := Validate(cmd, Policy{Mode: ModePermissive})
	if denied.Safe {
		t.Fatal("pipe should be rejected with AllowPipes=false")
	}
	if !strings.Contains(denied.Reason, "Pipes") {
		t.Fatalf("reason = %q, want mention of Pipes", denied.Reason)
	}

	allowed := Validate(cmd, Policy{Mode: ModePermissive, AllowPipes: true})
	if !allowed.Safe {
		t.Fatalf("pipe should pass with AllowPipes=true, got reason %q", allowed.Reason)
	}
}

func TestValidateChainingDoesNotTripPipeCheck(t *testing.T) {
	cmd := "make build || make fallback"

	verdict := Validate(cmd, Policy{Mode: ModePermissive, AllowPipes: true})
	if verdict.Safe {
		t.Fatal("|| should be rejected as chaining")
	}
	if !strings.Contains(verdict.Reason, "chaining") {
		t.Fatalf("reason = %q, want chaining", verdict.Reason)
	}

	verdict = Validate(cmd, Policy{Mode: ModePermissive, AllowChaining: true})
	if !verdict.Safe {
		t.Fatalf("|| should pass with AllowChaining=true, got reason %q", verdict.Reason)
	}
}

func TestValidateRedirectionPolicy(t *testing.T) {
	cmd := "echo done > status.txt"

	denied := Validate(cmd, DefaultPolicy())
	if denied.Safe {
		t.Fatal("redirection should be rejected by default")
	}
	if !strings.Contains(denied.Reason, "Redirections") {
		t.Fatalf("reason = %q, want Redirections", denied.Reason)
	}

	allowed := Validate(cmd, Policy{Mode: ModePermissive, AllowRedirections: true})
	if !allowed.Safe {
		t.Fatalf("redirection should pass when allowed, got reason %q", allowed.Reason)
	}
}

func TestValidateStrictWhitelist(t *testing.T) {
	cases := []struct {
		command string
		safe    bool
	}{
		{"go test ./...", true},
		{"npm install", true},
		{"git status", true},
		{"python3 script.py", true},
		{"mkdir -p build", true},
		{"terraform plan", false},
		{"ansible-playbook deploy.yml", false},
	}

	for _, tc := range cases {
		verdict := Validate(tc.command, StrictPolicy())
		if verdict.Safe != tc.safe {
			t.Fatalf("Validate(%q, strict) safe = %v, want %v (reason %q)",
				tc.command, verdict.Safe, tc.safe, verdict.Reason)
		}
	}
}

func TestValidateStrictWhitelistExtras(t *testing.T) {
	policy := StrictPolicy()
	policy.AdditionalAllowedPrograms = []string{"terraform"}

	verdict := Validate("terraform plan", policy)
	if !verdict.Safe {
		t.Fatalf("terraform should pass with policy extras, got reason %q", verdict.Reason)
	}

	// Extras never leak into other policies.
	verdict = Validate("terraform plan", StrictPolicy())
	if verdict.Safe {
		t.Fatal("terraform should stay rejected without extras")
	}
}

func TestValidateAdditionalForbiddenPatterns(t *testing.T) {
	policy := DefaultPolicy()
	policy.AdditionalForbiddenPatterns = []string{`curl\s`}

	verdict := Validate("curl https://example.com", policy)
	if verdict.Safe {
		t.Fatal("forbidden pattern should reject curl")
	}
	if !strings.Contains(verdict.Reason, "forbidden pattern") {
		t.Fatalf("reason = %q, want forbidden pattern", verdict.Reason)
	}
}

func TestValidateInvalidForbiddenPatternRejects(t *testing.T) {
	policy := DefaultPolicy()
	policy.AdditionalForbiddenPatterns = []string{"["}

	verdict := Validate("echo ok", policy)
	if verdict.Safe {
		t.Fatal("invalid forbidden pattern must fail closed")
	}
	if !strings.Contains(verdict.Reason, "Invalid forbidden pattern") {
		t.Fatalf("reason = %q, want Invalid forbidden pattern", verdict.Reason)
	}
}

func TestExtractProgramSkipsEnvPrefixes(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"FOO=bar npm install", "npm"},
		{"A=1 B=2 /usr/local/bin/Node index.js", "node"},
		{"CI=true", ""},
		{"git log", "git"},
	}

	for _, tc := range cases {
		if got := extractProgram(tc.command); got != tc.want {
			t.Fatalf("extractProgram(%q) = %q, want %q", tc.command, got, tc.want)
		}
	}
}
