package ports

import "testing"

func TestFormatCounts(t *testing.T) {
	cases := []struct {
		errors, warnings int
		want             string
	}{
		{0, 0, "0 errors, 0 warnings"},
		{1, 0, "1 error, 0 warnings"},
		{0, 1, "0 errors, 1 warning"},
		{1, 1, "1 error, 1 warning"},
		{2, 3, "2 errors, 3 warnings"},
	}
	for _, tc := range cases {
		if got := FormatCounts(tc.errors, tc.warnings); got != tc.want {
			t.Fatalf("FormatCounts(%d, %d) = %q, want %q", tc.errors, tc.warnings, got, tc.want)
		}
	}
}

func TestCountBySeverity(t *testing.T) {
	issues := []QualityIssue{
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityWarning},
		{Severity: SeverityInfo},
	}
	errors, warnings := CountBySeverity(issues)
	if errors != 1 || warnings != 2 {
		t.Fatalf("CountBySeverity = (%d, %d), want (1, 2)", errors, warnings)
	}
}
