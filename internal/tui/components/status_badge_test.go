package components

import (
	"strings"
	"testing"
)

func TestRenderStatusBadgeVariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status string
		want   string
	}{
		{status: "enabled", want: "● ENABLED"},
		{status: "disabled", want: "○ DISABLED"},
		{status: "Leader", want: "● LEADER"},
		{status: "standby", want: "⏸ STANDBY"},
		{status: "paused", want: "⏸ PAUSED"},
		{status: "done", want: "✓ DONE"},
		{status: "done_with_errors", want: "✗ ERRORS"},
		{status: "in_progress", want: "● IN PROGRESS"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.status, func(t *testing.T) {
			t.Parallel()
			if rendered := RenderStatusBadge(testCase.status); !strings.Contains(rendered, testCase.want) {
				t.Fatalf("rendered badge %q does not include %q", rendered, testCase.want)
			}
		})
	}
}

func TestRenderStatusBadgeOptionsAndFallback(t *testing.T) {
	t.Parallel()

	withoutIcon := RenderStatusBadge("running", WithBadgeIcon(false), WithBadgeBold(true))
	if strings.Contains(withoutIcon, "●") || !strings.Contains(withoutIcon, "RUNNING") {
		t.Fatalf("unexpected badge without icon: %q", withoutIcon)
	}
	if got := RenderStatusBadge("rebooting"); !strings.Contains(got, "⚠ REBOOTING") {
		t.Fatalf("fallback badge = %q", got)
	}
	if got := RenderStatusBadge("  "); !strings.Contains(got, "UNKNOWN") {
		t.Fatalf("blank badge = %q", got)
	}
}
