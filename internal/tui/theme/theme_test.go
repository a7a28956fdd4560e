package theme

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestProfileColorFallsBackPerProfile(t *testing.T) {
	previous := colorProfileFn
	t.Cleanup(func() { colorProfileFn = previous })

	colorProfileFn = func() termenv.Profile { return termenv.ANSI256 }
	complete, ok := profileColor(Success, "42", "10").(lipgloss.CompleteAdaptiveColor)
	if !ok {
		t.Fatalf("ANSI256 color type = %T, want CompleteAdaptiveColor", complete)
	}
	if complete.Dark.ANSI256 != "42" || complete.Dark.ANSI != "10" || complete.Dark.TrueColor != Success {
		t.Fatalf("complete color = %+v", complete.Dark)
	}

	colorProfileFn = func() termenv.Profile { return termenv.TrueColor }
	adaptive, ok := profileColor(Danger, "203", "9").(lipgloss.AdaptiveColor)
	if !ok {
		t.Fatalf("TrueColor color type = %T, want AdaptiveColor", adaptive)
	}
	if adaptive.Dark != Danger {
		t.Fatalf("adaptive dark = %q, want %q", adaptive.Dark, Danger)
	}
}
