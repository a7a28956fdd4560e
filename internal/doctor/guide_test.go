package doctor

import (
	"context"
	"strings"
	"testing"
)

func TestLaunchCommand(t *testing.T) {
	cases := map[string]string{
		"cursor":      "cursor --remote-debugging-port=9000",
		" Antigravity": "antigravity --remote-debugging-port=9000",
		"":            "code --remote-debugging-port=9000",
		"vim":         "code --remote-debugging-port=9000",
	}
	for ide, want := range cases {
		if got := LaunchCommand(ide, 9000); got != want {
			t.Fatalf("LaunchCommand(%q) = %q, want %q", ide, got, want)
		}
	}
}

func TestGuideMentionsPlatformAndCommand(t *testing.T) {
	guide := Guide("cursor", 9000, "darwin")
	if !strings.Contains(guide, "Quit every Cursor window") {
		t.Fatalf("guide missing editor name: %q", guide)
	}
	if !strings.Contains(guide, "cursor --remote-debugging-port=9000") {
		t.Fatalf("guide missing launch command: %q", guide)
	}
	if !strings.Contains(guide, "macOS") {
		t.Fatalf("guide missing macOS note: %q", guide)
	}
	if strings.Contains(Guide("code", 9000, "linux"), "macOS") {
		t.Fatal("linux guide should not mention macOS")
	}
}

func TestShowGuideOnce(t *testing.T) {
	store := newSettings(t)
	ctx := context.Background()

	show, err := ShowGuideOnce(ctx, store)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !show {
		t.Fatal("first call should show the guide")
	}
	show, err = ShowGuideOnce(ctx, store)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if show {
		t.Fatal("guide must be shown once")
	}
}
