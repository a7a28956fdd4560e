package doctor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// FirstInstall reads and records the first-install flag.
type FirstInstall interface {
	FirstInstallComplete(ctx context.Context) (bool, error)
	MarkFirstInstallComplete(ctx context.Context) error
}

var ideBinaries = map[string]string{
	"code":        "code",
	"cursor":      "cursor",
	"antigravity": "antigravity",
}

// LaunchCommand is the shell command that starts ide with remote debugging.
func LaunchCommand(ide string, port int) string {
	binary, ok := ideBinaries[strings.ToLower(strings.TrimSpace(ide))]
	if !ok {
		binary = "code"
	}
	return fmt.Sprintf("%s --remote-debugging-port=%d", binary, port)
}

// Guide renders first-run setup instructions as markdown.
func Guide(ide string, port int, goos string) string {
	if goos == "" {
		goos = runtime.GOOS
	}
	var b strings.Builder
	b.WriteString("# Auto Accept setup\n\n")
	b.WriteString("Auto Accept drives the editor through its remote-debugging port. ")
	fmt.Fprintf(&b, "Quit every %s window, then relaunch it with:\n\n", displayName(ide))
	fmt.Fprintf(&b, "```sh\n%s\n```\n\n", LaunchCommand(ide, port))
	switch goos {
	case "darwin":
		b.WriteString("On macOS the command-line launcher must be installed from the editor's command palette first.\n\n")
	case "windows":
		b.WriteString("On Windows you can also add the flag to the target of the editor's desktop shortcut.\n\n")
	default:
		b.WriteString("To make it permanent, add the flag to the editor's `.desktop` entry.\n\n")
	}
	b.WriteString("Then start the daemon with `autoaccept run` and enable it with `autoaccept enable`.\n")
	return b.String()
}

// ShowGuideOnce reports whether the guide should be shown and marks the
// first install complete so it is shown at most once.
func ShowGuideOnce(ctx context.Context, store FirstInstall) (bool, error) {
	done, err := store.FirstInstallComplete(ctx)
	if err != nil {
		return false, fmt.Errorf("read first-install flag: %w", err)
	}
	if done {
		return false, nil
	}
	if err := store.MarkFirstInstallComplete(ctx); err != nil {
		return false, fmt.Errorf("mark first install complete: %w", err)
	}
	return true, nil
}

func displayName(ide string) string {
	switch strings.ToLower(strings.TrimSpace(ide)) {
	case "cursor":
		return "Cursor"
	case "antigravity":
		return "Antigravity"
	default:
		return "VS Code"
	}
}
