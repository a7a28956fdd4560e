package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/config"
	"github.com/ship-commander/autoaccept/internal/logging"
	"github.com/ship-commander/autoaccept/internal/session"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	sessions *session.Tracker
	runID    string
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()
	sessions := session.NewTracker(0)
	options := []logging.Option{logging.WithRunID(runID), logging.WithLevel(cfg.LogLevel)}
	// Only the daemon collects session logs for summaries.
	if resolveCommandName(args) == "run" {
		options = append(options, logging.WithSink(sessions.Logs()))
	}
	logger, err := logging.New(ctx, options...)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(&app{cfg: cfg, logger: logger.Logger, sessions: sessions, runID: runID})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "autoaccept",
		Short:         "Automatically accept agent actions in your editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newDaemonCommand(a),
		newEnableCommand(a),
		newDisableCommand(a),
		newToggleCommand(a),
		newStatusCommand(a),
		newBackgroundCommand(a),
		newBannedCommand(a),
		newFrequencyCommand(a),
		newSummaryCommand(a),
		newLicenseCommand(a),
		newWatchCommand(a),
		newDoctorCommand(a),
		newBugreportCommand(a),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if a == nil || a.logger == nil {
			return errors.New("logger is required")
		}
		if a.cfg == nil {
			return errors.New("config is required")
		}
		a.logger.With("command", cmd.Name(), "args", redactArgs(args)).Debug("command invocation")
		return nil
	}
	return root
}

// resolveCommandName returns the first non-flag argument, or "root".
func resolveCommandName(args []string) string {
	for _, arg := range args {
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return "root"
}

func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if key, _, ok := strings.Cut(trimmed, "="); ok && isSensitiveToken(strings.ToLower(key)) {
			redacted = append(redacted, key+"=<redacted>")
			continue
		}
		if isSensitiveToken(strings.ToLower(trimmed)) {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}
	return redacted
}

func isSensitiveToken(value string) bool {
	for _, candidate := range []string{"token", "password", "passwd", "secret", "api-key", "api_key", "apikey", "auth", "bearer", "user_id", "userid"} {
		if strings.Contains(value, candidate) {
			return true
		}
	}
	return false
}
