package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/doctor"
	"github.com/ship-commander/autoaccept/internal/settings"
)

const bugreportLogLimit = 3

var (
	bugreportNowFn     = func() time.Time { return time.Now().UTC() }
	bugreportHomeDirFn = os.UserHomeDir
	bugreportGetwdFn   = os.Getwd
)

// diagnoseFunc gathers live state for the bundle. Either value may be nil.
type diagnoseFunc func(ctx context.Context) (status any, report *doctor.Report)

func newBugreportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect a diagnostic bundle for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.With("command", "bugreport").Info("collecting diagnostic bundle")
			return runBugReport(cmd.Context(), cmd.OutOrStdout(), a.diagnostics)
		},
	}
}

// diagnostics asks the daemon for its status and runs the doctor checks
// against the shared state.
func (a *app) diagnostics(ctx context.Context) (any, *doctor.Report) {
	var status any
	if current, err := a.client().Status(ctx); err == nil {
		status = current
	} else if offline, offlineErr := a.offlineStatus(ctx); offlineErr == nil {
		status = offline
	}

	connector, err := a.newConnector()
	if err != nil {
		return status, nil
	}
	defer func() { _ = connector.Close() }()

	var report *doctor.Report
	_ = a.withState(ctx, func(prefs *settings.Settings) error {
		manager, err := doctor.NewManager(doctor.Deps{Prober: connector, State: prefs}, doctor.Config{IDE: a.cfg.IDE})
		if err != nil {
			return err
		}
		result := manager.RunOnce(ctx)
		report = &result
		return nil
	})
	return status, report
}

func runBugReport(ctx context.Context, out io.Writer, diagnose diagnoseFunc) error {
	home, err := bugreportHomeDirFn()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if home = filepath.Clean(home); strings.TrimSpace(home) == "" || home == "." {
		return errors.New("home directory is not valid")
	}
	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}

	now := bugreportNowFn()
	bundlePath := filepath.Join(filepath.Clean(cwd), "autoaccept-bugreport-"+now.Format("20060102-150405")+".tar.gz")
	if err := writeBundle(bundlePath, now, func(b *bundle) {
		stateDir := filepath.Join(home, ".autoaccept")
		b.addLogs(filepath.Join(stateDir, "logs"))
		b.addConfig(filepath.Join(stateDir, "config.toml"))
		b.addDiagnostics(ctx, diagnose)
		b.addManifest()
	}); err != nil {
		return err
	}

	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintf(out, "Bug report written to: %s. Share for debugging.\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

// bundle streams entries into a gzipped tarball. The first write error sticks
// and turns every later add into a no-op.
type bundle struct {
	tw       *tar.Writer
	now      time.Time
	err      error
	warnings []string
	runID    string
	traceID  string
}

func writeBundle(destination string, now time.Time, fill func(*bundle)) (err error) {
	// #nosec G304 -- destination is a fixed name in the working directory.
	file, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	gz := gzip.NewWriter(file)
	b := &bundle{tw: tar.NewWriter(gz), now: now}
	defer func() {
		for _, closer := range []io.Closer{b.tw, gz, file} {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("finish archive: %w", closeErr)
			}
		}
	}()

	fill(b)
	if b.err != nil {
		return fmt.Errorf("archive bugreport: %w", b.err)
	}
	return nil
}

func (b *bundle) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *bundle) add(name string, data []byte, modTime time.Time) {
	if b.err != nil {
		return
	}
	header := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), ModTime: modTime, Typeflag: tar.TypeReg}
	if err := b.tw.WriteHeader(header); err != nil {
		b.err = fmt.Errorf("write tar header for %s: %w", name, err)
		return
	}
	if _, err := b.tw.Write(data); err != nil {
		b.err = fmt.Errorf("write %s: %w", name, err)
	}
}

func (b *bundle) addJSON(name string, value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		b.warn("unable to encode %s: %v", name, err)
		return
	}
	b.add(name, append(data, '\n'), b.now)
}

// addLogs copies the newest log files and remembers the last run and trace
// IDs seen in them.
func (b *bundle) addLogs(dir string) {
	files, err := newestFiles(dir, bugreportLogLimit)
	if err != nil {
		b.warn("unable to read logs directory: %v", err)
		return
	}
	for _, file := range files {
		// #nosec G304 -- paths come from listing the private logs directory.
		data, err := os.ReadFile(file.path)
		if err != nil {
			b.warn("unable to read log %s: %v", file.path, err)
			continue
		}
		b.add(path.Join("logs", filepath.Base(file.path)), data, file.modTime)
		if b.runID == "" && b.traceID == "" {
			b.runID, b.traceID = lastCorrelation(data)
		}
	}
}

func (b *bundle) addConfig(configPath string) {
	// #nosec G304 -- fixed path under ~/.autoaccept.
	data, err := os.ReadFile(configPath)
	if err != nil {
		b.warn("unable to read config: %v", err)
		data = []byte("# config unavailable\n")
	}
	b.add("config.toml", []byte(redactSensitiveConfig(string(data))), b.now)
}

func (b *bundle) addDiagnostics(ctx context.Context, diagnose diagnoseFunc) {
	if diagnose == nil {
		b.warn("diagnostics unavailable")
		return
	}
	status, report := diagnose(ctx)
	if status == nil {
		b.warn("automation status unavailable")
	} else {
		b.addJSON("status.json", status)
	}
	if report == nil {
		b.warn("doctor checks unavailable")
	} else {
		b.addJSON("doctor.json", report)
	}
}

// addManifest writes the version, correlation IDs and a README listing any
// warnings collected so far. It must run last.
func (b *bundle) addManifest() {
	if b.runID == "" && b.traceID == "" {
		b.warn("no run_id/trace_id found in copied logs")
	}
	b.add("version.txt", []byte("autoaccept version: "+strings.TrimSpace(Version)+"\n"), b.now)
	b.add("last-run.txt", []byte(fmt.Sprintf("run_id: %s\ntrace_id: %s\n", b.runID, b.traceID)), b.now)

	var readme strings.Builder
	readme.WriteString("Auto Accept Bug Report\n======================\n\n")
	fmt.Fprintf(&readme, "Generated: %s\nVersion: %s\nrun_id: %s\ntrace_id: %s\n\n",
		b.now.Format(time.RFC3339), Version, b.runID, b.traceID)
	readme.WriteString("Contents:\n")
	for _, line := range []string{
		"logs/ (newest daemon logs)",
		"config.toml (credentials masked)",
		"status.json (daemon or stored automation state)",
		"doctor.json (health checks)",
		"version.txt, last-run.txt",
	} {
		readme.WriteString("- " + line + "\n")
	}
	readme.WriteString("\nSearch the logs for the run_id above to find the failing run.\n")
	if len(b.warnings) > 0 {
		readme.WriteString("\nWarnings:\n")
		for _, warning := range b.warnings {
			readme.WriteString("- " + warning + "\n")
		}
	}
	b.add("README.txt", []byte(readme.String()), b.now)
}

// lastCorrelation returns the IDs from the last JSON log record that has any.
func lastCorrelation(data []byte) (runID, traceID string) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record struct {
			RunID   string `json:"run_id"`
			TraceID string `json:"trace_id"`
		}
		if json.Unmarshal(scanner.Bytes(), &record) != nil {
			continue
		}
		if id, trace := strings.TrimSpace(record.RunID), strings.TrimSpace(record.TraceID); id != "" || trace != "" {
			runID, traceID = id, trace
		}
	}
	return runID, traceID
}

// redactSensitiveConfig masks the value of every key = value line whose key
// looks like a credential.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		key, _, ok := strings.Cut(line, "=")
		if !ok || !isSensitiveToken(strings.ToLower(strings.TrimSpace(key))) {
			continue
		}
		lines[i] = key + `= "***REDACTED***"`
	}
	return strings.Join(lines, "\n")
}

type datedFile struct {
	path    string
	modTime time.Time
}

// newestFiles lists regular files in dir, newest first, keeping at most limit.
func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []datedFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			files = append(files, datedFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
		}
	}
	slices.SortFunc(files, func(a, b datedFile) int { return b.modTime.Compare(a.modTime) })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
