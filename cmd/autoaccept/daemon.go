package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ship-commander/autoaccept/internal/backend"
	"github.com/ship-commander/autoaccept/internal/bridge"
	"github.com/ship-commander/autoaccept/internal/cdp"
	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/doctor"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
	"github.com/ship-commander/autoaccept/internal/telemetry"
)

const licenseRefreshInterval = 24 * time.Hour

func newDaemonCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the automation daemon for the configured editor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), a)
		},
	}
}

// openState opens the shared state database. Every daemon and CLI process
// on the machine points at the same file.
func (a *app) openState(ctx context.Context) (*kvstore.Store, *settings.Settings, error) {
	store, err := kvstore.Open(ctx, a.cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open state %s: %w", a.cfg.StatePath, err)
	}
	prefs, err := settings.New(store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, prefs, nil
}

func (a *app) newVerifier(prefs *settings.Settings) (*license.Verifier, error) {
	api, err := a.newBackend()
	if err != nil {
		return nil, err
	}
	return license.NewVerifier(api, prefs, license.WithLogger(a.logger.WithPrefix("license")))
}

func (a *app) newBackend() (*backend.Client, error) {
	return backend.New(a.cfg.APIURL,
		backend.WithSummaryTimeout(a.cfg.SummaryTimeout),
		backend.WithLicenseTimeout(a.cfg.LicenseTimeout),
	)
}

func (a *app) newConnector() (*cdp.Connector, error) {
	return cdp.NewConnector(cdp.Config{
		Host:    a.cfg.CDPHost,
		Ports:   a.cfg.CDPPorts,
		Timeout: a.cfg.BridgeTimeout,
		Logger:  a.logger.WithPrefix("cdp"),
	})
}

func runDaemon(ctx context.Context, a *app) error {
	logger := a.logger.With("ide", a.cfg.IDE)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    a.cfg.OTELEndpoint,
		Version:     Version,
		Environment: a.cfg.Environment,
	})
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		shutdownTelemetry = func() {}
	}
	defer shutdownTelemetry()

	store, prefs, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close state", "error", closeErr)
		}
	}()

	bus := events.New()
	notifier := notify.NewPublisher(bus, logger.WithPrefix("notify"))

	history, err := stats.NewStore(store, stats.WithRollover(func(ctx context.Context, previous stats.Weekly) {
		notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindWeeklySummary,
			Level:   notify.LevelInfo,
			Message: stats.WeeklyMessage(previous),
			Action:  "View Stats",
		})
	}))
	if err != nil {
		return err
	}

	connector, err := a.newConnector()
	if err != nil {
		return err
	}
	defer func() { _ = connector.Close() }()

	surfaceLogger := logger.WithPrefix("surface")
	injector, err := surface.NewInjector(connector, surfaceLogger, surface.WithLogger(surfaceLogger))
	if err != nil {
		return err
	}
	defer func() { _ = injector.Close() }()

	surfaces, err := surface.NewClient(bridge.NewLocal(injector,
		bridge.WithTimeout(a.cfg.BridgeTimeout),
		bridge.WithLogger(logger.WithPrefix("bridge")),
	))
	if err != nil {
		return err
	}

	api, err := a.newBackend()
	if err != nil {
		return err
	}
	verifier, err := license.NewVerifier(api, prefs, license.WithLogger(logger.WithPrefix("license")))
	if err != nil {
		return err
	}

	summaries, err := summary.NewService(summary.Config{
		Surface:    surfaces,
		Summarizer: api,
		Sessions:   a.sessions,
		Users:      prefs,
		Notifier:   notifier,
		Bus:        bus,
		Logger:     logger.WithPrefix("summary"),
	})
	if err != nil {
		return err
	}

	lease, err := leader.NewKVStore(store, settings.LockKey(a.cfg.IDE))
	if err != nil {
		return err
	}
	elector, err := leader.NewElector(lease, uuid.NewString(), leader.Config{Staleness: a.cfg.LeaseStaleness})
	if err != nil {
		return err
	}

	coord, err := coordinator.New(coordinator.Config{
		IDE:           a.cfg.IDE,
		SyncInterval:  a.cfg.SyncInterval,
		StatsInterval: a.cfg.StatsInterval,
	}, coordinator.Deps{
		Settings:  prefs,
		Stats:     history,
		Sessions:  a.sessions,
		Surfaces:  surfaces,
		Elector:   elector,
		Summaries: summaries,
		License:   verifier,
		Notifier:  notifier,
		Bus:       bus,
		Logger:    logger.WithPrefix("coordinator"),
	})
	if err != nil {
		return err
	}

	health, err := doctor.NewManager(doctor.Deps{
		Prober:  connector,
		State:   prefs,
		Lease:   lease,
		License: verifier,
		Bus:     bus,
	}, doctor.Config{IDE: a.cfg.IDE, Staleness: a.cfg.LeaseStaleness})
	if err != nil {
		return err
	}

	handler, err := statusapi.NewHandler(coord, history, bus, logger.WithPrefix("api"))
	if err != nil {
		return err
	}
	server := statusapi.NewServer(a.cfg.StatusAddr, handler)

	// The cached Pro flag decides whether a persisted enable survives
	// restore, so refresh it before the coordinator starts.
	refreshLicense(ctx, verifier, notifier, logger)

	logger.Info("daemon starting", "self", elector.SelfID(), "state", a.cfg.StatePath, "status_addr", a.cfg.StatusAddr)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return coord.Run(groupCtx) })
	group.Go(func() error { return server.Run(groupCtx) })
	group.Go(func() error {
		health.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(licenseRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				refreshLicense(groupCtx, verifier, notifier, logger)
			}
		}
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("daemon stopped: %w", err)
	}
	logger.Info("daemon stopped")
	return nil
}

func refreshLicense(ctx context.Context, verifier *license.Verifier, notifier notify.Notifier, logger *log.Logger) {
	result, err := verifier.Refresh(ctx)
	if err != nil {
		logger.Warn("license refresh failed", "error", err)
		return
	}
	switch {
	case result.Changed && result.Pro:
		notifier.Notify(ctx, notify.Notification{Kind: notify.KindLicense, Level: notify.LevelInfo, Message: "Pro license activated."})
	case result.Changed:
		notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindLicense,
			Level:   notify.LevelWarning,
			Message: "Your Pro license is no longer active.",
			Action:  "Purchase License",
		})
	case result.Stale:
		notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindLicense,
			Level:   notify.LevelWarning,
			Message: "Could not verify your license. Check your network connection.",
		})
	}
}
