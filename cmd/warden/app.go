package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/jllopis/warden/pkg/admission"
	"github.com/jllopis/warden/pkg/audit"
	"github.com/jllopis/warden/pkg/config"
	"github.com/jllopis/warden/pkg/dispatch"
	"github.com/jllopis/warden/pkg/lifecycle"
	"github.com/jllopis/warden/pkg/runtime"
	"github.com/jllopis/warden/pkg/secrets"
	"github.com/jllopis/warden/pkg/skills"
	"github.com/jllopis/warden/pkg/telemetry"
	"github.com/jllopis/warden/pkg/tools"
)

// app holds the components every command shares.
type app struct {
	flags   globalFlags
	cfg     *config.Config
	logger  *slog.Logger
	audit   audit.Store
	metrics *telemetry.Metrics
	gate    *admission.Gate
	secrets *secrets.Store
	tools   *tools.Registry
	skills  *skills.Registry
	coord   *lifecycle.Coordinator
	disp    *dispatch.Dispatcher

	closers   []func() error
	closeOnce sync.Once
}

func newApp(ctx context.Context, flags globalFlags) (*app, error) {
	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		return nil, NewConfigError(err, flags.ConfigPath)
	}

	// Logs go to stderr so stdout stays usable for command output and MCP stdio.
	logger := telemetry.ConfigureSlogFrom(os.Stderr, cfg.Log)
	a := &app{flags: flags, cfg: cfg, logger: logger}

	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, telemetry.ConfigFrom(cfg.Telemetry))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.metrics = metrics

	store, closeStore, err := audit.Open(cfg.Audit)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.audit = store
	a.closers = append(a.closers, closeStore)

	a.secrets, err = secrets.NewStore(cfg.Secrets.EnvFile, secrets.WithLogger(telemetry.Component(logger, "secrets")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.gate = admission.NewGate(admission.PolicyFromConfig(cfg.Admission),
		admission.WithLogger(telemetry.Component(logger, "admission")))

	loader := runtime.NewLoader(
		runtime.WithSecrets(a.secrets),
		runtime.WithGate(a.gate),
		runtime.WithLogger(telemetry.Component(logger, "runtime")),
	)
	patterns := tools.PatternsFrom(cfg.Tools)

	a.tools = tools.NewRegistry(
		tools.WithLoader(loader),
		tools.WithPatterns(patterns),
		tools.WithAudit(store),
		tools.WithMetrics(metrics),
		tools.WithLogger(telemetry.Component(logger, "tools")),
	)
	if err := a.tools.Load(ctx, cfg.Tools.ActiveDir); err != nil {
		a.Close()
		return nil, err
	}

	a.skills = skills.NewRegistry(
		skills.WithLoader(loader),
		skills.WithAudit(store),
		skills.WithLogger(telemetry.Component(logger, "skills")),
	)
	if err := a.skills.Discover(cfg.Skills.Dir); err != nil {
		a.Close()
		return nil, err
	}

	a.coord = lifecycle.NewCoordinator(a.gate, cfg.Tools.StagingDir, cfg.Tools.ActiveDir,
		lifecycle.WithPatterns(patterns),
		lifecycle.WithAudit(store),
		lifecycle.WithReloader(a.tools),
		lifecycle.WithMetrics(metrics),
		lifecycle.WithLogger(telemetry.Component(logger, "lifecycle")),
	)

	a.disp = dispatch.New(a.tools, a.skills,
		dispatch.WithTimeout(cfg.Execution.Timeout),
		dispatch.WithAudit(store),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(telemetry.Component(logger, "dispatch")),
	)
	return a, nil
}

// watchConfig hot-swaps the admission policy when the config file changes.
// --set overrides are reapplied on every reload. It is a no-op without
// --config.
func (a *app) watchConfig(ctx context.Context) error {
	if a.flags.ConfigPath == "" {
		return nil
	}
	watcher, _, err := config.WatchConfig(ctx, a.flags.ConfigArgs,
		config.WithWatchLogger(telemetry.Component(a.logger, "config")))
	if err != nil {
		return err
	}
	watcher.OnChange(func(cfg *config.Config) {
		a.gate.SetPolicy(admission.PolicyFromConfig(cfg.Admission))
		if err := a.secrets.Reload(); err != nil {
			a.logger.Warn("secrets.reload.failed", slog.String("error", err.Error()))
		}
	})
	a.closers = append(a.closers, func() error {
		watcher.Stop()
		return nil
	})
	return nil
}

// Close releases telemetry exporters and the audit store.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("app.close.failed", slog.String("error", err.Error()))
			}
		}
	})
}
