package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nerrad567/launchdeck/internal/history"
	"github.com/nerrad567/launchdeck/internal/infrastructure/config"
	"github.com/nerrad567/launchdeck/internal/infrastructure/database"
	"github.com/nerrad567/launchdeck/internal/infrastructure/logging"
	"github.com/nerrad567/launchdeck/internal/output"
	"github.com/nerrad567/launchdeck/internal/supervisor"
	"github.com/nerrad567/launchdeck/migrations"
)

// supervisorConfig maps the file configuration onto the controller's.
func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		MaxInstancesPerType: cfg.Supervisor.MaxInstancesPerType,
		GracefulTimeout:     cfg.Supervisor.GracefulTimeout,
		BulkGracefulTimeout: cfg.Supervisor.BulkGracefulTimeout,
		ExitWaitTimeout:     cfg.Supervisor.ExitWaitTimeout,
		Buffer: output.BufferConfig{
			Capacity:           cfg.Output.BufferCapacity,
			DisplayCap:         cfg.Output.DisplayCap,
			CompactionInterval: cfg.Output.CompactionInterval,
		},
		LogEnabled: cfg.Output.LogEnabled,
		LogDir:     cfg.Output.LogDir,
	}
}

// processTypes converts configured process types for the catalog.
func processTypes(types []config.ProcessTypeConfig) []supervisor.ProcessType {
	out := make([]supervisor.ProcessType, 0, len(types))
	for _, pt := range types {
		out = append(out, supervisor.ProcessType{
			Name:      pt.Name,
			Command:   pt.Command,
			Args:      pt.Args,
			WorkDir:   pt.WorkDir,
			Env:       pt.Env,
			Autostart: pt.Autostart,
		})
	}
	return out
}

// newController builds a controller over the configured catalog.
func newController(cfg *config.Config, svCfg supervisor.Config, log *logging.Logger) *supervisor.Controller {
	controller := supervisor.NewController(svCfg, supervisor.NewCatalog(processTypes(cfg.ProcessTypes)))
	controller.SetLogger(log.Component("supervisor"))
	controller.SetReclaimHook(reclaimHook(cfg.Supervisor.ReclaimCommand, log))
	return controller
}

// reclaimHook runs argv after a kill-all, or returns nil when argv is empty.
func reclaimHook(argv []string, log *logging.Logger) supervisor.ReclaimHook {
	if len(argv) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // command comes from the operator's config
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("reclaim command %q: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
		}
		log.Info("reclaim command finished", "command", argv[0], "output", strings.TrimSpace(string(out)))
		return nil
	}
}

// openHistory opens and migrates the database and returns the history
// repository on top of it. The caller closes the database.
func openHistory(ctx context.Context, cfg *config.Config) (*database.DB, *history.SQLiteRepository, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, history.NewSQLiteRepository(db.DB), nil
}
