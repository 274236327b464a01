package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/entity"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/source"
	"github.com/roach88/cadence/internal/store"
)

// stopTimeout bounds how long shutdown waits for runners to finish a tick.
const stopTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string // overrides the config's database
	SourceDir string // overrides the config's source_dir

	// Clock drives the population; nil means the system clock.
	Clock engine.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the entity population",
		Long: `Run one entity per resource file in the source directory.

The newest snapshot in the database is restored first. A corrupt snapshot
is logged and the population starts empty; a snapshot written by a newer
version is refused. Snapshots are written every snapshot_interval and once
more on shutdown (SIGINT or SIGTERM).

A database path ending in .json keeps only the newest snapshot in that
file, replaced atomically on every write, instead of a SQLite history.

Events are printed to stdout, one per line.

Example:
  cadence run --config cadence.yaml
  cadence run --db ./cadence.db --source ./users --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPopulation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database, or .json snapshot file (overrides config)")
	cmd.Flags().StringVar(&opts.SourceDir, "source", "", "resource directory (overrides config)")

	return cmd
}

func runPopulation(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.SourceDir != "" {
		cfg.SourceDir = opts.SourceDir
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.OpenBackend(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	clock := opts.Clock
	if clock == nil {
		clock = engine.SystemClock{}
	}
	printer := &eventPrinter{format: opts.Format, w: cmd.OutOrStdout()}
	src := source.NewDir(cfg.SourceDir)
	pop := entity.NewPopulation(src, clock, cfg.Entity(),
		entity.WithSnapshotStore(snapshot.NewStore(st, snapshot.WithClock(clock))),
		entity.WithEventSink(printer.print),
		entity.WithErrorHandler(func(err error) {
			slog.Warn("tick failed", "error", err)
		}),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := restorePopulation(ctx, pop); err != nil {
		return err
	}
	if err := registerSources(pop, src); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := pop.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start population", err)
	}
	slog.Info("population started", "entities", pop.Len(), "db", cfg.Database, "source_dir", cfg.SourceDir)
	fmt.Fprintf(cmd.ErrOrStderr(), "Running %d entities. Press Ctrl-C to stop.\n", pop.Len())

	snapshotLoop(ctx, pop, cfg)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := pop.Stop(stopCtx); err != nil {
		slog.Warn("population did not stop cleanly", "error", err)
	}
	if _, err := pop.SnapshotNow(stopCtx); err != nil {
		return WrapExitError(ExitFailure, "final snapshot failed", err)
	}

	slog.Info("population stopped gracefully")
	return nil
}

// restorePopulation loads the newest snapshot. Only a snapshot from a
// newer version, or a failing database, stops the run.
func restorePopulation(ctx context.Context, pop *entity.Population) error {
	n, warnings, err := pop.RestoreLatest(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		slog.Info("no snapshot found, starting empty")
	case snapshot.IsCorrupt(err):
		slog.Warn("snapshot is corrupt, starting empty", "error", err)
	case errors.Is(err, snapshot.ErrUnsupportedVersion):
		return WrapExitError(ExitFailure, "refusing snapshot from a newer version", err)
	case err != nil:
		return WrapExitError(ExitFailure, "failed to restore snapshot", err)
	default:
		slog.Info("population restored", "entities", n, "dropped", len(warnings))
	}
	return nil
}

// registerSources adds an entity for every resource file. Restored
// entities keep their state.
func registerSources(pop *entity.Population, src *source.Dir) error {
	ids, err := src.IDs()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list source directory", err)
	}
	for _, id := range ids {
		if _, err := pop.Register(id); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to register %q", id), err)
		}
	}
	return nil
}

func snapshotLoop(ctx context.Context, pop *entity.Population, cfg *config.Config) {
	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pop.SnapshotNow(ctx); err != nil && ctx.Err() == nil {
				slog.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}

// eventPrinter writes events from concurrent runners one line at a time.
type eventPrinter struct {
	format string
	w      io.Writer

	mu sync.Mutex
}

func (p *eventPrinter) print(events []ir.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range events {
		line, err := ir.MarshalCanonical(ir.EventToIR(ev))
		if err != nil {
			slog.Error("failed to render event", "entity", ev.Entity(), "error", err)
			continue
		}
		if p.format == "json" {
			fmt.Fprintf(p.w, "%s\n", line)
			continue
		}
		fmt.Fprintf(p.w, "%-8s %s %s\n", ev.Kind(), ev.Entity(), line)
	}
}
