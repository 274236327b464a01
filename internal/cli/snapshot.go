package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/entity"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/store"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
	Database string
	History  int  // inspect: how many history rows to list
	DryRun   bool // migrate: report without writing
	Keep     int  // prune: how many snapshots to keep
}

// InspectResult describes the newest snapshot.
type InspectResult struct {
	Hash      string         `json:"hash"`
	Version   int            `json:"version"`
	WrittenAt time.Time      `json:"written_at"`
	Size      int            `json:"size"`
	Entities  []string       `json:"entities"`
	Dropped   []string       `json:"dropped,omitempty"`
	History   []HistoryEntry `json:"history"`
}

// HistoryEntry is one stored snapshot in InspectResult.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Version   int       `json:"version"`
	Size      int       `json:"size"`
	WrittenAt time.Time `json:"written_at"`
}

// MigrateResult reports a migrate run.
type MigrateResult struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Hash    string `json:"hash"`
	Written bool   `json:"written"`
}

// PruneResult reports a prune run.
type PruneResult struct {
	Deleted int64 `json:"deleted"`
	Kept    int   `json:"kept"`
}

// NewSnapshotCommand creates the snapshot command and its subcommands.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and maintain stored snapshots",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database, or .json snapshot file (overrides config)")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show the newest snapshot and the snapshot history",
		Long: `Decode the newest snapshot, migrating it in memory if it is older than
the current schema, and list the entities it holds.

Exit codes:
  0 - Snapshot decoded
  1 - No snapshot, or the snapshot is corrupt or too new
  2 - Command error (config, database)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}
	inspect.Flags().IntVar(&opts.History, "history", 10, "number of history entries to list (0 for all)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite the newest snapshot at the current schema version",
		Long: `Upgrade the newest snapshot to the current schema version and store the
result as a new snapshot. Nothing is written when it is already current.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}
	migrate.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the migration without writing")

	prune := &cobra.Command{
		Use:           "prune",
		Short:         "Delete all but the newest snapshots",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}
	prune.Flags().IntVar(&opts.Keep, "keep", 10, "number of snapshots to keep")

	cmd.AddCommand(inspect, migrate, prune)
	return cmd
}

// openStore opens the database named by --db or the config.
func openStore(opts *SnapshotOptions) (store.Backend, error) {
	path := opts.Database
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.Database
	}
	st, err := store.OpenBackend(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// history lists stored snapshots. A snapshot file holds only rec.
func history(cmd *cobra.Command, st store.Backend, rec snapshot.Record, limit int) ([]HistoryEntry, error) {
	db, ok := st.(*store.Store)
	if !ok {
		return []HistoryEntry{{
			Hash:      rec.Hash,
			Version:   rec.Version,
			Size:      len(rec.Content),
			WrittenAt: rec.WrittenAt,
		}}, nil
	}
	metas, err := db.History(cmd.Context(), limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(metas))
	for _, m := range metas {
		entries = append(entries, HistoryEntry(m))
	}
	return entries, nil
}

// readNewest returns the newest record, reporting a missing one on out.
func readNewest(cmd *cobra.Command, st store.Backend, out *OutputFormatter) (snapshot.Record, error) {
	rec, err := st.Read(cmd.Context())
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		_ = out.Error(ErrCodeSnapshot, "no snapshot stored", nil)
		return snapshot.Record{}, NewExitError(ExitFailure, "no snapshot stored")
	}
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return snapshot.Record{}, WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	return rec, nil
}

func runInspect(opts *SnapshotOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := readNewest(cmd, st, out)
	if err != nil {
		return err
	}

	doc, warnings, err := snapshot.Decode(rec.Content, snapshot.DecodeOptions{
		Validate: func(e snapshot.EntityRecord) error { return entity.ValidateID(e.ID) },
	})
	if err != nil {
		_ = out.Error(ErrCodeSnapshot, err.Error(), map[string]string{"hash": rec.Hash})
		return WrapExitError(ExitFailure, "snapshot unusable", err)
	}

	entries, err := history(cmd, st, rec, opts.History)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list history", err)
	}

	result := InspectResult{
		Hash:      rec.Hash,
		Version:   rec.Version,
		WrittenAt: rec.WrittenAt,
		Size:      len(rec.Content),
		Entities:  make([]string, 0, len(doc.Entities)),
		History:   entries,
	}
	for _, e := range doc.Entities {
		result.Entities = append(result.Entities, e.ID)
	}
	for _, w := range warnings {
		result.Dropped = append(result.Dropped, w.String())
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(formatInspect(result))
}

func formatInspect(r InspectResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Snapshot %s\n", r.Hash)
	fmt.Fprintf(&b, "  version:    %d (current %d)\n", r.Version, ir.SchemaVersion)
	fmt.Fprintf(&b, "  written_at: %s\n", r.WrittenAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  size:       %d bytes\n", r.Size)
	fmt.Fprintf(&b, "  entities:   %d\n", len(r.Entities))
	for _, id := range r.Entities {
		fmt.Fprintf(&b, "    %s\n", id)
	}
	if len(r.Dropped) > 0 {
		fmt.Fprintf(&b, "  dropped:    %d\n", len(r.Dropped))
		for _, d := range r.Dropped {
			fmt.Fprintf(&b, "    %s\n", d)
		}
	}
	fmt.Fprintf(&b, "History (%d):", len(r.History))
	for _, h := range r.History {
		fmt.Fprintf(&b, "\n  %s  v%d  %6d bytes  %s", h.WrittenAt.Format(time.RFC3339), h.Version, h.Size, h.Hash)
	}
	return b.String()
}

func runMigrate(opts *SnapshotOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := readNewest(cmd, st, out)
	if err != nil {
		return err
	}

	migrated, err := snapshot.MigrateBytes(rec.Content)
	if err != nil {
		_ = out.Error(ErrCodeSnapshot, err.Error(), map[string]string{"hash": rec.Hash})
		return WrapExitError(ExitFailure, "migration failed", err)
	}

	result := MigrateResult{
		From: rec.Version,
		To:   ir.SchemaVersion,
		Hash: ir.ContentHash(migrated),
	}
	current := rec.Version == ir.SchemaVersion && bytes.Equal(migrated, rec.Content)

	if !current && !opts.DryRun {
		err := st.Write(cmd.Context(), snapshot.Record{
			Hash:      result.Hash,
			Version:   ir.SchemaVersion,
			Content:   migrated,
			WrittenAt: time.Now(),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to write migrated snapshot", err)
		}
		result.Written = true
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	switch {
	case current:
		return out.Success(fmt.Sprintf("Snapshot %s is already at version %d.", rec.Hash, ir.SchemaVersion))
	case opts.DryRun:
		return out.Success(fmt.Sprintf("Would migrate v%d -> v%d (%s).", result.From, result.To, result.Hash))
	default:
		return out.Success(fmt.Sprintf("Migrated v%d -> v%d (%s).", result.From, result.To, result.Hash))
	}
}

func runPrune(opts *SnapshotOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	if opts.Keep < 1 {
		return NewExitError(ExitCommandError, "--keep must be at least 1")
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	db, ok := st.(*store.Store)
	if !ok {
		return NewExitError(ExitCommandError, "prune needs a SQLite database; a snapshot file keeps only the newest snapshot")
	}
	deleted, err := db.Prune(cmd.Context(), opts.Keep)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prune snapshots", err)
	}
	result := PruneResult{Deleted: deleted, Kept: opts.Keep}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(fmt.Sprintf("Deleted %d snapshots, kept the newest %d.", deleted, opts.Keep))
}
