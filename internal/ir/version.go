package ir

const (
	// SchemaVersion is the snapshot schema version written by this binary.
	// Older snapshots are migrated forward on load; see package snapshot.
	SchemaVersion = 3

	// Version is the cadence release version.
	Version = "0.3.0"
)
