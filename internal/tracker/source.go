package tracker

import (
	"context"

	"github.com/roach88/cadence/internal/ir"
)

// DataSource fetches the latest snapshot of an entity's external resource.
// Rate and transport are the source's concern; a failed fetch is treated as
// transient.
type DataSource interface {
	Fetch(ctx context.Context, entityID string) (ir.IRObject, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context, entityID string) (ir.IRObject, error)

// Fetch calls f.
func (f DataSourceFunc) Fetch(ctx context.Context, entityID string) (ir.IRObject, error) {
	return f(ctx, entityID)
}
