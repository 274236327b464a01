package tracker

import (
	"log/slog"
	"time"

	"github.com/joeycumines/go-catrate"
)

// fetchFailureLimiter caps fetch-failure warnings per entity. A source that
// is down for an hour would otherwise log once per fetch interval for every
// entity.
var fetchFailureLimiter = catrate.NewLimiter(map[time.Duration]int{
	time.Minute: 3,
	time.Hour:   20,
})

func logFetchFailure(entityID string, failures uint64, err error) {
	next, ok := fetchFailureLimiter.Allow(entityID)
	if !ok {
		return
	}
	args := []any{
		"entity", entityID,
		"failures", failures,
		"error", err,
	}
	if !next.IsZero() {
		args = append(args, "limited_until", next)
	}
	slog.Warn("fetch failed", args...)
}
