package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/cadence/internal/callback"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/tracker"
)

// member pairs a container with the runner that ticks it.
type member struct {
	container *Container
	runner    *engine.Runner
}

// Population is the set of live entities.
//
// Thread-safety model:
//   - Register, Lookup, IDs, Len, SnapshotNow: safe from any goroutine
//   - Start, Stop, Restore: safe from any goroutine, serialized on mu
//
// INVARIANTS:
//   - at most one Container per entity id
//   - while running, every Container has exactly one active Runner
//   - a runner's exit or failure never stops another runner
//   - Start and Restore wait until every runner of the last run has exited
//   - Restore only replaces the population while it is stopped
type Population struct {
	source tracker.DataSource
	clock  engine.Clock
	cfg    Config

	store   *snapshot.Store
	keys    callback.KeySource
	sink    func([]ir.Event)
	onError func(error)

	mu       sync.Mutex
	members  map[string]*member
	running  bool
	runCtx   context.Context
	group    *errgroup.Group
	snapshot singleflight.Group
}

// PopulationOption configures a Population.
type PopulationOption func(*Population)

// WithSnapshotStore enables SnapshotNow and Restore.
func WithSnapshotStore(s *snapshot.Store) PopulationOption {
	return func(p *Population) {
		p.store = s
	}
}

// WithKeySource sets the callback key source of every registry.
// Tests use it for deterministic keys.
func WithKeySource(src callback.KeySource) PopulationOption {
	return func(p *Population) {
		p.keys = src
	}
}

// WithEventSink receives every tick's events in addition to the
// per-entity outboxes. It is called from runner goroutines.
func WithEventSink(sink func([]ir.Event)) PopulationOption {
	return func(p *Population) {
		p.sink = sink
	}
}

// WithErrorHandler receives every failed tick. It is called from runner
// goroutines.
func WithErrorHandler(fn func(error)) PopulationOption {
	return func(p *Population) {
		p.onError = fn
	}
}

// NewPopulation creates an empty, stopped population.
// cfg should already be validated.
func NewPopulation(source tracker.DataSource, clock engine.Clock, cfg Config, opts ...PopulationOption) *Population {
	p := &Population{
		source:  source,
		clock:   clock,
		cfg:     cfg,
		members: make(map[string]*member),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register admits entity id, returning the existing handle if it is
// already registered. A new entity joining a running population starts
// ticking at once.
func (p *Population) Register(id string) (*Handle, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.members[id]; ok {
		return &Handle{c: m.container}, nil
	}
	m := p.newMemberLocked(id)
	p.members[id] = m
	if p.running {
		p.launchLocked(m)
	}

	slog.Info("entity registered", "entity", id, "running", p.running)
	return &Handle{c: m.container}, nil
}

func (p *Population) newMemberLocked(id string) *member {
	regOpts := []callback.Option{
		callback.WithName(id),
		callback.WithSweepInterval(p.cfg.SweepInterval),
	}
	if p.keys != nil {
		regOpts = append(regOpts, callback.WithKeySource(p.keys))
	}
	c := newContainer(
		id,
		p.clock.Now().UTC(),
		callback.New(p.clock, regOpts...),
		tracker.New(id, p.source, p.cfg.Tracker),
	)

	runOpts := []engine.RunnerOption{engine.WithPollInterval(p.cfg.PollInterval)}
	if p.sink != nil {
		runOpts = append(runOpts, engine.WithEventSink(p.sink))
	}
	if p.onError != nil {
		runOpts = append(runOpts, engine.WithErrorHandler(p.onError))
	}
	return &member{
		container: c,
		runner:    engine.NewRunner(id, c, p.clock, runOpts...),
	}
}

// launchLocked runs m's runner in the group. Runner errors are logged and
// swallowed so the group never reports one entity's exit as a failure.
func (p *Population) launchLocked(m *member) {
	ctx := p.runCtx
	p.group.Go(func() error {
		err := m.runner.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Error("runner exited", "entity", m.runner.Name(), "error", err)
		}
		return nil
	})
}

// drainingLocked returns the ids whose runner is still inside a Run from an
// earlier start, sorted.
func (p *Population) drainingLocked() []string {
	var ids []string
	for id, m := range p.members {
		if m.runner.Running() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Lookup returns the handle for id.
func (p *Population) Lookup(id string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return nil, false
	}
	return &Handle{c: m.container}, true
}

// IDs returns the registered entity ids, sorted.
func (p *Population) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.members))
	for id := range p.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered entities.
func (p *Population) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Running reports whether Start has been called without a matching Stop.
func (p *Population) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches one runner per entity and returns immediately.
// Runners exit when Stop is called or ctx is cancelled.
//
// Returns ErrRunnersStopping while a runner from a Stop that timed out is
// still finishing its tick.
func (p *Population) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return engine.ErrAlreadyRunning
	}
	if ids := p.drainingLocked(); len(ids) > 0 {
		return fmt.Errorf("%w: %s", ErrRunnersStopping, strings.Join(ids, ", "))
	}
	p.group, p.runCtx = &errgroup.Group{}, ctx
	p.running = true
	for _, m := range p.members {
		p.launchLocked(m)
	}

	slog.Info("population started", "entities", len(p.members))
	return nil
}

// Stop asks every runner to exit and waits for them, bounded by ctx.
// In-flight ticks always finish. Stopping a stopped population is a no-op.
// When ctx expires first, runners stuck in a tick exit once it returns;
// until then Start and Restore refuse with ErrRunnersStopping.
func (p *Population) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	group := p.group
	members := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		members = append(members, m)
	}
	p.mu.Unlock()

	for _, m := range members {
		m.runner.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case <-done:
		slog.Info("population stopped", "entities", len(members))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop population: %w", ctx.Err())
	}
}

// SnapshotNow writes the durable state of every entity unless it is
// unchanged since the last write or load. Concurrent calls share one write.
// Returns the content hash.
func (p *Population) SnapshotNow(ctx context.Context) (string, error) {
	if p.store == nil {
		return "", ErrNoSnapshotStore
	}

	v, err, shared := p.snapshot.Do("snapshot", func() (any, error) {
		doc := snapshot.Pack(p.records())
		hash, written, err := p.store.WriteIfChanged(ctx, doc)
		if err != nil {
			return "", err
		}
		if written {
			slog.Info("snapshot saved", "hash", hash, "entities", len(doc.Entities))
		}
		return hash, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		slog.Debug("snapshot request coalesced")
	}
	return v.(string), nil
}

func (p *Population) records() []snapshot.EntityRecord {
	p.mu.Lock()
	containers := make([]*Container, 0, len(p.members))
	for _, m := range p.members {
		containers = append(containers, m.container)
	}
	p.mu.Unlock()

	records := make([]snapshot.EntityRecord, 0, len(containers))
	for _, c := range containers {
		records = append(records, c.record())
	}
	return records
}

// decodeOptions rejects entities whose id could not be registered.
func decodeOptions() snapshot.DecodeOptions {
	return snapshot.DecodeOptions{
		Validate: func(rec snapshot.EntityRecord) error {
			return ValidateID(rec.ID)
		},
	}
}

// Restore replaces the population with the one encoded in data, which may
// be any supported snapshot version. Returns how many entities were
// loaded and the ones that were dropped.
//
// On error the population is left as it was.
func (p *Population) Restore(ctx context.Context, data []byte) (int, []snapshot.Warning, error) {
	if p.store == nil {
		return 0, nil, ErrNoSnapshotStore
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if p.Running() {
		return 0, nil, ErrPopulationRunning
	}

	doc, warnings, err := p.store.LoadBytes(data, decodeOptions())
	if err != nil {
		return 0, nil, err
	}
	n, err := p.replace(doc)
	if err != nil {
		return 0, nil, err
	}
	return n, warnings, nil
}

// RestoreLatest is Restore with the newest snapshot in the store's sink.
// Returns snapshot.ErrNoSnapshot when there is none.
func (p *Population) RestoreLatest(ctx context.Context) (int, []snapshot.Warning, error) {
	if p.store == nil {
		return 0, nil, ErrNoSnapshotStore
	}
	if p.Running() {
		return 0, nil, ErrPopulationRunning
	}

	doc, warnings, err := p.store.Load(ctx, decodeOptions())
	if err != nil {
		return 0, nil, err
	}
	n, err := p.replace(doc)
	if err != nil {
		return 0, nil, err
	}
	return n, warnings, nil
}

func (p *Population) replace(doc snapshot.Document) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return 0, ErrPopulationRunning
	}
	if ids := p.drainingLocked(); len(ids) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrRunnersStopping, strings.Join(ids, ", "))
	}

	// Replaced entities end their event streams.
	for _, m := range p.members {
		m.container.outbox.Close()
	}

	members := make(map[string]*member, len(doc.Entities))
	for _, rec := range doc.Entities {
		m := p.newMemberLocked(rec.ID)
		m.container.restore(rec)
		members[rec.ID] = m
	}
	p.members = members

	slog.Info("population restored", "entities", len(members))
	return len(members), nil
}
