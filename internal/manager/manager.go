// Package manager orchestrates instance and tab lifecycle: creation,
// pooling, persistence, resolution and reclamation. The registry is an
// arena owned by the Manager; nothing outside this package holds a
// reference into it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/semaphore"

	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/internal/engine"
	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/metrics"
	"github.com/adnanbaig/browserfarm/internal/pool"
	"github.com/adnanbaig/browserfarm/internal/store"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

const maxTabsPerInstance = 10

// Manager is the single orchestrator external callers address
type Manager struct {
	settings *config.Settings
	launcher engine.Launcher
	store    *store.Store
	metrics  *metrics.Collector
	options  *config.OptionsCache
	pool     *pool.Pool

	// sem caps live instances: held from launch (or reattach) until
	// actual termination, carried across pool round trips
	sem *semaphore.Weighted

	mu        sync.RWMutex
	instances map[string]*instance
	ready     bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

func New(settings *config.Settings, launcher engine.Launcher, st *store.Store, collector *metrics.Collector) *Manager {
	m := &Manager{
		settings:  settings,
		launcher:  launcher,
		store:     st,
		metrics:   collector,
		options:   config.NewOptionsCache(collector),
		sem:       semaphore.NewWeighted(int64(settings.MaxInstances)),
		instances: make(map[string]*instance),
	}
	m.pool = pool.New(settings.PoolCapacity, m.terminateEntry)
	return m
}

// Reconcile reloads persisted session records, reattaches to still
// reachable engines and purges the rest. It must complete before any
// create or destroy is accepted.
func (m *Manager) Reconcile(ctx context.Context) error {
	log := slogctx.FromCtx(ctx)

	records, err := m.store.Reconcile(ctx, m.launcher.Probe)
	if err != nil {
		return fmt.Errorf("load session records: %w", err)
	}

	for _, rec := range records {
		if err := m.readmit(ctx, rec); err != nil {
			log.Warn("could not reattach to recorded instance",
				slog.String("instance_id", rec.InstanceID),
				slog.String("error", err.Error()))
			if derr := m.store.Delete(rec.InstanceID); derr != nil {
				log.Error("failed to drop stale record", slog.String("instance_id", rec.InstanceID))
			}
		}
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()

	log.Info("session reconciliation complete", slog.Int("reattached", m.count()))
	return nil
}

// readmit rebuilds one instance runtime from its persisted record
func (m *Manager) readmit(ctx context.Context, rec models.SessionRecord) error {
	eng, err := m.launcher.Attach(ctx, rec)
	if err != nil {
		return err
	}

	if !m.sem.TryAcquire(1) {
		_ = eng.Close(ctx)
		return fault.New(fault.KindCapacityExceeded, "no capacity to re-admit instance %s", rec.InstanceID)
	}

	inst := &instance{
		id:           rec.InstanceID,
		fingerprint:  rec.Fingerprint,
		config:       rec.Config,
		eng:          eng,
		state:        models.StateRunning,
		createdAt:    rec.CreatedAt,
		lastActivity: rec.LastActivity,
		tabs:         make(map[string]*tabState),
	}

	// Recorded tabs are only re-admitted if their target still exists
	live, err := eng.ListTargets(ctx)
	alive := make(map[string]engine.TargetInfo, len(live))
	if err == nil {
		for _, t := range live {
			alive[t.TargetID] = t
		}
	}

	for _, tr := range rec.Tabs {
		info, ok := alive[tr.TargetID]
		if !ok {
			continue
		}
		t := &tabState{
			id:           tr.TabID,
			targetID:     tr.TargetID,
			order:        tr.Order,
			url:          info.URL,
			title:        info.Title,
			createdAt:    tr.CreatedAt,
			lastActivity: tr.LastActivity,
		}
		inst.tabs[t.id] = t
		if inst.nextOrder <= t.order {
			inst.nextOrder = t.order + 1
		}
		if inst.activeTab == "" {
			inst.activeTab = t.id
		}
	}

	m.mu.Lock()
	m.instances[inst.id] = inst
	m.mu.Unlock()

	m.persist(ctx, inst)
	return nil
}

// Create returns a pooled instance for the configuration's fingerprint
// when one is idle, otherwise launches a fresh engine
func (m *Manager) Create(ctx context.Context, req models.CreateInstanceRequest) (out models.Instance, err error) {
	if err := m.ensureReady(); err != nil {
		return models.Instance{}, err
	}
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		id := ""
		if err == nil {
			id = out.ID
		}
		m.metrics.Record(id, "instance.create", time.Since(start), err == nil)
	}()
	defer func() { err = m.enrich(err, "instance.create", "", "") }()

	fingerprint, err := config.Fingerprint(req.Config)
	if err != nil {
		return models.Instance{}, err
	}

	if inst := m.pool.Acquire(fingerprint); inst != nil {
		return m.activatePooled(ctx, inst.(*instance))
	}

	if !m.sem.TryAcquire(1) {
		return models.Instance{}, fault.New(fault.KindCapacityExceeded,
			"maximum instance limit (%d) reached", m.settings.MaxInstances)
	}

	inst, err := m.launchNew(ctx, fingerprint, req.Config)
	if err != nil {
		m.sem.Release(1)
		return models.Instance{}, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.snapshot(), nil
}

// activatePooled brings an idle pooled instance back into service
func (m *Manager) activatePooled(ctx context.Context, inst *instance) (models.Instance, error) {
	log := slogctx.FromCtx(ctx)

	inst.mu.Lock()
	inst.state = models.StateRunning
	inst.touch()
	eng := inst.eng
	inst.mu.Unlock()

	// Pooled instances were drained of tabs on release; give the
	// caller a fresh default tab
	info, err := eng.OpenTarget(ctx, "")
	if err != nil {
		// The pooled engine died while idle; terminate it and fall
		// back to a fresh launch
		log.Warn("pooled instance unusable, launching fresh",
			slog.String("instance_id", inst.id),
			slog.String("error", err.Error()))
		m.terminateEntry(inst) // releases the pooled capacity slot

		if !m.sem.TryAcquire(1) {
			return models.Instance{}, fault.New(fault.KindCapacityExceeded,
				"maximum instance limit (%d) reached", m.settings.MaxInstances)
		}
		inst2, lerr := m.launchNew(ctx, inst.fingerprint, inst.config)
		if lerr != nil {
			m.sem.Release(1)
			return models.Instance{}, lerr
		}
		inst2.mu.Lock()
		defer inst2.mu.Unlock()
		return inst2.snapshot(), nil
	}

	inst.mu.Lock()
	tab := inst.addTab(newTabID(), info.TargetID, info.URL)
	inst.activeTab = tab.id
	snap := inst.snapshot()
	inst.mu.Unlock()

	m.mu.Lock()
	m.instances[inst.id] = inst
	m.mu.Unlock()

	m.persist(ctx, inst)
	log.Info("reused pooled instance", slog.String("instance_id", inst.id))
	return snap, nil
}

// launchNew starts a fresh engine with bounded retry and backoff
func (m *Manager) launchNew(ctx context.Context, fingerprint string, cfg map[string]any) (*instance, error) {
	log := slogctx.FromCtx(ctx)

	spec, err := m.options.Parse(fingerprint, cfg)
	if err != nil {
		return nil, err
	}

	id := newInstanceID()

	var eng engine.Engine
	var lastErr error
	for attempt := 1; attempt <= m.settings.LaunchRetries; attempt++ {
		launchCtx, cancel := context.WithTimeout(ctx, m.settings.LaunchTimeout)
		eng, lastErr = m.launcher.Launch(launchCtx, id, spec)
		cancel()

		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fault.Wrap(ctx.Err(), fault.KindTimedOut, "instance creation timed out")
		}

		log.Warn("engine launch failed",
			slog.String("instance_id", id),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))

		if attempt < m.settings.LaunchRetries {
			select {
			case <-ctx.Done():
				return nil, fault.Wrap(ctx.Err(), fault.KindTimedOut, "instance creation timed out")
			case <-time.After(time.Duration(attempt) * m.settings.LaunchBackoff):
			}
		}
	}
	if lastErr != nil {
		return nil, fault.Wrap(lastErr, fault.KindEngineUnavailable,
			fmt.Sprintf("engine launch failed after %d attempts", m.settings.LaunchRetries))
	}

	inst := &instance{
		id:           id,
		fingerprint:  fingerprint,
		config:       cfg,
		eng:          eng,
		state:        models.StateRunning,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		tabs:         make(map[string]*tabState),
	}

	// Engines expose one page target at startup; register it as the
	// default tab, or open one if the engine came up empty
	targets, terr := eng.ListTargets(ctx)
	if terr != nil || len(targets) == 0 {
		if info, oerr := eng.OpenTarget(ctx, ""); oerr == nil {
			targets = []engine.TargetInfo{info}
		}
	}

	inst.mu.Lock()
	for _, t := range targets {
		inst.addTab(newTabID(), t.TargetID, t.URL)
		break // only the first startup target becomes the default tab
	}
	inst.mu.Unlock()

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	m.persist(ctx, inst)
	log.Info("instance created",
		slog.String("instance_id", id),
		slog.String("fingerprint", fingerprint))
	return inst, nil
}

// Destroy tears an instance down, or returns it to the pool when it is
// still reuse-eligible. With force=false an instance with open tabs is
// refused.
func (m *Manager) Destroy(ctx context.Context, id string, force bool) (err error) {
	if err := m.ensureReady(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { m.metrics.Record(id, "instance.destroy", time.Since(start), err == nil) }()
	defer func() { err = m.enrich(err, "instance.destroy", id, "") }()

	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	m.mu.Unlock()
	if !ok {
		return fault.New(fault.KindNotFound, "instance %s not found", id)
	}

	inst.mu.Lock()
	if open := inst.openTabIDs(); len(open) > 0 && !force {
		inst.mu.Unlock()
		// Put it back; nothing changed
		m.mu.Lock()
		m.instances[id] = inst
		m.mu.Unlock()
		return fault.New(fault.KindResourceBusy,
			"instance %s has %d open tabs", id, len(open)).
			With("open_tabs", open)
	}

	inst.state = models.StateStopping
	eng := inst.eng
	openTabs := inst.openTabs()
	inst.mu.Unlock()

	// Cascade: close every open tab
	for _, t := range openTabs {
		if cerr := eng.CloseTarget(ctx, t.targetID); cerr != nil {
			slogctx.FromCtx(ctx).Warn("tab close failed during destroy",
				slog.String("instance_id", id),
				slog.String("tab_id", t.id),
				slog.String("error", cerr.Error()))
		}
		inst.mu.Lock()
		t.closed = true
		if inst.activeTab == t.id {
			inst.activeTab = ""
		}
		inst.mu.Unlock()
	}

	if m.reuseEligible(inst) {
		inst.mu.Lock()
		inst.state = models.StateIdlePooled
		inst.touch()
		inst.mu.Unlock()

		if m.pool.Release(inst) {
			if serr := m.store.MarkIdle(id, time.Now()); serr != nil {
				slogctx.FromCtx(ctx).Warn("failed to mark record idle",
					slog.String("instance_id", id),
					slog.String("error", serr.Error()))
			}
			slogctx.FromCtx(ctx).Info("instance pooled for reuse", slog.String("instance_id", id))
			return nil
		}
	}

	m.terminate(ctx, inst)
	return nil
}

// reuseEligible applies the pooling policy: no fatal error recorded,
// no in-flight work, under the reuse age and operation bounds
func (m *Manager) reuseEligible(inst *instance) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.fatal || inst.checkedOut || inst.inflight > 0 {
		return false
	}
	if time.Since(inst.createdAt) > m.settings.MaxReuseAge {
		return false
	}
	if inst.ops >= m.settings.MaxReuseOps {
		return false
	}
	return true
}

// Get returns the current view of one instance
func (m *Manager) Get(id string) (models.Instance, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return models.Instance{}, m.enrich(
			fault.New(fault.KindNotFound, "instance %s not found", id),
			"instance.get", id, "")
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.snapshot(), nil
}

// List enumerates all registered instances merged with their metric
// aggregates
func (m *Manager) List() []models.InstanceSummary {
	m.mu.RLock()
	all := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		all = append(all, inst)
	}
	m.mu.RUnlock()

	out := make([]models.InstanceSummary, 0, len(all))
	for _, inst := range all {
		inst.mu.Lock()
		snap := inst.snapshot()
		inst.mu.Unlock()
		out = append(out, models.InstanceSummary{
			Instance: snap,
			Metrics:  m.metrics.Aggregate(snap.ID),
		})
	}
	return out
}

// GlobalMetrics returns the all-instance aggregate plus cache counters
func (m *Manager) GlobalMetrics() (models.Aggregate, int64, int64) {
	hits, misses := m.metrics.CacheCounts()
	return m.metrics.Aggregate(""), hits, misses
}

// Shutdown stops the reaper and terminates every instance, pooled ones
// included
func (m *Manager) Shutdown(ctx context.Context) {
	m.StopReaper()

	m.mu.Lock()
	all := make([]*instance, 0, len(m.instances))
	for id, inst := range m.instances {
		all = append(all, inst)
		delete(m.instances, id)
	}
	m.ready = false
	m.mu.Unlock()

	for _, inst := range all {
		m.terminate(ctx, inst)
	}
	m.pool.Drain()
}

// terminate stops the engine and writes the tombstone, exactly once
func (m *Manager) terminate(ctx context.Context, inst *instance) {
	inst.term.Do(func() {
		log := slogctx.FromCtx(ctx)

		inst.mu.Lock()
		inst.state = models.StateStopping
		eng := inst.eng
		inst.mu.Unlock()

		if eng != nil {
			if err := eng.Close(ctx); err != nil {
				log.Warn("engine shutdown failed",
					slog.String("instance_id", inst.id),
					slog.String("error", err.Error()))
			}
		}

		inst.mu.Lock()
		inst.state = models.StateTerminated
		inst.mu.Unlock()

		if err := m.store.Delete(inst.id); err != nil {
			log.Warn("failed to write tombstone",
				slog.String("instance_id", inst.id),
				slog.String("error", err.Error()))
		}
		m.metrics.Forget(inst.id)
		m.sem.Release(1)

		log.Info("instance terminated", slog.String("instance_id", inst.id))
	})
}

// terminateEntry adapts terminate for pool eviction callbacks
func (m *Manager) terminateEntry(e pool.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.terminate(ctx, e.(*instance))
}

func (m *Manager) ensureReady() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return fault.New(fault.KindEngineUnavailable, "session reconciliation has not completed")
	}
	return nil
}

func (m *Manager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// lookup fetches a registry entry without exposing it outside the
// package
func (m *Manager) lookup(id string) (*instance, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.KindNotFound, "instance %s not found", id)
	}
	return inst, nil
}

// persist writes the instance's durable record; store writes may lag
// the registry and are repaired by the next reconciliation
func (m *Manager) persist(ctx context.Context, inst *instance) {
	inst.mu.Lock()
	rec := inst.record()
	inst.mu.Unlock()

	if err := m.store.Persist(rec); err != nil {
		slogctx.FromCtx(ctx).Warn("session record write failed",
			slog.String("instance_id", inst.id),
			slog.String("error", err.Error()))
	}
}

// enrich is the failure-path wrapper every exposed operation funnels
// through: classification preserved, best-effort state snapshot
// attached
func (m *Manager) enrich(err error, op, instanceID, tabID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fault.Wrap(err, fault.KindTimedOut, op+" timed out")
	}
	return fault.Enrich(err, op, m.snapshotFn(instanceID, tabID))
}

// snapshotFn captures the observable state of the operation's target
func (m *Manager) snapshotFn(instanceID, tabID string) fault.Snapshot {
	if instanceID == "" {
		return nil
	}
	return func() (map[string]any, error) {
		inst, err := m.lookup(instanceID)
		if err != nil {
			return map[string]any{"instance_id": instanceID, "instance_state": "unregistered"}, nil
		}

		inst.mu.Lock()
		defer inst.mu.Unlock()
		state := map[string]any{
			"instance_id":    instanceID,
			"instance_state": string(inst.state),
			"open_tabs":      inst.openTabIDs(),
			"active_tab":     inst.activeTab,
		}
		if tabID != "" {
			state["tab_id"] = tabID
		}
		return state, nil
	}
}

func newInstanceID() string {
	return "inst_" + uuid.NewString()
}

func newTabID() string {
	return "tab_" + uuid.New().String()[:8]
}
