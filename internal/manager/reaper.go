package manager

import (
	"context"
	"log/slog"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// StartReaper begins the periodic idle sweep. The reference count is
// the authoritative busy signal: an entity with in-flight work is
// never reclaimed no matter how stale its timestamp looks.
func (m *Manager) StartReaper(ctx context.Context) {
	m.mu.Lock()
	if m.reaperStop != nil {
		m.mu.Unlock()
		return
	}
	m.reaperStop = make(chan struct{})
	m.reaperDone = make(chan struct{})
	stop, done := m.reaperStop, m.reaperDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.settings.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.reapOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopReaper halts the sweep and waits for an in-progress pass
func (m *Manager) StopReaper() {
	m.mu.Lock()
	stop, done := m.reaperStop, m.reaperDone
	m.reaperStop, m.reaperDone = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// reapOnce sweeps the registry and the idle pool
func (m *Manager) reapOnce(ctx context.Context) {
	log := slogctx.FromCtx(ctx)
	now := time.Now()

	m.mu.RLock()
	all := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		all = append(all, inst)
	}
	m.mu.RUnlock()

	for _, inst := range all {
		inst.mu.Lock()
		idle := now.Sub(inst.lastActivity) > m.settings.IdleTimeout
		busy := inst.inflight > 0 || inst.checkedOut
		id := inst.id
		inst.mu.Unlock()

		if idle && !busy {
			log.Info("reaping idle instance", slog.String("instance_id", id))
			if err := m.Destroy(ctx, id, true); err != nil {
				log.Warn("idle reap failed",
					slog.String("instance_id", id),
					slog.String("error", err.Error()))
			}
			continue
		}

		m.reapIdleTabs(ctx, inst, now)
	}

	// Pooled instances share the idle threshold; the pool takes the
	// same bucket locks acquire does, so a reaped entry cannot also be
	// handed to a concurrent create
	if reaped := m.pool.ReapIdle(now.Add(-m.settings.IdleTimeout)); reaped > 0 {
		log.Info("reaped idle pooled instances", slog.Int("count", reaped))
	}
}

// reapIdleTabs closes tabs idle past their own threshold. The last
// open tab is left alone; whole-instance idleness is the instance
// sweep's job.
func (m *Manager) reapIdleTabs(ctx context.Context, inst *instance, now time.Time) {
	log := slogctx.FromCtx(ctx)

	inst.mu.Lock()
	if inst.inflight > 0 || inst.checkedOut {
		inst.mu.Unlock()
		return
	}
	open := inst.openTabs()
	var victims []string
	for _, t := range open {
		if len(open)-len(victims) <= 1 {
			break
		}
		if now.Sub(t.lastActivity) > m.settings.TabIdleTimeout {
			victims = append(victims, t.id)
		}
	}
	id := inst.id
	inst.mu.Unlock()

	for _, tabID := range victims {
		log.Info("reaping idle tab",
			slog.String("instance_id", id),
			slog.String("tab_id", tabID))
		if err := m.CloseTab(ctx, id, tabID); err != nil {
			log.Warn("idle tab reap failed",
				slog.String("instance_id", id),
				slog.String("tab_id", tabID),
				slog.String("error", err.Error()))
		}
	}
}
