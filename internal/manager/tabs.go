package manager

import (
	"context"
	"time"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// OpenTab creates a new tab in an instance and makes it active
func (m *Manager) OpenTab(ctx context.Context, instanceID, url string) (out models.Tab, err error) {
	start := time.Now()
	defer func() { m.metrics.Record(instanceID, "tab.open", time.Since(start), err == nil) }()
	defer func() { err = m.enrich(err, "tab.open", instanceID, "") }()

	inst, err := m.lookup(instanceID)
	if err != nil {
		return models.Tab{}, err
	}

	inst.mu.Lock()
	if len(inst.openTabs()) >= maxTabsPerInstance {
		inst.mu.Unlock()
		return models.Tab{}, fault.New(fault.KindCapacityExceeded,
			"instance %s already has %d tabs", instanceID, maxTabsPerInstance)
	}
	inst.inflight++
	eng := inst.eng
	inst.mu.Unlock()

	info, oerr := eng.OpenTarget(ctx, url)

	inst.mu.Lock()
	inst.inflight--
	if oerr != nil {
		inst.mu.Unlock()
		return models.Tab{}, oerr
	}
	tab := inst.addTab(newTabID(), info.TargetID, info.URL)
	inst.activeTab = tab.id
	inst.ops++
	inst.touch()
	snap := inst.tabSnapshot(tab)
	inst.mu.Unlock()

	m.persist(ctx, inst)
	return snap, nil
}

// CloseTab closes an explicitly named tab. The instance survives; if
// the closed tab was active the next resolve picks a replacement.
func (m *Manager) CloseTab(ctx context.Context, instanceID, tabID string) (err error) {
	start := time.Now()
	defer func() { m.metrics.Record(instanceID, "tab.close", time.Since(start), err == nil) }()
	defer func() { err = m.enrich(err, "tab.close", instanceID, tabID) }()

	inst, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	tab, terr := inst.resolveTab(tabID)
	if terr != nil {
		inst.mu.Unlock()
		return terr
	}
	inst.inflight++
	eng := inst.eng
	targetID := tab.targetID
	inst.mu.Unlock()

	cerr := eng.CloseTarget(ctx, targetID)

	inst.mu.Lock()
	inst.inflight--
	if cerr != nil {
		inst.mu.Unlock()
		return cerr
	}
	tab.closed = true
	if inst.activeTab == tab.id {
		inst.activeTab = ""
	}
	inst.ops++
	inst.touch()
	inst.mu.Unlock()

	m.persist(ctx, inst)
	return nil
}

// ListTabs returns all open tabs of an instance in creation order
func (m *Manager) ListTabs(instanceID string) ([]models.Tab, error) {
	inst, err := m.lookup(instanceID)
	if err != nil {
		return nil, m.enrich(err, "tab.list", instanceID, "")
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	open := inst.openTabs()
	out := make([]models.Tab, len(open))
	for i, t := range open {
		out[i] = inst.tabSnapshot(t)
	}
	return out, nil
}

// GetTab returns the current view of one tab
func (m *Manager) GetTab(instanceID, tabID string) (models.Tab, error) {
	inst, err := m.lookup(instanceID)
	if err != nil {
		return models.Tab{}, m.enrich(err, "tab.get", instanceID, tabID)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	tab, terr := inst.resolveTab(tabID)
	if terr != nil {
		return models.Tab{}, m.enrich(terr, "tab.get", instanceID, tabID)
	}
	return inst.tabSnapshot(tab), nil
}

// ActivateTab brings a tab to the foreground and moves the active
// pointer to it
func (m *Manager) ActivateTab(ctx context.Context, instanceID, tabID string) (err error) {
	start := time.Now()
	defer func() { m.metrics.Record(instanceID, "tab.activate", time.Since(start), err == nil) }()
	defer func() { err = m.enrich(err, "tab.activate", instanceID, tabID) }()

	inst, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	tab, terr := inst.resolveTab(tabID)
	if terr != nil {
		inst.mu.Unlock()
		return terr
	}
	inst.inflight++
	eng := inst.eng
	targetID := tab.targetID
	inst.mu.Unlock()

	aerr := eng.ActivateTarget(ctx, targetID)

	inst.mu.Lock()
	inst.inflight--
	if aerr != nil {
		inst.mu.Unlock()
		return aerr
	}
	inst.activeTab = tab.id
	tab.lastActivity = time.Now()
	inst.ops++
	inst.touch()
	inst.mu.Unlock()

	return nil
}
