package manager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// resolveTab applies the tab resolution policy, caller holds mu.
//
// An explicitly named tab is returned only if it exists and is open;
// a missing explicit tab is never silently substituted. An omitted
// tabID resolves to the tracked active tab, or deterministically to
// the open tab with the lowest creation order when the active pointer
// is stale, which also repairs the pointer.
func (i *instance) resolveTab(tabID string) (*tabState, error) {
	if tabID != "" {
		tab, ok := i.tabs[tabID]
		if !ok || tab.closed {
			return nil, fault.New(fault.KindNotFound,
				"tab %s not found in instance %s", tabID, i.id).
				With("open_tabs", i.openTabIDs())
		}
		i.activeTab = tab.id
		return tab, nil
	}

	if i.activeTab != "" {
		if tab, ok := i.tabs[i.activeTab]; ok && !tab.closed {
			return tab, nil
		}
		i.activeTab = ""
	}

	open := i.openTabs()
	if len(open) == 0 {
		return nil, fault.New(fault.KindNotFound,
			"instance %s has no open tabs", i.id).
			With("open_tabs", []string{})
	}
	i.activeTab = open[0].id
	return open[0], nil
}

// Resolve locates the tab an operation should run against. tabID may
// be empty, in which case the instance's active tab is used.
func (m *Manager) Resolve(instanceID, tabID string) (models.Tab, error) {
	inst, err := m.lookup(instanceID)
	if err != nil {
		return models.Tab{}, m.enrich(err, "tab.resolve", instanceID, tabID)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	tab, terr := inst.resolveTab(tabID)
	if terr != nil {
		return models.Tab{}, m.enrich(terr, "tab.resolve", instanceID, tabID)
	}
	return inst.tabSnapshot(tab), nil
}

// TargetOp is one in-flight operation against a resolved tab. The
// in-flight reference is held until End is called; End must run on
// every exit path.
type TargetOp struct {
	Tab models.Tab

	m     *Manager
	inst  *instance
	tab   *tabState
	kind  string
	start time.Time
	done  bool
}

// BeginTargetOp resolves a tab and pins it with an in-flight
// reference, keeping the reaper away for the duration of the
// operation
func (m *Manager) BeginTargetOp(instanceID, tabID, kind string) (*TargetOp, error) {
	inst, err := m.lookup(instanceID)
	if err != nil {
		return nil, m.enrich(err, kind, instanceID, tabID)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	tab, terr := inst.resolveTab(tabID)
	if terr != nil {
		return nil, m.enrich(terr, kind, instanceID, tabID)
	}
	inst.inflight++

	return &TargetOp{
		Tab:   inst.tabSnapshot(tab),
		m:     m,
		inst:  inst,
		tab:   tab,
		kind:  kind,
		start: time.Now(),
	}, nil
}

// Invoke forwards a raw protocol command against the pinned tab
func (op *TargetOp) Invoke(ctx context.Context, domain, method string, params map[string]any) (json.RawMessage, error) {
	op.inst.mu.Lock()
	eng := op.inst.eng
	op.inst.mu.Unlock()
	return eng.Invoke(ctx, op.tab.targetID, domain, method, params)
}

// End releases the in-flight reference and records the outcome.
// Successful operations refresh the activity timestamps.
func (op *TargetOp) End(success bool) {
	if op.done {
		return
	}
	op.done = true

	op.inst.mu.Lock()
	op.inst.inflight--
	op.inst.ops++
	if success {
		op.inst.touch()
		op.tab.lastActivity = time.Now()
	}
	op.inst.mu.Unlock()

	op.m.metrics.Record(op.inst.id, op.kind, time.Since(op.start), success)
}

// Enrich applies the failure wrapper for operations running through
// this op's target
func (op *TargetOp) Enrich(err error) error {
	return op.m.enrich(err, op.kind, op.inst.id, op.Tab.ID)
}
