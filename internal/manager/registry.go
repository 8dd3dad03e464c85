package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/adnanbaig/browserfarm/internal/engine"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// tabState is the runtime record of one page target. A tab's parent
// instance never changes; tabs are not reparented.
type tabState struct {
	id           string
	targetID     string
	order        int
	url          string
	title        string
	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

// instance is the runtime record of one engine process. All fields
// behind mu; callers outside this package only ever see snapshots.
type instance struct {
	mu sync.Mutex

	id          string
	fingerprint string
	config      map[string]any
	eng         engine.Engine

	state        models.InstanceState
	createdAt    time.Time
	lastActivity time.Time

	checkedOut bool
	inflight   int
	fatal      bool
	ops        int

	nextOrder int
	tabs      map[string]*tabState
	activeTab string

	// termination must run exactly once even when destroy, eviction
	// and reaping race
	term sync.Once
}

// ID implements pool.Entry
func (i *instance) ID() string { return i.id }

// Fingerprint implements pool.Entry
func (i *instance) Fingerprint() string { return i.fingerprint }

func (i *instance) touch() {
	i.lastActivity = time.Now()
}

// openTabs returns non-closed tabs ordered by creation, caller holds mu
func (i *instance) openTabs() []*tabState {
	open := make([]*tabState, 0, len(i.tabs))
	for _, t := range i.tabs {
		if !t.closed {
			open = append(open, t)
		}
	}
	sort.Slice(open, func(a, b int) bool { return open[a].order < open[b].order })
	return open
}

func (i *instance) openTabIDs() []string {
	open := i.openTabs()
	ids := make([]string, len(open))
	for n, t := range open {
		ids[n] = t.id
	}
	return ids
}

// addTab registers a new tab, caller holds mu
func (i *instance) addTab(id, targetID, url string) *tabState {
	t := &tabState{
		id:           id,
		targetID:     targetID,
		order:        i.nextOrder,
		url:          url,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}
	i.nextOrder++
	i.tabs[id] = t
	if i.activeTab == "" {
		i.activeTab = id
	}
	return t
}

// snapshot builds the externally visible view, caller holds mu
func (i *instance) snapshot() models.Instance {
	open := 0
	for _, t := range i.tabs {
		if !t.closed {
			open++
		}
	}

	var connectURL, containerID string
	if i.eng != nil {
		connectURL = i.eng.ConnectURL()
		containerID = i.eng.ContainerID()
	}

	return models.Instance{
		ID:           i.id,
		Fingerprint:  i.fingerprint,
		State:        i.state,
		CreatedAt:    i.createdAt,
		LastActivity: i.lastActivity,
		CheckedOut:   i.checkedOut,
		Inflight:     i.inflight,
		TabCount:     open,
		ActiveTabID:  i.activeTab,
		ConnectURL:   connectURL,
		ContainerID:  containerID,
		Operations:   i.ops,
	}
}

// tabSnapshot builds the externally visible view of one tab, caller
// holds mu
func (i *instance) tabSnapshot(t *tabState) models.Tab {
	return models.Tab{
		ID:           t.id,
		InstanceID:   i.id,
		TargetID:     t.targetID,
		Order:        t.order,
		URL:          t.url,
		Title:        t.title,
		Active:       i.activeTab == t.id && !t.closed,
		Closed:       t.closed,
		CreatedAt:    t.createdAt,
		LastActivity: t.lastActivity,
	}
}

// record builds the durable twin of this instance, caller holds mu
func (i *instance) record() models.SessionRecord {
	rec := models.SessionRecord{
		InstanceID:   i.id,
		Fingerprint:  i.fingerprint,
		Config:       i.config,
		State:        i.state,
		CreatedAt:    i.createdAt,
		LastActivity: i.lastActivity,
	}
	if i.eng != nil {
		rec.ContainerID = i.eng.ContainerID()
		rec.ConnectURL = i.eng.ConnectURL()
	}
	for _, t := range i.openTabs() {
		rec.Tabs = append(rec.Tabs, models.TabRecord{
			TabID:        t.id,
			TargetID:     t.targetID,
			Order:        t.order,
			URL:          t.url,
			CreatedAt:    t.createdAt,
			LastActivity: t.lastActivity,
		})
	}
	return rec
}
