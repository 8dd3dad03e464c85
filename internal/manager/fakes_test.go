package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/internal/engine"
	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/metrics"
	"github.com/adnanbaig/browserfarm/internal/store"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// fakeEngine simulates a running engine in memory
type fakeEngine struct {
	mu         sync.Mutex
	id         string
	nextTarget int
	targets    map[string]engine.TargetInfo
	closed     bool

	openErr   error
	invokeErr error
	invoked   []string
}

func newFakeEngine(id string) *fakeEngine {
	return &fakeEngine{id: id, targets: make(map[string]engine.TargetInfo)}
}

func (f *fakeEngine) ContainerID() string { return "cont-" + f.id }
func (f *fakeEngine) ConnectURL() string  { return "ws://127.0.0.1:3000/" + f.id }

func (f *fakeEngine) OpenTarget(_ context.Context, url string) (engine.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return engine.TargetInfo{}, f.openErr
	}
	if url == "" {
		url = "about:blank"
	}
	f.nextTarget++
	info := engine.TargetInfo{TargetID: fmt.Sprintf("%s-T%d", f.id, f.nextTarget), URL: url}
	f.targets[info.TargetID] = info
	return info, nil
}

func (f *fakeEngine) CloseTarget(_ context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.targets[targetID]; !ok {
		return fault.New(fault.KindProtocolError, "no target %s", targetID)
	}
	delete(f.targets, targetID)
	return nil
}

func (f *fakeEngine) ActivateTarget(_ context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.targets[targetID]; !ok {
		return fault.New(fault.KindProtocolError, "no target %s", targetID)
	}
	return nil
}

func (f *fakeEngine) ListTargets(_ context.Context) ([]engine.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.TargetInfo, 0, len(f.targets))
	for _, t := range f.targets {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeEngine) Invoke(_ context.Context, targetID, domain, method string, _ map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if _, ok := f.targets[targetID]; !ok {
		return nil, fault.New(fault.KindProtocolError, "no target %s", targetID)
	}
	f.invoked = append(f.invoked, domain+"."+method)
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeEngine) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEngine) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// fakeLauncher hands out fakeEngines and remembers them
type fakeLauncher struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	engines   []*fakeEngine
	attach    map[string]*fakeEngine
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{attach: make(map[string]*fakeEngine)}
}

func (l *fakeLauncher) Launch(_ context.Context, instanceID string, _ *config.LaunchSpec) (engine.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	eng := newFakeEngine(instanceID)
	l.engines = append(l.engines, eng)
	return eng, nil
}

func (l *fakeLauncher) Attach(_ context.Context, rec models.SessionRecord) (engine.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	eng, ok := l.attach[rec.InstanceID]
	if !ok {
		return nil, fault.New(fault.KindEngineUnavailable, "no engine for %s", rec.InstanceID)
	}
	return eng, nil
}

func (l *fakeLauncher) Probe(_ context.Context, rec models.SessionRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.attach[rec.InstanceID]
	return ok
}

func (l *fakeLauncher) Close() error { return nil }

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) lastEngine() *fakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.engines) == 0 {
		return nil
	}
	return l.engines[len(l.engines)-1]
}

func testSettings(dir string) *config.Settings {
	return &config.Settings{
		ListenAddr:      ":0",
		Image:           "browserless/chrome:latest",
		StateDir:        dir,
		MaxInstances:    4,
		PoolCapacity:    2,
		IdleTimeout:     30 * time.Minute,
		TabIdleTimeout:  30 * time.Minute,
		ReapInterval:    time.Minute,
		LaunchTimeout:   time.Second,
		LaunchRetries:   2,
		LaunchBackoff:   time.Millisecond,
		MaxReuseAge:     30 * time.Minute,
		MaxReuseOps:     500,
		MetricsHistory:  50,
		RequestsPerHour: 1000,
		RequestBurst:    20,
	}
}

type testEnv struct {
	mgr      *Manager
	launcher *fakeLauncher
	store    *store.Store
	settings *config.Settings
}

// newDisconnectedEnv builds a manager without running reconciliation,
// for tests that seed the store first
func newDisconnectedEnv(t *testing.T, settings *config.Settings) *testEnv {
	t.Helper()

	st, err := store.New(settings.StateDir)
	require.NoError(t, err)

	launcher := newFakeLauncher()
	mgr := New(settings, launcher, st, metrics.NewCollector(settings.MetricsHistory))

	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return &testEnv{mgr: mgr, launcher: launcher, store: st, settings: settings}
}

func newTestEnv(t *testing.T, mutate func(*config.Settings)) *testEnv {
	t.Helper()

	settings := testSettings(t.TempDir())
	if mutate != nil {
		mutate(settings)
	}

	st, err := store.New(settings.StateDir)
	require.NoError(t, err)

	launcher := newFakeLauncher()
	mgr := New(settings, launcher, st, metrics.NewCollector(settings.MetricsHistory))
	require.NoError(t, mgr.Reconcile(context.Background()))

	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return &testEnv{mgr: mgr, launcher: launcher, store: st, settings: settings}
}
