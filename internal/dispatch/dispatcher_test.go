package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/internal/engine"
	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/manager"
	"github.com/adnanbaig/browserfarm/internal/metrics"
	"github.com/adnanbaig/browserfarm/internal/store"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// stubEngine echoes invocations back as JSON
type stubEngine struct {
	mu         sync.Mutex
	nextTarget int
	targets    map[string]bool
}

func (s *stubEngine) ContainerID() string { return "cont-stub" }
func (s *stubEngine) ConnectURL() string  { return "ws://127.0.0.1:3000" }

func (s *stubEngine) OpenTarget(_ context.Context, url string) (engine.TargetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTarget++
	id := fmt.Sprintf("T%d", s.nextTarget)
	s.targets[id] = true
	return engine.TargetInfo{TargetID: id, URL: url}, nil
}

func (s *stubEngine) CloseTarget(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, targetID)
	return nil
}

func (s *stubEngine) ActivateTarget(context.Context, string) error { return nil }

func (s *stubEngine) ListTargets(context.Context) ([]engine.TargetInfo, error) {
	return nil, nil
}

func (s *stubEngine) Invoke(_ context.Context, targetID, domain, method string, params map[string]any) (json.RawMessage, error) {
	echo, _ := json.Marshal(map[string]any{
		"target": targetID,
		"method": domain + "." + method,
		"params": params,
	})
	return echo, nil
}

func (s *stubEngine) Close(context.Context) error { return nil }

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context, string, *config.LaunchSpec) (engine.Engine, error) {
	return &stubEngine{targets: make(map[string]bool)}, nil
}

func (stubLauncher) Attach(context.Context, models.SessionRecord) (engine.Engine, error) {
	return nil, fault.New(fault.KindEngineUnavailable, "not attachable")
}

func (stubLauncher) Probe(context.Context, models.SessionRecord) bool { return false }
func (stubLauncher) Close() error                                     { return nil }

func newDispatcher(t *testing.T) (*Dispatcher, *manager.Manager) {
	t.Helper()

	settings := &config.Settings{
		StateDir:       t.TempDir(),
		MaxInstances:   4,
		PoolCapacity:   1,
		IdleTimeout:    30 * time.Minute,
		TabIdleTimeout: 30 * time.Minute,
		ReapInterval:   time.Minute,
		LaunchTimeout:  time.Second,
		LaunchRetries:  1,
		LaunchBackoff:  time.Millisecond,
		MaxReuseAge:    30 * time.Minute,
		MaxReuseOps:    500,
		MetricsHistory: 50,
	}

	st, err := store.New(settings.StateDir)
	require.NoError(t, err)

	mgr := manager.New(settings, stubLauncher{}, st, metrics.NewCollector(settings.MetricsHistory))
	require.NoError(t, mgr.Reconcile(context.Background()))
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return New(mgr), mgr
}

func TestInvokeForwardsTriple(t *testing.T) {
	d, mgr := newDispatcher(t)

	inst, err := mgr.Create(context.Background(), models.CreateInstanceRequest{})
	require.NoError(t, err)

	res, err := d.Invoke(context.Background(), inst.ID, "", "Page", "navigate",
		map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	assert.Equal(t, inst.ID, res.InstanceID)
	assert.Equal(t, inst.ActiveTabID, res.TabID)
	assert.Equal(t, "Page.navigate", res.Method)

	var echoed map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &echoed))
	assert.Equal(t, "Page.navigate", echoed["method"])
	assert.Equal(t, map[string]any{"url": "https://example.com"}, echoed["params"])
}

func TestInvokeRequiresDomainAndMethod(t *testing.T) {
	d, mgr := newDispatcher(t)

	inst, err := mgr.Create(context.Background(), models.CreateInstanceRequest{})
	require.NoError(t, err)

	_, err = d.Invoke(context.Background(), inst.ID, "", "", "navigate", nil)
	assert.True(t, fault.IsKind(err, fault.KindProtocolError))

	_, err = d.Invoke(context.Background(), inst.ID, "", "Page", "", nil)
	assert.True(t, fault.IsKind(err, fault.KindProtocolError))
}

func TestInvokeUnknownTabListsOpenTabs(t *testing.T) {
	d, mgr := newDispatcher(t)

	inst, err := mgr.Create(context.Background(), models.CreateInstanceRequest{})
	require.NoError(t, err)

	_, err = d.Invoke(context.Background(), inst.ID, "tab_unknown", "Page", "navigate", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{inst.ActiveTabID}, fe.Context["open_tabs"])
}

func TestInvokeUnknownInstance(t *testing.T) {
	d, _ := newDispatcher(t)

	_, err := d.Invoke(context.Background(), "inst_nope", "", "Page", "navigate", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestInvokeDoesNotValidateParams(t *testing.T) {
	d, mgr := newDispatcher(t)

	inst, err := mgr.Create(context.Background(), models.CreateInstanceRequest{})
	require.NoError(t, err)

	// Nonsense domains and params pass through untouched; the engine
	// is the only judge
	res, err := d.Invoke(context.Background(), inst.ID, "", "Imaginary", "doThing",
		map[string]any{"depth": float64(-1)})
	require.NoError(t, err)
	assert.Equal(t, "Imaginary.doThing", res.Method)
}
