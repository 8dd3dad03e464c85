package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adnanbaig/browserfarm/internal/store"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

func seedStore(t *testing.T, dir string) *store.Store {
	t.Helper()

	st, err := store.New(dir)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.Persist(models.SessionRecord{
		InstanceID:   "inst_alpha",
		Fingerprint:  "fp-a",
		ContainerID:  "cont-alpha-0123456789abcdef",
		State:        models.StateRunning,
		CreatedAt:    now.Add(-time.Hour),
		LastActivity: now.Add(-time.Minute),
		Tabs: []models.TabRecord{
			{TabID: "tab_1", TargetID: "T1", Order: 1},
		},
	}))
	require.NoError(t, st.Persist(models.SessionRecord{
		InstanceID:   "inst_beta",
		Fingerprint:  "fp-b",
		State:        models.StateIdlePooled,
		CreatedAt:    now.Add(-10 * time.Minute),
		LastActivity: now.Add(-10 * time.Minute),
	}))
	require.NoError(t, st.Delete("inst_gone"))
	return st
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSessionsList(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := runCLI(t, "sessions", "list", "--state-dir", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "inst_alpha")
	assert.Contains(t, out, "inst_beta")
	assert.Contains(t, out, "IDLE_POOLED")
	assert.NotContains(t, out, "inst_gone", "tombstones hidden by default")
}

func TestSessionsListJSON(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := runCLI(t, "sessions", "list", "--state-dir", dir, "--json")
	require.NoError(t, err)

	var decoded struct {
		Sessions []models.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded.Sessions, 2)
	assert.Equal(t, "inst_beta", decoded.Sessions[0].InstanceID, "newest first")
}

func TestSessionsListWithTombstones(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := runCLI(t, "sessions", "list", "--state-dir", dir, "--tombstones")
	require.NoError(t, err)
	assert.Contains(t, out, "inst_gone")
}

func TestSessionsShow(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := runCLI(t, "sessions", "show", "inst_alpha", "--state-dir", dir)
	require.NoError(t, err)

	var rec models.SessionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "inst_alpha", rec.InstanceID)
	assert.Len(t, rec.Tabs, 1)
}

func TestSessionsShowMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, "sessions", "show", "inst_nope", "--state-dir", dir)
	require.Error(t, err)
}

func TestSessionsPurge(t *testing.T) {
	dir := t.TempDir()
	st := seedStore(t, dir)

	out, err := runCLI(t, "sessions", "purge", "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 tombstone(s)")

	stones, err := st.ListTombstones()
	require.NoError(t, err)
	assert.Empty(t, stones)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
