package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := New(KindNotFound, "instance %q not found", "inst_1")
	wrapped := Wrap(fmt.Errorf("create instance: %w", inner), KindInternal, "create failed")

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))
}

func TestWrapClassifiesPlainError(t *testing.T) {
	plain := errors.New("dial tcp: connection refused")
	wrapped := Wrap(plain, KindEngineUnavailable, "engine unreachable")

	assert.Equal(t, KindEngineUnavailable, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, plain)
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWithChainsContext(t *testing.T) {
	err := New(KindResourceBusy, "instance busy").
		With("instance_id", "inst_1").
		With("open_tabs", []string{"tab_a", "tab_b"})

	require.NotNil(t, err.Context)
	assert.Equal(t, "inst_1", err.Context["instance_id"])
	assert.Equal(t, []string{"tab_a", "tab_b"}, err.Context["open_tabs"])
}

func TestEnrichNilError(t *testing.T) {
	assert.NoError(t, Enrich(nil, "instances.create", nil))
}

func TestEnrichAttachesSnapshot(t *testing.T) {
	err := Enrich(New(KindNotFound, "tab not found"), "tabs.close", func() (map[string]any, error) {
		return map[string]any{"state": "RUNNING", "tab_count": 2}, nil
	})

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNotFound, fe.Kind)
	assert.Equal(t, "tabs.close", fe.Context["operation"])
	assert.Equal(t, "RUNNING", fe.Context["state"])
	assert.Equal(t, 2, fe.Context["tab_count"])
}

func TestEnrichSnapshotFailureDegrades(t *testing.T) {
	err := Enrich(New(KindTimedOut, "deadline exceeded"), "protocol.invoke", func() (map[string]any, error) {
		return nil, errors.New("engine gone")
	})

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimedOut, fe.Kind, "snapshot failure must not rewrite the kind")
	assert.Equal(t, "snapshot_unavailable", fe.Context["snapshot"])
}

func TestEnrichSnapshotPanicDegrades(t *testing.T) {
	err := Enrich(New(KindProtocolError, "bad response"), "protocol.invoke", func() (map[string]any, error) {
		panic("nil map write")
	})

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindProtocolError, fe.Kind)
	assert.Equal(t, "snapshot_unavailable", fe.Context["snapshot"])
}

func TestEnrichWrapsUnclassified(t *testing.T) {
	err := Enrich(errors.New("unexpected EOF"), "instances.get", nil)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindInternal, fe.Kind)
	assert.Equal(t, "instances.get", fe.Context["operation"])
}
