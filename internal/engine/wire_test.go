package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adnanbaig/browserfarm/internal/fault"
)

// devtoolsStub is an in-process endpoint speaking just enough of the
// DevTools wire protocol for the client under test
type devtoolsStub struct {
	mu              sync.Mutex
	protocolVersion string
	nextTarget      int
	targets         map[string]string // targetID -> url
	attaches        int
	silentMethods   map[string]bool
	dropOn          string

	srv *httptest.Server
}

func newDevtoolsStub(t *testing.T) *devtoolsStub {
	t.Helper()

	stub := &devtoolsStub{
		protocolVersion: "1.3",
		targets:         make(map[string]string),
		silentMethods:   make(map[string]bool),
	}

	upgrader := websocket.Upgrader{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		stub.serve(conn)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *devtoolsStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *devtoolsStub) serve(conn *websocket.Conn) {
	for {
		var req wireRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		s.mu.Lock()
		if s.silentMethods[req.Method] {
			s.mu.Unlock()
			continue
		}
		if s.dropOn == req.Method {
			s.mu.Unlock()
			conn.Close()
			return
		}
		result, werr := s.handle(req)
		s.mu.Unlock()

		// Interleave an event before every response; the client must
		// ignore frames without an id
		_ = conn.WriteJSON(map[string]any{
			"method": "Target.targetInfoChanged",
			"params": map[string]any{},
		})

		resp := map[string]any{"id": req.ID}
		if werr != nil {
			resp["error"] = werr
		} else {
			resp["result"] = result
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *devtoolsStub) handle(req wireRequest) (map[string]any, *wireError) {
	switch req.Method {
	case "Browser.getVersion":
		return map[string]any{
			"protocolVersion": s.protocolVersion,
			"product":         "HeadlessChrome/120.0",
		}, nil

	case "Target.createTarget":
		s.nextTarget++
		id := fmt.Sprintf("T%d", s.nextTarget)
		url, _ := req.Params["url"].(string)
		s.targets[id] = url
		return map[string]any{"targetId": id}, nil

	case "Target.closeTarget":
		id, _ := req.Params["targetId"].(string)
		if _, ok := s.targets[id]; !ok {
			return nil, &wireError{Code: -32000, Message: "No target with given id found"}
		}
		delete(s.targets, id)
		return map[string]any{"success": true}, nil

	case "Target.activateTarget":
		return map[string]any{}, nil

	case "Target.getTargets":
		infos := []map[string]any{
			{"targetId": "SW1", "type": "service_worker", "url": "sw.js"},
		}
		for id, url := range s.targets {
			infos = append(infos, map[string]any{"targetId": id, "type": "page", "url": url})
		}
		return map[string]any{"targetInfos": infos}, nil

	case "Target.attachToTarget":
		s.attaches++
		id, _ := req.Params["targetId"].(string)
		return map[string]any{"sessionId": "S-" + id}, nil

	default:
		if req.SessionID == "" {
			return nil, &wireError{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
		}
		return map[string]any{"echo": req.Method}, nil
	}
}

func (s *devtoolsStub) attachCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches
}

func dialStub(t *testing.T, stub *devtoolsStub) (*wireClient, Adapter) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wire, err := dialWire(ctx, stub.url())
	require.NoError(t, err)
	t.Cleanup(func() { wire.close() })

	adapter, err := newAdapter(ctx, wire)
	require.NoError(t, err)
	return wire, adapter
}

func TestAdapterRejectsUnknownProtocolGeneration(t *testing.T) {
	stub := newDevtoolsStub(t)
	stub.protocolVersion = "2.0"

	ctx := context.Background()
	wire, err := dialWire(ctx, stub.url())
	require.NoError(t, err)
	defer wire.close()

	_, err = newAdapter(ctx, wire)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindEngineUnavailable))
}

func TestOpenListCloseTargets(t *testing.T) {
	stub := newDevtoolsStub(t)
	_, adapter := dialStub(t, stub)
	ctx := context.Background()

	opened, err := adapter.OpenTarget(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "about:blank", opened.URL)

	targets, err := adapter.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1, "non-page targets are filtered out")
	assert.Equal(t, opened.TargetID, targets[0].TargetID)

	require.NoError(t, adapter.CloseTarget(ctx, opened.TargetID))

	targets, err = adapter.ListTargets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestCloseUnknownTargetIsProtocolError(t *testing.T) {
	stub := newDevtoolsStub(t)
	_, adapter := dialStub(t, stub)

	err := adapter.CloseTarget(context.Background(), "T-ghost")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindProtocolError))
}

func TestInvokeReusesFlatSession(t *testing.T) {
	stub := newDevtoolsStub(t)
	_, adapter := dialStub(t, stub)
	ctx := context.Background()

	opened, err := adapter.OpenTarget(ctx, "https://example.com")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		raw, err := adapter.Invoke(ctx, opened.TargetID, "Page", "navigate",
			map[string]any{"url": "https://example.com"})
		require.NoError(t, err)

		var echoed map[string]string
		require.NoError(t, json.Unmarshal(raw, &echoed))
		assert.Equal(t, "Page.navigate", echoed["echo"])
	}

	assert.Equal(t, 1, stub.attachCount(), "one attach per target, sessions are reused")
}

func TestCallTimesOut(t *testing.T) {
	stub := newDevtoolsStub(t)
	stub.mu.Lock()
	stub.silentMethods["Target.createTarget"] = true
	stub.mu.Unlock()

	_, adapter := dialStub(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.OpenTarget(ctx, "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindTimedOut))
}

func TestConnectionLossMidCall(t *testing.T) {
	stub := newDevtoolsStub(t)
	stub.mu.Lock()
	stub.dropOn = "Target.createTarget"
	stub.mu.Unlock()

	_, adapter := dialStub(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := adapter.OpenTarget(ctx, "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindEngineUnavailable))
}

func TestCallAfterCloseFailsFast(t *testing.T) {
	stub := newDevtoolsStub(t)
	wire, adapter := dialStub(t, stub)

	require.NoError(t, wire.close())
	// Give the read loop a moment to observe the close
	time.Sleep(50 * time.Millisecond)

	_, err := adapter.OpenTarget(context.Background(), "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindEngineUnavailable))
}
