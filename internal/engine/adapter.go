package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/adnanbaig/browserfarm/internal/fault"
)

// Adapter is the stable contract target operations go through. One
// adapter exists per supported protocol generation, picked once at
// connection time from the engine's reported protocol version.
type Adapter interface {
	OpenTarget(ctx context.Context, url string) (TargetInfo, error)
	CloseTarget(ctx context.Context, targetID string) error
	ActivateTarget(ctx context.Context, targetID string) error
	ListTargets(ctx context.Context) ([]TargetInfo, error)
	Invoke(ctx context.Context, targetID, domain, method string, params map[string]any) (json.RawMessage, error)
}

// newAdapter selects the adapter for a connected engine. All current
// Chromium builds speak DevTools 1.x with flat session attachment;
// anything else is rejected rather than patched around at runtime.
func newAdapter(ctx context.Context, wire *wireClient) (Adapter, error) {
	result, err := wire.call(ctx, "", "Browser.getVersion", nil)
	if err != nil {
		return nil, err
	}

	var version struct {
		ProtocolVersion string `json:"protocolVersion"`
		Product         string `json:"product"`
	}
	if err := json.Unmarshal(result, &version); err != nil {
		return nil, fault.Wrap(err, fault.KindProtocolError, "decode Browser.getVersion")
	}

	if !strings.HasPrefix(version.ProtocolVersion, "1.") {
		return nil, fault.New(fault.KindEngineUnavailable,
			"unsupported protocol version %q (%s)", version.ProtocolVersion, version.Product)
	}

	return &chromiumAdapter{
		wire:     wire,
		sessions: make(map[string]string),
	}, nil
}

// chromiumAdapter drives DevTools 1.x targets with flat sessions
type chromiumAdapter struct {
	wire *wireClient

	mu       sync.Mutex
	sessions map[string]string // targetID -> sessionID
}

func (a *chromiumAdapter) OpenTarget(ctx context.Context, url string) (TargetInfo, error) {
	if url == "" {
		url = "about:blank"
	}

	result, err := a.wire.call(ctx, "", "Target.createTarget", map[string]any{"url": url})
	if err != nil {
		return TargetInfo{}, err
	}

	var created struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return TargetInfo{}, fault.Wrap(err, fault.KindProtocolError, "decode Target.createTarget")
	}

	return TargetInfo{TargetID: created.TargetID, URL: url}, nil
}

func (a *chromiumAdapter) CloseTarget(ctx context.Context, targetID string) error {
	_, err := a.wire.call(ctx, "", "Target.closeTarget", map[string]any{"targetId": targetID})
	if err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.sessions, targetID)
	a.mu.Unlock()
	return nil
}

func (a *chromiumAdapter) ActivateTarget(ctx context.Context, targetID string) error {
	_, err := a.wire.call(ctx, "", "Target.activateTarget", map[string]any{"targetId": targetID})
	return err
}

func (a *chromiumAdapter) ListTargets(ctx context.Context) ([]TargetInfo, error) {
	result, err := a.wire.call(ctx, "", "Target.getTargets", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			URL      string `json:"url"`
			Title    string `json:"title"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fault.Wrap(err, fault.KindProtocolError, "decode Target.getTargets")
	}

	targets := make([]TargetInfo, 0, len(parsed.TargetInfos))
	for _, t := range parsed.TargetInfos {
		if t.Type != "page" {
			continue
		}
		targets = append(targets, TargetInfo{TargetID: t.TargetID, URL: t.URL, Title: t.Title})
	}
	return targets, nil
}

func (a *chromiumAdapter) Invoke(ctx context.Context, targetID, domain, method string, params map[string]any) (json.RawMessage, error) {
	sessionID, err := a.attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return a.wire.call(ctx, sessionID, domain+"."+method, params)
}

// attach establishes (or reuses) a flat protocol session for a target
func (a *chromiumAdapter) attach(ctx context.Context, targetID string) (string, error) {
	a.mu.Lock()
	sessionID, ok := a.sessions[targetID]
	a.mu.Unlock()
	if ok {
		return sessionID, nil
	}

	result, err := a.wire.call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return "", err
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &attached); err != nil {
		return "", fault.Wrap(err, fault.KindProtocolError, "decode Target.attachToTarget")
	}

	a.mu.Lock()
	a.sessions[targetID] = attached.SessionID
	a.mu.Unlock()
	return attached.SessionID, nil
}
