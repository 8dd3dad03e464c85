// Package engine launches browser engine processes in containers and
// speaks the DevTools wire protocol to them.
package engine

import (
	"context"
	"encoding/json"

	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// TargetInfo describes one page target inside a running engine
type TargetInfo struct {
	TargetID string
	URL      string
	Title    string
}

// Engine is one running automation engine. Implementations are safe
// for concurrent use; the manager does not serialize calls per target.
type Engine interface {
	ContainerID() string
	ConnectURL() string

	OpenTarget(ctx context.Context, url string) (TargetInfo, error)
	CloseTarget(ctx context.Context, targetID string) error
	ActivateTarget(ctx context.Context, targetID string) error
	ListTargets(ctx context.Context) ([]TargetInfo, error)

	// Invoke forwards a raw (domain, method, params) triple against a
	// target. The triple is opaque: no validation happens here.
	Invoke(ctx context.Context, targetID, domain, method string, params map[string]any) (json.RawMessage, error)

	Close(ctx context.Context) error
}

// Launcher creates, reattaches to, probes and tears down engines
type Launcher interface {
	Launch(ctx context.Context, instanceID string, spec *config.LaunchSpec) (Engine, error)
	Attach(ctx context.Context, rec models.SessionRecord) (Engine, error)
	Probe(ctx context.Context, rec models.SessionRecord) bool
	Close() error
}
