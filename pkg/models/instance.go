package models

import "time"

// InstanceState represents the lifecycle state of a browser instance
type InstanceState string

const (
	StateStarting   InstanceState = "STARTING"
	StateRunning    InstanceState = "RUNNING"
	StateIdlePooled InstanceState = "IDLE_POOLED"
	StateStopping   InstanceState = "STOPPING"
	StateTerminated InstanceState = "TERMINATED"
)

// Instance represents a managed browser engine process
type Instance struct {
	ID           string        `json:"id"`
	Fingerprint  string        `json:"fingerprint"`
	State        InstanceState `json:"state"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastActivity time.Time     `json:"lastActivity"`
	CheckedOut   bool          `json:"checkedOut"`
	Inflight     int           `json:"inflight"`
	TabCount     int           `json:"tabCount"`
	ActiveTabID  string        `json:"activeTabId,omitempty"`
	ConnectURL   string        `json:"connectUrl,omitempty"`
	ContainerID  string        `json:"-"`
	Operations   int           `json:"operations"`
}

// InstanceSummary is one entry of a list() response, an Instance
// merged with its metric aggregates
type InstanceSummary struct {
	Instance
	Metrics Aggregate `json:"metrics"`
}

// CreateInstanceRequest is the payload for creating a new instance.
// Config is an arbitrary nested structure; it is normalized and
// fingerprinted before use.
type CreateInstanceRequest struct {
	Config    map[string]any `json:"config,omitempty"`
	TimeoutMS int            `json:"timeoutMs,omitempty"`
}

// InvokeRequest is the payload for the raw-protocol escape hatch
type InvokeRequest struct {
	TabID  string         `json:"tabId,omitempty"`
	Domain string         `json:"domain"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}
