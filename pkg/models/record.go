package models

import "time"

// TabRecord is the durable twin of a Tab. Tab records are embedded in
// their instance record so deleting an instance always cascades.
type TabRecord struct {
	TabID        string    `json:"tabId"`
	TargetID     string    `json:"targetId"`
	Order        int       `json:"order"`
	URL          string    `json:"url,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// SessionRecord is the durable twin of an Instance, carrying enough
// metadata to attempt reattachment after a process restart
type SessionRecord struct {
	InstanceID   string         `json:"instanceId"`
	Fingerprint  string         `json:"fingerprint"`
	ContainerID  string         `json:"containerId"`
	ConnectURL   string         `json:"connectUrl"`
	Config       map[string]any `json:"config,omitempty"`
	State        InstanceState  `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Tabs         []TabRecord    `json:"tabs,omitempty"`
}

// Tombstone marks an instance that was explicitly destroyed
type Tombstone struct {
	InstanceID   string    `json:"instanceId"`
	Fingerprint  string    `json:"fingerprint"`
	TerminatedAt time.Time `json:"terminatedAt"`
}
