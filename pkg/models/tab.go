package models

import "time"

// Tab represents one page target owned by an instance
type Tab struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instanceId"`
	TargetID     string    `json:"-"`
	Order        int       `json:"order"`
	URL          string    `json:"url,omitempty"`
	Title        string    `json:"title,omitempty"`
	Active       bool      `json:"active"`
	Closed       bool      `json:"closed"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// CreateTabRequest is the payload for opening a new tab
type CreateTabRequest struct {
	URL string `json:"url,omitempty"`
}
