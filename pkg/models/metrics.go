package models

import "time"

// Sample is one recorded operation timing
type Sample struct {
	At       time.Time     `json:"at"`
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
}

// Aggregate summarizes recorded samples
type Aggregate struct {
	Count       int           `json:"count"`
	ErrorRate   float64       `json:"errorRate"`
	AvgDuration time.Duration `json:"avgDuration"`
}
