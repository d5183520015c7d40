package models

import "time"

// Stats holds the relay counters.
type Stats struct {
	TweetsForwarded  int64     `json:"tweetsForwarded"`
	ServiceStartTime time.Time `json:"serviceStartTime"`
	LastReset        time.Time `json:"lastReset"`
}

// StatsUpdate is a partial stats update.
type StatsUpdate struct {
	TweetsForwarded *int64 `json:"tweetsForwarded,omitempty"`
}

// Uptime returns the time elapsed since the service started.
func (s Stats) Uptime(now time.Time) time.Duration {
	if s.ServiceStartTime.IsZero() {
		return 0
	}
	return now.Sub(s.ServiceStartTime)
}
