package cron

import (
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
)

// Entry represents a recurring schedule that starts a new run of a
// registered handler every time it fires.
type Entry struct {
	ratchet.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Handler     string     `json:"handler"`
	Input       []byte     `json:"input,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	Enabled     bool       `json:"enabled"`
}
