package cron

import (
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/id"
)

// Entry represents a recurring command schedule.
type Entry struct {
	conduct.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	CommandType string     `json:"command_type"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	Profile     string     `json:"profile,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	Enabled     bool       `json:"enabled"`
}
