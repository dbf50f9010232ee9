// Package backup takes verified point-in-time copies of the sqlite memory
// database, prunes them with a tiered retention policy and restores them.
package backup

import (
	"time"

	"github.com/charmbracelet/log"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the sqlite database file to back up.
	DBPath string

	// Dir is where backups are written.
	Dir string

	// Interval between scheduled backups (default: 1 hour).
	Interval time.Duration

	// Retention decides which backups survive pruning.
	Retention RetentionPolicy

	// SkipVerify disables the integrity check after each backup.
	SkipVerify bool

	Logger *log.Logger
}

// RetentionPolicy defines how many backups to keep at each age tier:
// hourly under 24h, daily under 7d, weekly under 30d, monthly under 365d.
// Anything older is always removed.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Info describes one backup file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes a completed backup.
type Result struct {
	Info
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
	Pruned   []string      `json:"pruned,omitempty"`
}
