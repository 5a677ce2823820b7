package models

import (
	"fmt"
	"time"
)

// SessionHandle identifies a detached session created by a launcher.
// Launches are fire-and-forget: the handle carries no completion status.
type SessionHandle struct {
	Name         string    `json:"name"`
	Backend      string    `json:"backend"`                // "screen", "tmux" or "docker"
	ResourceID   int       `json:"resource_id"`            // Effective (post-remap) device index
	Combinations int       `json:"combinations"`           // Number of grid combinations chained in this session
	WorkDir      string    `json:"work_dir,omitempty"`     // Snapshot directory the session runs from, if any
	ContainerID  string    `json:"container_id,omitempty"` // Only set by the docker backend
	RunID        string    `json:"run_id"`
	LaunchedAt   time.Time `json:"launched_at"`
}

// String returns a human-readable representation of the handle.
func (h SessionHandle) String() string {
	return fmt.Sprintf("Session: %s, Backend: %s, Resource: %d, Combinations: %d, Run: %s",
		h.Name, h.Backend, h.ResourceID, h.Combinations, h.RunID)
}
