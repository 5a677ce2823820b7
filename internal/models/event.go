package models

import "time"

// DispatchEvent is published once per launched session. Nothing is ever
// published back about how the session ends.
type DispatchEvent struct {
	RunID        string    `json:"run_id"`
	Host         string    `json:"host"`
	Session      string    `json:"session"`
	Backend      string    `json:"backend"`
	ResourceID   int       `json:"resource_id"`
	Combinations int       `json:"combinations"`
	Commands     []string  `json:"commands"`
	WorkDir      string    `json:"work_dir,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewDispatchEvent builds an event for a freshly launched session with the current timestamp.
func NewDispatchEvent(host string, handle SessionHandle, commands []string) *DispatchEvent {
	return &DispatchEvent{
		RunID:        handle.RunID,
		Host:         host,
		Session:      handle.Name,
		Backend:      handle.Backend,
		ResourceID:   handle.ResourceID,
		Combinations: handle.Combinations,
		Commands:     commands,
		WorkDir:      handle.WorkDir,
		Timestamp:    time.Now().UTC(),
	}
}
