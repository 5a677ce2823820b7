package models

import "errors"

// Predefined errors for grid expansion, discovery, staging and launching.
var (
	// ErrInvalidSpec is returned when the grid spec or configuration is malformed.
	ErrInvalidSpec = errors.New("invalid grid spec")

	// ErrResourceDiscovery is returned when the device utilization query fails.
	ErrResourceDiscovery = errors.New("resource discovery failed")

	// ErrNoResourcesAvailable is returned when no idle resource is left to dispatch to.
	ErrNoResourcesAvailable = errors.New("no resources available")

	// ErrSnapshot is returned when staging the source snapshot fails.
	ErrSnapshot = errors.New("snapshot failed")

	// ErrLaunch is returned when a session could not be created.
	ErrLaunch = errors.New("session launch failed")

	// ErrSessionExists is returned when a session with the requested name is already running.
	ErrSessionExists = errors.New("session already exists")
)
