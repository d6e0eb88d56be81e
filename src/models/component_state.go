package models

// -----------------------------------------------------------------------------
// Component Lifecycle States
// -----------------------------------------------------------------------------

// ComponentState tracks the lifecycle of an orchestrator-managed component.
// CRASHED is per-component; FAILED means the restart budget is exhausted.
type ComponentState string

const (
	StateCreated  ComponentState = "CREATED"
	StateStarting ComponentState = "STARTING"
	StateRunning  ComponentState = "RUNNING"
	StateStopping ComponentState = "STOPPING"
	StateStopped  ComponentState = "STOPPED"
	StateCrashed  ComponentState = "CRASHED"
	StateFailed   ComponentState = "FAILED"
)
