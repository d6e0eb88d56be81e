package interfaces

import (
	"time"

	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// IComponent is the lifecycle contract the orchestrator manages. Publishers
// and subscribers both implement it; the orchestrator holds this type only.
// -----------------------------------------------------------------------------

type IComponent interface {

	// Name returns the unique identifier of the component
	Name() string

	// -----------------------------------------------------------------------------

	// Start launches the component's worker. Must be restartable after Stop.
	Start() error

	// Stop signals cancellation and waits (bounded) for in-flight work
	Stop() error

	// -----------------------------------------------------------------------------

	// State returns the current lifecycle state
	State() models.ComponentState

	// LastHeartbeat returns the time of the component's most recent sign of life
	LastHeartbeat() time.Time
}
