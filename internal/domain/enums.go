package domain

// RunPhase represents the phase of a catalog sync run
type RunPhase string

const (
	// IDLE - No run has started since the process came up
	RunPhaseIdle RunPhase = "idle"
	// FETCHING - Walking the source inventory pages
	RunPhaseFetching RunPhase = "fetching"
	// PROCESSING - Loading target identities and reconciling eligible items
	RunPhaseProcessing RunPhase = "processing"
	// CLEANING - Removing target items that are no longer eligible
	RunPhaseCleaning RunPhase = "cleaning"
	// DONE - Run completed (possibly with per-item failures)
	RunPhaseDone RunPhase = "done"
	// ERROR - Run aborted on an unrecoverable failure
	RunPhaseError RunPhase = "error"
)

// IsValid checks if the run phase is valid
func (p RunPhase) IsValid() bool {
	switch p {
	case RunPhaseIdle,
		RunPhaseFetching,
		RunPhaseProcessing,
		RunPhaseCleaning,
		RunPhaseDone,
		RunPhaseError:
		return true
	default:
		return false
	}
}

// IsActive reports whether a run is in flight in this phase
func (p RunPhase) IsActive() bool {
	return p == RunPhaseFetching || p == RunPhaseProcessing || p == RunPhaseCleaning
}

// CanTransitionTo checks if a phase transition is valid
func (p RunPhase) CanTransitionTo(next RunPhase) bool {
	if next == RunPhaseError {
		return p.IsActive()
	}

	switch p {
	case RunPhaseIdle, RunPhaseDone, RunPhaseError:
		return next == RunPhaseFetching
	case RunPhaseFetching:
		return next == RunPhaseProcessing
	case RunPhaseProcessing:
		return next == RunPhaseCleaning || next == RunPhaseDone
	case RunPhaseCleaning:
		return next == RunPhaseDone
	default:
		return false
	}
}

// DriftPolicy decides what happens to target items that are no longer eligible
type DriftPolicy string

const (
	DriftPolicyDelete DriftPolicy = "delete"
	DriftPolicyDraft  DriftPolicy = "draft"
)

// IsValid checks if the drift policy is valid
func (p DriftPolicy) IsValid() bool {
	return p == DriftPolicyDelete || p == DriftPolicyDraft
}

// ReconcileAction describes what the reconciler did to the target for one item
type ReconcileAction string

const (
	ReconcileActionCreated   ReconcileAction = "created"
	ReconcileActionUpdated   ReconcileAction = "updated"
	ReconcileActionUnchanged ReconcileAction = "unchanged"
)

// Target product statuses (Shopify)
const (
	ProductStatusActive   = "active"
	ProductStatusDraft    = "draft"
	ProductStatusArchived = "archived"
)

// MetafieldNamespace holds every metafield the sync writes. Identifier
// search only looks at this namespace.
const MetafieldNamespace = "custom"
