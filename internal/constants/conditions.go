package constants

// Condition types and reasons written to SnapshotRepository status.
const (
	// ConditionTypeConverged reports whether the remote repository matches the declaration.
	ConditionTypeConverged = "Converged"

	ReasonConverged      = "Converged"
	ReasonCreated        = "Created"
	ReasonReplaced       = "Replaced"
	ReasonDestroyed      = "Destroyed"
	ReasonPlanned        = "Planned"
	ReasonRemoteRejected = "RemoteRejected"
	ReasonUnreachable    = "RemoteUnreachable"
	ReasonInvalid        = "ValidationFailed"
	ReasonDuplicate      = "DuplicateResource"
	ReasonError          = "Error"
)
