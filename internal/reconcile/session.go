package reconcile

import (
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Operation is the change required to converge one resource.
type Operation string

const (
	OperationNone    Operation = "none"
	OperationCreate  Operation = "create"
	OperationReplace Operation = "replace"
	OperationDestroy Operation = "destroy"
)

// State is the position of a session in the apply state machine.
type State string

const (
	StateUnchanged      State = "Unchanged"
	StatePendingCreate  State = "PendingCreate"
	StatePendingReplace State = "PendingReplace"
	StatePendingDestroy State = "PendingDestroy"
	StateApplied        State = "Applied"
	StateFailed         State = "Failed"
)

// Outcome is reported upward once a session is applied.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeCreated   Outcome = "created"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeDestroyed Outcome = "destroyed"
	OutcomeFailed    Outcome = "failed"
)

// Session holds what is known about one declared resource during a pass.
// It is seeded by discovery and only mutated by the Engine.
type Session struct {
	resource snapshotrepo.DeclaredResource
	current  *snapshotrepo.Descriptor

	pending Operation
	state   State
	outcome Outcome
	err     error
}

// NewSession pairs a declared resource with its discovered descriptor.
// A nil current means the repository does not exist remotely.
func NewSession(resource snapshotrepo.DeclaredResource, current *snapshotrepo.Descriptor) *Session {
	var seeded *snapshotrepo.Descriptor
	if current != nil {
		c := *current
		seeded = &c
	}
	return &Session{
		resource: resource,
		current:  seeded,
		pending:  OperationNone,
		state:    StateUnchanged,
	}
}

// NewRejectedSession returns a session that failed before any network
// activity, e.g. on validation or duplicate declaration.
func NewRejectedSession(resource snapshotrepo.DeclaredResource, err error) *Session {
	return &Session{
		resource: resource,
		pending:  OperationNone,
		state:    StateFailed,
		outcome:  OutcomeFailed,
		err:      err,
	}
}

// Resource returns the declared resource.
func (s *Session) Resource() snapshotrepo.DeclaredResource { return s.resource }

// CurrentState returns the last known remote descriptor, if any.
func (s *Session) CurrentState() (snapshotrepo.Descriptor, bool) {
	if s.current == nil {
		return snapshotrepo.Descriptor{}, false
	}
	return *s.current, true
}

// PendingOperation returns the operation planned for this pass.
func (s *Session) PendingOperation() Operation { return s.pending }

// Outcome is empty until the session is applied or rejected.
func (s *Session) Outcome() Outcome { return s.outcome }

// Err returns the failure reason when Outcome is OutcomeFailed.
func (s *Session) Err() error { return s.err }

// State returns the current state machine position.
func (s *Session) State() State { return s.state }

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool {
	return s.state == StateApplied || s.state == StateFailed
}

func (s *Session) plan(op Operation) {
	s.pending = op
	switch op {
	case OperationCreate:
		s.state = StatePendingCreate
	case OperationReplace:
		s.state = StatePendingReplace
	case OperationDestroy:
		s.state = StatePendingDestroy
	default:
		s.state = StateUnchanged
	}
}

func (s *Session) applied(outcome Outcome, current *snapshotrepo.Descriptor) {
	s.state = StateApplied
	s.outcome = outcome
	s.current = current
	s.err = nil
}

func (s *Session) fail(err error) {
	s.state = StateFailed
	s.outcome = OutcomeFailed
	s.err = err
}
