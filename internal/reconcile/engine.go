package reconcile

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch"
	"github.com/dc-tec/snaprepo-operator/internal/operationlock"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Engine diffs a session against its declaration and issues the HTTP call
// that converges it. It never retries; a failed apply is reported once.
type Engine struct {
	client elasticsearch.Client
	locks  *operationlock.Locker
	logger logr.Logger
}

// NewEngine returns an Engine. A nil locker gets a private one.
func NewEngine(client elasticsearch.Client, locks *operationlock.Locker, logger logr.Logger) *Engine {
	if locks == nil {
		locks = operationlock.New()
	}
	return &Engine{client: client, locks: locks, logger: logger}
}

// Plan decides the operation for s and records it on the session.
// Terminal sessions are left untouched.
func (e *Engine) Plan(s *Session) Operation {
	if s.Done() {
		return s.pending
	}

	res := s.resource
	var op Operation
	switch {
	case res.Ensure == snapshotrepo.EnsureAbsent && s.current == nil:
		op = OperationNone
	case res.Ensure == snapshotrepo.EnsureAbsent:
		op = OperationDestroy
	case s.current == nil:
		op = OperationCreate
	case !res.Desired.Satisfies(*s.current):
		op = OperationReplace
	default:
		op = OperationNone
	}

	s.plan(op)
	return op
}

// Apply converges s. The returned error is also recorded on the session.
func (e *Engine) Apply(ctx context.Context, s *Session) error {
	if s.state == StateFailed {
		return s.err
	}
	if s.state == StateApplied {
		return nil
	}

	res := s.resource
	logger := e.logger.WithValues("repository", res.Name, "endpoint", res.Profile.BaseURL(), "source", res.Source)

	if err := res.Validate(); err != nil {
		s.fail(err)
		return err
	}

	op := e.Plan(s)
	if op == OperationNone {
		s.applied(OutcomeConverged, s.current)
		logger.V(1).Info("Repository already converged")
		return nil
	}

	release, err := e.locks.Acquire(ctx, res.Identity(), "apply/"+res.Source)
	if err != nil {
		s.fail(err)
		return err
	}
	defer release()

	logger.Info("Applying repository change", "operation", op)

	var outcome Outcome
	switch op {
	case OperationCreate, OperationReplace:
		err = e.client.Put(ctx, res.Profile, res.Desired)
		outcome = OutcomeCreated
		if op == OperationReplace {
			outcome = OutcomeReplaced
		}
	case OperationDestroy:
		err = e.client.Delete(ctx, res.Profile, res.Name)
		outcome = OutcomeDestroyed
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}
	if err != nil {
		wrapped := fmt.Errorf("%s repository %q: %w", op, res.Name, err)
		s.fail(wrapped)
		logger.Error(err, "Repository change failed", "operation", op)
		return wrapped
	}

	listing, err := e.client.Refresh(ctx, res.Profile)
	if err != nil {
		wrapped := fmt.Errorf("refresh after %s of repository %q: %w", op, res.Name, err)
		s.fail(wrapped)
		logger.Error(err, "Failed to refresh repository state after apply", "operation", op)
		return wrapped
	}

	var current *snapshotrepo.Descriptor
	if desc, ok := listing[res.Name]; ok {
		current = &desc
	}
	if op != OperationDestroy && current != nil && !res.Desired.Satisfies(*current) {
		logger.V(1).Info("Server normalized repository settings", "operation", op)
	}

	s.applied(outcome, current)
	logger.Info("Repository change applied", "operation", op, "outcome", outcome)
	return nil
}
