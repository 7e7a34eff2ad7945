package reconcile

import (
	"time"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
)

// Result expresses whether reconciliation should be requeued, and after what delay.
// A zero RequeueAfter means "no requeue requested".
type Result struct {
	RequeueAfter time.Duration
}

// ResultFor folds the sessions of a pass into one requeue decision. The
// shortest delay asked for by a failed session wins; when nothing failed in a
// retryable way, the pass is requeued after drift (zero disables it).
func ResultFor(sessions []*Session, drift time.Duration) Result {
	after := drift
	for _, s := range sessions {
		if s.Outcome() != OutcomeFailed {
			continue
		}
		requeue, delay := operatorerrors.ShouldRequeue(s.Err())
		if !requeue {
			continue
		}
		if delay <= 0 {
			delay = constants.RequeueShort
		}
		if after == 0 || delay < after {
			after = delay
		}
	}
	return Result{RequeueAfter: after}
}
