// Package status writes pass results onto SnapshotRepository status.
package status

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	snaprepov1alpha1 "github.com/dc-tec/snaprepo-operator/api/v1alpha1"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
)

// Set adds or updates a condition in the condition slice.
// LastTransitionTime only moves when the status flips.
func Set(conditions *[]metav1.Condition, generation int64, conditionType string, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(conditions, metav1.Condition{
		Type:               conditionType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
		LastTransitionTime: metav1.Now(),
	})
}

// True sets a condition to True status.
func True(conditions *[]metav1.Condition, generation int64, conditionType, reason, message string) {
	Set(conditions, generation, conditionType, metav1.ConditionTrue, reason, message)
}

// False sets a condition to False status.
func False(conditions *[]metav1.Condition, generation int64, conditionType, reason, message string) {
	Set(conditions, generation, conditionType, metav1.ConditionFalse, reason, message)
}

// Get returns the condition with the given type, or nil if not found.
func Get(conditions []metav1.Condition, conditionType string) *metav1.Condition {
	return meta.FindStatusCondition(conditions, conditionType)
}

// IsTrue returns true if the condition with the given type has Status=True.
func IsTrue(conditions []metav1.Condition, conditionType string) bool {
	return meta.IsStatusConditionTrue(conditions, conditionType)
}

// Record writes the result of one pass onto repo's status. An empty
// outcome means a change was planned but not applied (dry run).
func Record(repo *snaprepov1alpha1.SnapshotRepository, outcome reconcile.Outcome, op reconcile.Operation, err error, now time.Time) {
	st := &repo.Status
	gen := repo.Generation

	st.Outcome = string(outcome)
	st.ObservedGeneration = gen
	st.LastReconcileTime = &metav1.Time{Time: now}

	switch {
	case outcome == reconcile.OutcomeFailed || err != nil:
		st.Phase = snaprepov1alpha1.RepositoryPhaseFailed
		st.Outcome = string(reconcile.OutcomeFailed)
		st.Message = errorMessage(err)
		False(&st.Conditions, gen, constants.ConditionTypeConverged, FailureReason(err), st.Message)
	case outcome == "":
		st.Phase = snaprepov1alpha1.RepositoryPhasePending
		st.Message = fmt.Sprintf("%s pending (dry run)", op)
		False(&st.Conditions, gen, constants.ConditionTypeConverged, constants.ReasonPlanned, st.Message)
	default:
		st.Phase = snaprepov1alpha1.RepositoryPhaseConverged
		st.Message = ""
		True(&st.Conditions, gen, constants.ConditionTypeConverged, successReason(outcome), "Repository matches the declaration")
	}
}

// FailureReason maps an error onto a condition reason.
func FailureReason(err error) string {
	switch {
	case operatorerrors.IsDuplicate(err):
		return constants.ReasonDuplicate
	case operatorerrors.IsValidation(err):
		return constants.ReasonInvalid
	case isRejected(err):
		return constants.ReasonRemoteRejected
	case operatorerrors.IsTransport(err):
		return constants.ReasonUnreachable
	default:
		return constants.ReasonError
	}
}

func isRejected(err error) bool {
	_, ok := operatorerrors.RejectedMessage(err)
	return ok
}

func successReason(outcome reconcile.Outcome) string {
	switch outcome {
	case reconcile.OutcomeCreated:
		return constants.ReasonCreated
	case reconcile.OutcomeReplaced:
		return constants.ReasonReplaced
	case reconcile.OutcomeDestroyed:
		return constants.ReasonDestroyed
	default:
		return constants.ReasonConverged
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}
