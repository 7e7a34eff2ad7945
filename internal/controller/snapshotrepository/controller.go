/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package snapshotrepository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	snaprepov1alpha1 "github.com/dc-tec/snaprepo-operator/api/v1alpha1"
	"github.com/dc-tec/snaprepo-operator/internal/catalog"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/discovery"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch"
	"github.com/dc-tec/snaprepo-operator/internal/operationlock"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
	"github.com/dc-tec/snaprepo-operator/internal/scheduler"
	"github.com/dc-tec/snaprepo-operator/internal/status"
)

// SnapshotRepositoryReconciler reconciles SnapshotRepository objects.
// Every request runs one pass over the request's namespace so that duplicate
// detection and discovery deduplication see all declarations together.
type SnapshotRepositoryReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// Clients is shared across reconciles so per-endpoint rate limiting and
	// circuit breaking persist. Nil uses a private manager per pass.
	Clients *elasticsearch.ClientManager
	Locks   *operationlock.Locker
	Workers int
	DryRun  bool
	// Drift is the periodic re-check interval. Zero uses the safety-net
	// interval with jitter.
	Drift time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// +kubebuilder:rbac:groups=snaprepo.dc-tec.io,resources=snapshotrepositories,verbs=get;list;watch
// +kubebuilder:rbac:groups=snaprepo.dc-tec.io,resources=snapshotrepositories/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile is part of the main Kubernetes reconciliation loop.
func (r *SnapshotRepositoryReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithName(constants.ControllerName).WithValues("namespace", req.Namespace)

	repo := &snaprepov1alpha1.SnapshotRepository{}
	if err := r.Get(ctx, req.NamespacedName, repo); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get SnapshotRepository: %w", err)
	}

	logger.Info("Reconciling SnapshotRepository namespace", "trigger", req.Name)

	report, err := r.runner(req.Namespace, logger).RunPass(ctx)
	if err != nil {
		logger.Error(err, "Reconciliation failed")
		return ctrl.Result{}, err
	}

	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	for _, entry := range report.Entries {
		if err := r.recordStatus(ctx, entry, now); err != nil {
			return ctrl.Result{}, err
		}
	}

	result := ctrl.Result{RequeueAfter: report.Result.RequeueAfter}
	if result.RequeueAfter > 0 {
		logger.V(1).Info("Requeuing reconciliation", "requeueAfter", result.RequeueAfter)
	}
	return result, nil
}

func (r *SnapshotRepositoryReconciler) runner(namespace string, logger logr.Logger) *scheduler.Runner {
	dir := elasticsearch.NewDirectory(elasticsearch.NewTransport(r.Clients, logger), logger)
	return &scheduler.Runner{
		Catalog:      &catalog.KubernetesSource{Client: r.Client, Namespace: namespace},
		Deduplicator: discovery.NewDeduplicator(dir, r.Workers, logger),
		Engine:       reconcile.NewEngine(dir, r.Locks, logger),
		Workers:      r.Workers,
		DryRun:       r.DryRun,
		Drift:        r.drift(),
		Reporters:    []scheduler.Reporter{scheduler.LogReporter{Logger: logger}, scheduler.MetricsReporter{}},
		Logger:       logger,
	}
}

func (r *SnapshotRepositoryReconciler) drift() time.Duration {
	if r.Drift > 0 {
		return r.Drift
	}
	return constants.RequeueSafetyNetBase + rand.N(constants.RequeueSafetyNetJitter)
}

// recordStatus patches the status of the object behind entry and emits an
// event for changes and failures.
func (r *SnapshotRepositoryReconciler) recordStatus(ctx context.Context, entry scheduler.Entry, now time.Time) error {
	namespace, name, ok := strings.Cut(entry.Source, "/")
	if !ok {
		return nil
	}

	repo := &snaprepov1alpha1.SnapshotRepository{}
	if err := r.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, repo); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to get SnapshotRepository %s: %w", entry.Source, err)
	}

	base := repo.DeepCopy()
	status.Record(repo, entry.Outcome, entry.Operation, entry.Err, now)
	if err := r.Status().Patch(ctx, repo, client.MergeFrom(base)); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to update SnapshotRepository %s status: %w", entry.Source, err)
	}

	if r.Recorder == nil {
		return nil
	}
	switch entry.Outcome {
	case reconcile.OutcomeFailed:
		r.Recorder.Event(repo, corev1.EventTypeWarning, status.FailureReason(entry.Err), repo.Status.Message)
	case reconcile.OutcomeCreated, reconcile.OutcomeReplaced, reconcile.OutcomeDestroyed:
		reason := constants.ReasonConverged
		if cond := status.Get(repo.Status.Conditions, constants.ConditionTypeConverged); cond != nil {
			reason = cond.Reason
		}
		r.Recorder.Eventf(repo, corev1.EventTypeNormal, reason,
			"Repository %q %s on %s", entry.Repository, entry.Outcome, entry.Endpoint)
	}
	return nil
}

// SetupWithManager sets up the controller with the Manager.
// Status-only updates do not trigger a pass.
func (r *SnapshotRepositoryReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if r.Recorder == nil {
		r.Recorder = mgr.GetEventRecorderFor(constants.ControllerName)
	}
	if r.Clients == nil {
		r.Clients = elasticsearch.NewClientManager(elasticsearch.ClientConfig{})
	}
	if r.Locks == nil {
		r.Locks = operationlock.New()
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&snaprepov1alpha1.SnapshotRepository{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Named(constants.ControllerName).
		Complete(r)
}
