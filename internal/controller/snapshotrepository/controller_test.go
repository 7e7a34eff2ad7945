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
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	snaprepov1alpha1 "github.com/dc-tec/snaprepo-operator/api/v1alpha1"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch/estest"
	"github.com/dc-tec/snaprepo-operator/internal/status"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, objs ...client.Object) (*SnapshotRepositoryReconciler, *record.FakeRecorder) {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	require.NoError(t, snaprepov1alpha1.AddToScheme(scheme))

	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&snaprepov1alpha1.SnapshotRepository{}).
		Build()

	recorder := record.NewFakeRecorder(32)
	return &SnapshotRepositoryReconciler{
		Client:   c,
		Scheme:   scheme,
		Recorder: recorder,
		Drift:    10 * time.Minute,
		now:      func() time.Time { return fixedNow },
	}, recorder
}

func repositoryFor(cluster *estest.Cluster, name string, spec snaprepov1alpha1.SnapshotRepositorySpec) *snaprepov1alpha1.SnapshotRepository {
	spec.Connection.Host = "127.0.0.1"
	spec.Connection.Port = ptr.To(int32(cluster.Port()))
	return &snaprepov1alpha1.SnapshotRepository{
		ObjectMeta: metav1.ObjectMeta{Namespace: "search", Name: name, Generation: 1},
		Spec:       spec,
	}
}

func request(name string) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "search", Name: name}}
}

func fetch(t *testing.T, c client.Client, name string) *snaprepov1alpha1.SnapshotRepository {
	t.Helper()
	repo := &snaprepov1alpha1.SnapshotRepository{}
	require.NoError(t, c.Get(context.Background(), types.NamespacedName{Namespace: "search", Name: name}, repo))
	return repo
}

func TestReconcile_CreatesRepositoryAndRecordsStatus(t *testing.T) {
	cluster := estest.NewCluster(t)
	r, recorder := newTestReconciler(t, repositoryFor(cluster, "nightly", snaprepov1alpha1.SnapshotRepositorySpec{
		RepositoryName: "nightly-backups",
		Location:       "/mnt/nightly",
	}))

	result, err := r.Reconcile(context.Background(), request("nightly"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, result.RequeueAfter)

	repoType, settings, ok := cluster.Repository("nightly-backups")
	require.True(t, ok)
	assert.Equal(t, "fs", repoType)
	assert.Equal(t, "/mnt/nightly", settings["location"])

	repo := fetch(t, r.Client, "nightly")
	assert.Equal(t, snaprepov1alpha1.RepositoryPhaseConverged, repo.Status.Phase)
	assert.Equal(t, "created", repo.Status.Outcome)
	assert.Equal(t, repo.Generation, repo.Status.ObservedGeneration)
	require.NotNil(t, repo.Status.LastReconcileTime)
	assert.True(t, repo.Status.LastReconcileTime.Time.Equal(fixedNow))

	cond := status.Get(repo.Status.Conditions, constants.ConditionTypeConverged)
	require.NotNil(t, cond)
	assert.Equal(t, metav1.ConditionTrue, cond.Status)
	assert.Equal(t, constants.ReasonCreated, cond.Reason)

	select {
	case event := <-recorder.Events:
		assert.True(t, strings.HasPrefix(event, "Normal Created"), event)
	default:
		t.Fatal("expected a Created event")
	}

	t.Run("second pass converges without mutations", func(t *testing.T) {
		mutations := cluster.MutatingRequests()
		_, err := r.Reconcile(context.Background(), request("nightly"))
		require.NoError(t, err)
		assert.Equal(t, mutations, cluster.MutatingRequests())
		assert.Equal(t, "converged", fetch(t, r.Client, "nightly").Status.Outcome)
	})
}

func TestReconcile_NamespacePassReportsDuplicatesAndRejections(t *testing.T) {
	cluster := estest.NewCluster(t)
	cluster.FailNext(http.MethodPut, http.StatusBadRequest,
		`{"error":{"root_cause":[{"type":"repository_exception","reason":"[bad] location is not allowed"}]},"status":400}`)

	r, recorder := newTestReconciler(t,
		repositoryFor(cluster, "a-bad", snaprepov1alpha1.SnapshotRepositorySpec{RepositoryName: "bad", Location: "/etc"}),
		repositoryFor(cluster, "b-first", snaprepov1alpha1.SnapshotRepositorySpec{RepositoryName: "shared", Location: "/mnt/a"}),
		repositoryFor(cluster, "c-second", snaprepov1alpha1.SnapshotRepositorySpec{RepositoryName: "shared", Location: "/mnt/b"}),
	)
	r.Workers = 1

	result, err := r.Reconcile(context.Background(), request("b-first"))
	require.NoError(t, err)
	assert.Equal(t, constants.RequeueStandard, result.RequeueAfter, "remote rejection requeues on the standard interval")

	bad := fetch(t, r.Client, "a-bad")
	assert.Equal(t, snaprepov1alpha1.RepositoryPhaseFailed, bad.Status.Phase)
	assert.Contains(t, bad.Status.Message, "[bad] location is not allowed")
	assert.Equal(t, constants.ReasonRemoteRejected, status.Get(bad.Status.Conditions, constants.ConditionTypeConverged).Reason)

	first := fetch(t, r.Client, "b-first")
	assert.Equal(t, "created", first.Status.Outcome)

	second := fetch(t, r.Client, "c-second")
	assert.Equal(t, snaprepov1alpha1.RepositoryPhaseFailed, second.Status.Phase)
	assert.Contains(t, second.Status.Message, "search/b-first")
	assert.Equal(t, constants.ReasonDuplicate, status.Get(second.Status.Conditions, constants.ConditionTypeConverged).Reason)

	_, settings, ok := cluster.Repository("shared")
	require.True(t, ok)
	assert.Equal(t, "/mnt/a", settings["location"], "first declaration wins")

	assert.Len(t, recorder.Events, 3)
}

func TestReconcile_DryRun(t *testing.T) {
	cluster := estest.NewCluster(t)
	r, _ := newTestReconciler(t, repositoryFor(cluster, "nightly", snaprepov1alpha1.SnapshotRepositorySpec{Location: "/mnt/nightly"}))
	r.DryRun = true

	_, err := r.Reconcile(context.Background(), request("nightly"))
	require.NoError(t, err)
	assert.Equal(t, 0, cluster.MutatingRequests())

	repo := fetch(t, r.Client, "nightly")
	assert.Equal(t, snaprepov1alpha1.RepositoryPhasePending, repo.Status.Phase)
	assert.Equal(t, constants.ReasonPlanned, status.Get(repo.Status.Conditions, constants.ConditionTypeConverged).Reason)
}

func TestReconcile_NotFound(t *testing.T) {
	r, _ := newTestReconciler(t)
	result, err := r.Reconcile(context.Background(), request("missing"))
	require.NoError(t, err)
	assert.Zero(t, result.RequeueAfter)
}

func TestDrift_DefaultsToJitteredSafetyNet(t *testing.T) {
	r := &SnapshotRepositoryReconciler{}
	for i := 0; i < 10; i++ {
		d := r.drift()
		assert.GreaterOrEqual(t, d, constants.RequeueSafetyNetBase)
		assert.Less(t, d, constants.RequeueSafetyNetBase+constants.RequeueSafetyNetJitter)
	}
}
