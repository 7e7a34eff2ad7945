package catalog

import (
	"context"
	"fmt"
	"sort"

	"sigs.k8s.io/controller-runtime/pkg/client"

	snaprepov1alpha1 "github.com/dc-tec/snaprepo-operator/api/v1alpha1"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
	"github.com/dc-tec/snaprepo-operator/internal/storage"
)

// KubernetesSource lists SnapshotRepository resources. An empty Namespace
// lists every namespace.
type KubernetesSource struct {
	Client    client.Reader
	Namespace string
}

// SourceFor returns the declaration Source used for repo.
func SourceFor(repo *snaprepov1alpha1.SnapshotRepository) string {
	return repo.Namespace + "/" + repo.Name
}

// Load implements Source. Items are ordered by namespace and name so that
// duplicate detection is stable across passes.
func (k *KubernetesSource) Load(ctx context.Context) ([]snapshotrepo.Declaration, error) {
	list := &snaprepov1alpha1.SnapshotRepositoryList{}
	var opts []client.ListOption
	if k.Namespace != "" {
		opts = append(opts, client.InNamespace(k.Namespace))
	}
	if err := k.Client.List(ctx, list, opts...); err != nil {
		return nil, fmt.Errorf("failed to list SnapshotRepositories: %w", err)
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool {
		return SourceFor(&items[i]) < SourceFor(&items[j])
	})

	decls := make([]snapshotrepo.Declaration, 0, len(items))
	for i := range items {
		repo := &items[i]
		if !repo.DeletionTimestamp.IsZero() {
			continue
		}
		decls = append(decls, k.declare(ctx, repo))
	}
	return decls, nil
}

func (k *KubernetesSource) declare(ctx context.Context, repo *snaprepov1alpha1.SnapshotRepository) snapshotrepo.Declaration {
	source := SourceFor(repo)
	spec := repo.Spec
	conn := spec.Connection

	raw := snapshotrepo.Raw{
		Name:                   repo.EffectiveRepositoryName(),
		Ensure:                 spec.Ensure,
		Type:                   spec.Type,
		Location:               spec.Location,
		ChunkSize:              spec.ChunkSize,
		MaxRestoreBytesPerSec:  spec.MaxRestoreBytesPerSec,
		MaxSnapshotBytesPerSec: spec.MaxSnapshotBytesPerSec,
		Source:                 source,
	}
	raw.Profile.CAFile = conn.CAFile
	raw.Profile.CAPath = conn.CAPath

	if spec.Compress != nil {
		raw.Compress = *spec.Compress
	}
	if conn.Protocol != "" {
		raw.Profile.Protocol = conn.Protocol
	}
	if conn.Host != "" {
		raw.Profile.Host = conn.Host
	}
	if conn.Port != nil {
		raw.Profile.Port = int(*conn.Port)
	}
	if conn.ValidateTLS != nil {
		raw.Profile.ValidateTLS = *conn.ValidateTLS
	}
	if conn.TimeoutSeconds != nil {
		raw.Profile.Timeout = int(*conn.TimeoutSeconds)
	}

	auth, err := storage.LoadBasicAuth(ctx, k.Client, conn.CredentialsSecretRef, repo.Namespace)
	if err != nil {
		return snapshotrepo.Declaration{
			Source:   source,
			Resource: snapshotrepo.DeclaredResource{Name: raw.Name, Source: source},
			Err:      err,
		}
	}
	if auth != nil {
		raw.Profile.Username = auth.Username
		raw.Profile.Password = auth.Password
	}

	res, err := snapshotrepo.Parse(raw)
	return snapshotrepo.Declaration{Source: source, Resource: res, Err: err}
}
