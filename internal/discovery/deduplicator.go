// Package discovery pairs declared resources with the remote repositories
// they refer to, listing each distinct endpoint only once per pass.
package discovery

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Discovered is one remote repository together with the endpoint it lives on.
type Discovered struct {
	Profile    profile.Profile
	Descriptor snapshotrepo.Descriptor
}

// Prefetched is the result of bulk discovery for one pass.
type Prefetched struct {
	// Sessions holds one session per declaration, in declaration order.
	Sessions []*reconcile.Session
	// Discovered is the union of every listing without duplicates, ordered
	// by endpoint first use and then by name.
	Discovered []Discovered
	// Profiles is the number of distinct endpoints that were listed.
	Profiles int
}

// Deduplicator groups declarations by connection profile and lists each
// endpoint exactly once.
type Deduplicator struct {
	lister  elasticsearch.Lister
	workers int
	logger  logr.Logger
}

// NewDeduplicator returns a Deduplicator listing at most workers endpoints
// concurrently. Zero or negative workers uses the default.
func NewDeduplicator(lister elasticsearch.Lister, workers int, logger logr.Logger) *Deduplicator {
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}
	return &Deduplicator{lister: lister, workers: workers, logger: logger}
}

// Prefetch seeds a session for every declaration. Declarations that failed
// to parse, fail validation or repeat an earlier (name, profile) pair get a
// rejected session and cause no network activity. Listing failures degrade
// to "no repositories" for that endpoint. The only error returned is the
// context's.
func (d *Deduplicator) Prefetch(ctx context.Context, decls []snapshotrepo.Declaration) (*Prefetched, error) {
	type slot struct {
		resource snapshotrepo.DeclaredResource
		rejected error
	}

	slots := make([]slot, len(decls))
	firstSeen := make(map[snapshotrepo.Identity]string, len(decls))
	var profiles []profile.Profile
	seenProfile := make(map[profile.Profile]bool)

	for i, decl := range decls {
		res := decl.Resource
		if res.Source == "" {
			res.Source = decl.Source
		}
		slots[i].resource = res

		if decl.Err != nil {
			slots[i].rejected = decl.Err
			continue
		}
		if err := res.Validate(); err != nil {
			slots[i].rejected = err
			continue
		}
		id := res.Identity()
		if first, dup := firstSeen[id]; dup {
			slots[i].rejected = operatorerrors.WrapDuplicateResource(res.Name, first)
			continue
		}
		firstSeen[id] = res.Source

		if !seenProfile[res.Profile] {
			seenProfile[res.Profile] = true
			profiles = append(profiles, res.Profile)
		}
	}

	listings, err := d.listAll(ctx, profiles)
	if err != nil {
		return nil, err
	}

	out := &Prefetched{
		Sessions: make([]*reconcile.Session, len(slots)),
		Profiles: len(profiles),
	}
	for i, s := range slots {
		if s.rejected != nil {
			d.logger.Info("Declaration rejected before discovery",
				"source", s.resource.Source, "repository", s.resource.Name, "reason", s.rejected.Error())
			out.Sessions[i] = reconcile.NewRejectedSession(s.resource, s.rejected)
			continue
		}
		var current *snapshotrepo.Descriptor
		if desc, ok := listings[s.resource.Profile][s.resource.Name]; ok {
			current = &desc
		}
		out.Sessions[i] = reconcile.NewSession(s.resource, current)
	}

	out.Discovered = union(profiles, listings)
	return out, nil
}

func (d *Deduplicator) listAll(ctx context.Context, profiles []profile.Profile) (map[profile.Profile]elasticsearch.Listing, error) {
	var mu sync.Mutex
	listings := make(map[profile.Profile]elasticsearch.Listing, len(profiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, p := range profiles {
		g.Go(func() error {
			listing, err := d.lister.List(gctx, p)
			if err != nil {
				d.logger.Error(err, "Repository discovery failed; assuming no repositories exist", "endpoint", p.BaseURL())
				listing = elasticsearch.Listing{}
			}
			mu.Lock()
			listings[p] = listing
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}

func union(profiles []profile.Profile, listings map[profile.Profile]elasticsearch.Listing) []Discovered {
	var out []Discovered
	seen := make(map[snapshotrepo.Identity]snapshotrepo.Descriptor)
	for _, p := range profiles {
		for _, desc := range listings[p].Sorted() {
			id := snapshotrepo.Identity{Profile: p, Name: desc.Name}
			if prev, ok := seen[id]; ok && prev.Equal(desc) {
				continue
			}
			seen[id] = desc
			out = append(out, Discovered{Profile: p, Descriptor: desc})
		}
	}
	return out
}
