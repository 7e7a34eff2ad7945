package elasticsearch

import (
	"context"

	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Sender is the contract of the Remote Transport.
type Sender interface {
	Send(ctx context.Context, p profile.Profile, method, path string, body []byte) (*Response, error)
}

// Lister reads the repository listing of one endpoint.
// It is implemented by *Directory.
type Lister interface {
	List(ctx context.Context, p profile.Profile) (Listing, error)
}

// Client is the full set of endpoint operations the reconcile engine needs.
// It is implemented by *Directory.
type Client interface {
	Lister
	Refresh(ctx context.Context, p profile.Profile) (Listing, error)
	Put(ctx context.Context, p profile.Profile, desired snapshotrepo.Descriptor) error
	Delete(ctx context.Context, p profile.Profile, name string) error
}

var (
	_ Sender = (*Transport)(nil)
	_ Client = (*Directory)(nil)
)
