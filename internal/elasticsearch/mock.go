package elasticsearch

import (
	"context"
	"sync"

	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// MockClient is a mock implementation of Client for testing.
// It allows tests to control endpoint behavior without an HTTP server and
// records every call it receives.
type MockClient struct {
	// ListFunc controls the behavior of List
	ListFunc func(ctx context.Context, p profile.Profile) (Listing, error)
	// RefreshFunc controls the behavior of Refresh. When nil, ListFunc is used.
	RefreshFunc func(ctx context.Context, p profile.Profile) (Listing, error)
	// PutFunc controls the behavior of Put
	PutFunc func(ctx context.Context, p profile.Profile, desired snapshotrepo.Descriptor) error
	// DeleteFunc controls the behavior of Delete
	DeleteFunc func(ctx context.Context, p profile.Profile, name string) error

	mu      sync.Mutex
	lists   []profile.Profile
	puts    []snapshotrepo.Descriptor
	deletes []string
}

// List implements Lister.
func (m *MockClient) List(ctx context.Context, p profile.Profile) (Listing, error) {
	m.mu.Lock()
	m.lists = append(m.lists, p)
	m.mu.Unlock()

	if m.ListFunc != nil {
		return m.ListFunc(ctx, p)
	}
	return Listing{}, nil
}

// Refresh implements Client.
func (m *MockClient) Refresh(ctx context.Context, p profile.Profile) (Listing, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, p)
	}
	if m.ListFunc != nil {
		return m.ListFunc(ctx, p)
	}
	return Listing{}, nil
}

// Put implements Client.
func (m *MockClient) Put(ctx context.Context, p profile.Profile, desired snapshotrepo.Descriptor) error {
	m.mu.Lock()
	m.puts = append(m.puts, desired)
	m.mu.Unlock()

	if m.PutFunc != nil {
		return m.PutFunc(ctx, p, desired)
	}
	return nil
}

// Delete implements Client.
func (m *MockClient) Delete(ctx context.Context, p profile.Profile, name string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, name)
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, p, name)
	}
	return nil
}

// ListCalls returns the profiles List was called with, in call order.
func (m *MockClient) ListCalls() []profile.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]profile.Profile(nil), m.lists...)
}

// PutCalls returns the descriptors Put was called with.
func (m *MockClient) PutCalls() []snapshotrepo.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]snapshotrepo.Descriptor(nil), m.puts...)
}

// DeleteCalls returns the names Delete was called with.
func (m *MockClient) DeleteCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

var _ Client = (*MockClient)(nil)
