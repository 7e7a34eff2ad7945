// Package snapshotrepo holds the data model shared by discovery, diffing and
// apply: repository descriptors as the remote reports them and the declared
// resources an operator asks for.
package snapshotrepo

import (
	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

// Ensure is the declared intent for a repository.
type Ensure string

const (
	EnsurePresent Ensure = "present"
	EnsureAbsent  Ensure = "absent"
)

// Descriptor describes one snapshot repository on one endpoint.
// Optional settings are nil when unset.
type Descriptor struct {
	Name     string
	Type     string
	Compress bool

	Location               *string
	ChunkSize              *string
	MaxRestoreBytesPerSec  *string
	MaxSnapshotBytesPerSec *string
}

// Equal reports whether two descriptors carry the same content.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Name == other.Name &&
		d.Type == other.Type &&
		d.Compress == other.Compress &&
		equalOptional(d.Location, other.Location) &&
		equalOptional(d.ChunkSize, other.ChunkSize) &&
		equalOptional(d.MaxRestoreBytesPerSec, other.MaxRestoreBytesPerSec) &&
		equalOptional(d.MaxSnapshotBytesPerSec, other.MaxSnapshotBytesPerSec)
}

// Satisfies reports whether current already matches d as a desired state.
// Type and compress are always compared. The remaining settings are compared
// only when d sets them, so server-chosen values are left alone.
func (d Descriptor) Satisfies(current Descriptor) bool {
	if d.Type != current.Type || d.Compress != current.Compress {
		return false
	}
	for _, pair := range [][2]*string{
		{d.Location, current.Location},
		{d.ChunkSize, current.ChunkSize},
		{d.MaxRestoreBytesPerSec, current.MaxRestoreBytesPerSec},
		{d.MaxSnapshotBytesPerSec, current.MaxSnapshotBytesPerSec},
	} {
		if pair[0] != nil && !equalOptional(pair[0], pair[1]) {
			return false
		}
	}
	return true
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Identity keys a repository by the endpoint it lives on and its name.
// The same name on two different profiles is two distinct identities.
type Identity struct {
	Profile profile.Profile
	Name    string
}

func (i Identity) String() string {
	return i.Profile.BaseURL() + "/" + i.Name
}

// DeclaredResource is one desired-state statement. It is immutable for
// the duration of a pass.
type DeclaredResource struct {
	Name    string
	Ensure  Ensure
	Profile profile.Profile
	// Desired is only meaningful when Ensure is present.
	Desired Descriptor
	// Source locates the declaration for reporting, e.g. "catalog.hcl:12"
	// or "namespace/name".
	Source string
}

// Identity returns the (profile, name) key of the resource.
func (r DeclaredResource) Identity() Identity {
	return Identity{Profile: r.Profile, Name: r.Name}
}

// Declaration is one catalog entry. Err is set, and Resource only partially
// filled, when the entry failed to parse.
type Declaration struct {
	Source   string
	Resource DeclaredResource
	Err      error
}
