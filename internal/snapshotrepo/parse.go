package snapshotrepo

import (
	"strings"

	"k8s.io/utils/ptr"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

// Raw is the loosely typed form of a declaration as a catalog produces it.
// Empty strings and nil values mean "unset".
type Raw struct {
	Name     string
	Ensure   string
	Type     string
	Compress any

	Location               string
	ChunkSize              string
	MaxRestoreBytesPerSec  string
	MaxSnapshotBytesPerSec string

	Profile profile.Raw
	Source  string
}

// Parse turns raw into a validated DeclaredResource, applying defaults.
func Parse(raw Raw) (DeclaredResource, error) {
	res := DeclaredResource{
		Name:   strings.TrimSpace(raw.Name),
		Source: raw.Source,
	}

	switch Ensure(strings.ToLower(raw.Ensure)) {
	case "", EnsurePresent:
		res.Ensure = EnsurePresent
	case EnsureAbsent:
		res.Ensure = EnsureAbsent
	default:
		return res, operatorerrors.NewValidationError("ensure", raw.Ensure, "invalid value, expected present or absent")
	}

	p, err := profile.New(raw.Profile)
	if err != nil {
		return res, err
	}
	res.Profile = p

	compress, err := profile.ParseBool("compress", raw.Compress, constants.DefaultCompress)
	if err != nil {
		return res, err
	}

	repoType := raw.Type
	if repoType == "" {
		repoType = constants.DefaultRepositoryType
	}

	res.Desired = Descriptor{
		Name:                   res.Name,
		Type:                   repoType,
		Compress:               compress,
		Location:               optional(raw.Location),
		ChunkSize:              optional(raw.ChunkSize),
		MaxRestoreBytesPerSec:  optional(raw.MaxRestoreBytesPerSec),
		MaxSnapshotBytesPerSec: optional(raw.MaxSnapshotBytesPerSec),
	}

	if err := res.Validate(); err != nil {
		return res, err
	}
	return res, nil
}

// Validate checks the invariants a resource must hold before any network
// activity happens on its behalf.
func (r DeclaredResource) Validate() error {
	if r.Name == "" {
		return operatorerrors.NewValidationError("name", "", "name is required")
	}
	if strings.Contains(r.Name, "/") {
		return operatorerrors.NewValidationError("name", r.Name, "name must not contain '/'")
	}
	switch r.Ensure {
	case EnsurePresent:
		if r.Desired.Location == nil || *r.Desired.Location == "" {
			return operatorerrors.NewValidationError("location", "", "location is required when ensure is present")
		}
	case EnsureAbsent:
	default:
		return operatorerrors.NewValidationError("ensure", string(r.Ensure), "invalid value, expected present or absent")
	}
	if r.Profile.Port < constants.MinPort || r.Profile.Port > constants.MaxPort {
		return operatorerrors.NewValidationError("port", "", "invalid port value")
	}
	if r.Profile.Timeout <= 0 {
		return operatorerrors.NewValidationError("timeout", r.Profile.Timeout.String(), "timeout must be a positive integer")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return ptr.To(s)
}
