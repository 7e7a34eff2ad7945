package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-logr/logr"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Listing maps repository name to descriptor for one endpoint.
type Listing map[string]snapshotrepo.Descriptor

// Directory reads and writes the snapshot repositories of an endpoint.
type Directory struct {
	sender Sender
	logger logr.Logger
}

// NewDirectory returns a Directory issuing its calls through sender.
func NewDirectory(sender Sender, logger logr.Logger) *Directory {
	return &Directory{sender: sender, logger: logger}
}

type repositoryEntry struct {
	Type     string         `json:"type"`
	Settings map[string]any `json:"settings"`
}

// List fetches every repository registered on p. An endpoint that cannot be
// reached or does not answer 200 has no repositories; only an unparseable 200
// body is an error (ErrMalformedResponse). Timeouts are returned as-is so the
// caller can decide how to degrade.
func (d *Directory) List(ctx context.Context, p profile.Profile) (Listing, error) {
	resp, err := d.sender.Send(ctx, p, http.MethodGet, constants.APIPathSnapshot, nil)
	if err != nil {
		return Listing{}, err
	}
	if resp.NoData {
		return Listing{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		d.logger.V(1).Info("Repository listing returned non-200; assuming none exist",
			"endpoint", p.BaseURL(), "status", resp.StatusCode)
		return Listing{}, nil
	}
	return parseListing(resp.Body)
}

// Refresh is List for the mutating path: a listing that cannot be obtained
// is an error instead of an empty result.
func (d *Directory) Refresh(ctx context.Context, p profile.Profile) (Listing, error) {
	resp, err := d.sender.Send(ctx, p, http.MethodGet, constants.APIPathSnapshot, nil)
	if err != nil {
		return nil, err
	}
	if resp.NoData {
		return nil, operatorerrors.WrapRemoteUnreachable(fmt.Errorf("refresh %s: connection closed before a response was received", p.BaseURL()))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &operatorerrors.RemoteRejectedError{
			StatusCode: resp.StatusCode,
			Message:    RemoteErrorMessage(resp.StatusCode, resp.Body),
		}
	}
	return parseListing(resp.Body)
}

// Instances returns every repository on p sorted by name.
func (d *Directory) Instances(ctx context.Context, p profile.Profile) ([]snapshotrepo.Descriptor, error) {
	listing, err := d.List(ctx, p)
	if err != nil {
		return nil, err
	}
	return listing.Sorted(), nil
}

// Sorted returns the descriptors ordered by name.
func (l Listing) Sorted() []snapshotrepo.Descriptor {
	out := make([]snapshotrepo.Descriptor, 0, len(l))
	for _, desc := range l {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func parseListing(body []byte) (Listing, error) {
	var entries map[string]repositoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, operatorerrors.WrapMalformedResponse(fmt.Errorf("failed to parse repository listing: %w", err))
	}

	listing := make(Listing, len(entries))
	for name, entry := range entries {
		desc, err := entry.descriptor(name)
		if err != nil {
			return nil, operatorerrors.WrapMalformedResponse(fmt.Errorf("repository %q: %w", name, err))
		}
		listing[name] = desc
	}
	return listing, nil
}

func (e repositoryEntry) descriptor(name string) (snapshotrepo.Descriptor, error) {
	// Elasticsearch reports settings as strings ("true"), older versions as JSON bools.
	compress, err := profile.ParseBool(constants.SettingCompress, e.Settings[constants.SettingCompress], true)
	if err != nil {
		return snapshotrepo.Descriptor{}, err
	}
	return snapshotrepo.Descriptor{
		Name:                   name,
		Type:                   e.Type,
		Compress:               compress,
		Location:               stringSetting(e.Settings[constants.SettingLocation]),
		ChunkSize:              stringSetting(e.Settings[constants.SettingChunkSize]),
		MaxRestoreBytesPerSec:  stringSetting(e.Settings[constants.SettingMaxRestoreBytes]),
		MaxSnapshotBytesPerSec: stringSetting(e.Settings[constants.SettingMaxSnapshotBytes]),
	}, nil
}

func stringSetting(v any) *string {
	switch s := v.(type) {
	case string:
		return ptr.To(s)
	case float64:
		return ptr.To(strconv.FormatFloat(s, 'f', -1, 64))
	case bool:
		return ptr.To(strconv.FormatBool(s))
	default:
		return nil
	}
}
