package elasticsearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/sjson"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/logging"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// BuildRequestBody renders the PUT body for desired. Keys are emitted in a
// fixed order and optional settings only when set.
func BuildRequestBody(desired snapshotrepo.Descriptor) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("type", desired.Type)
	set("settings."+constants.SettingCompress, desired.Compress)
	for _, opt := range []struct {
		key   string
		value *string
	}{
		{constants.SettingLocation, desired.Location},
		{constants.SettingChunkSize, desired.ChunkSize},
		{constants.SettingMaxRestoreBytes, desired.MaxRestoreBytesPerSec},
		{constants.SettingMaxSnapshotBytes, desired.MaxSnapshotBytesPerSec},
	} {
		if opt.value != nil {
			set("settings."+opt.key, *opt.value)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request body for %q: %w", desired.Name, err)
	}
	return body, nil
}

func repositoryPath(name string) string {
	return constants.APIPathSnapshotRepositoryPrefix + url.PathEscape(name)
}

// Put creates or replaces the repository described by desired.
func (d *Directory) Put(ctx context.Context, p profile.Profile, desired snapshotrepo.Descriptor) error {
	body, err := BuildRequestBody(desired)
	if err != nil {
		return err
	}
	return d.mutate(ctx, p, http.MethodPut, desired.Name, body)
}

// Delete removes the named repository.
func (d *Directory) Delete(ctx context.Context, p profile.Profile, name string) error {
	return d.mutate(ctx, p, http.MethodDelete, name, nil)
}

func (d *Directory) mutate(ctx context.Context, p profile.Profile, method, name string, body []byte) error {
	resp, err := d.sender.Send(ctx, p, method, repositoryPath(name), body)
	if err != nil {
		return err
	}
	if resp.NoData {
		// Only read-only methods report NoData; treat it as a lost connection regardless.
		return operatorerrors.WrapRemoteUnreachable(fmt.Errorf("%s %s: no response", method, name))
	}

	fields := map[string]string{
		"endpoint":   p.BaseURL(),
		"repository": name,
		"method":     method,
		"status":     strconv.Itoa(resp.StatusCode),
	}
	if resp.StatusCode != http.StatusOK {
		rejected := &operatorerrors.RemoteRejectedError{
			StatusCode: resp.StatusCode,
			Message:    RemoteErrorMessage(resp.StatusCode, resp.Body),
		}
		fields["error"] = rejected.Message
		logging.LogAuditEvent(d.logger, "RepositoryMutationRejected", fields)
		return rejected
	}

	logging.LogAuditEvent(d.logger, "RepositoryMutated", fields)
	return nil
}
