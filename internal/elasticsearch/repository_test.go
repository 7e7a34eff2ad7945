package elasticsearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

func TestBuildRequestBody(t *testing.T) {
	tests := []struct {
		name string
		desc snapshotrepo.Descriptor
		want string
	}{
		{
			name: "all settings",
			desc: snapshotrepo.Descriptor{
				Name:                   "foo",
				Type:                   "fs",
				Compress:               true,
				Location:               ptr.To("/bak"),
				ChunkSize:              ptr.To("500m"),
				MaxRestoreBytesPerSec:  ptr.To("50mb"),
				MaxSnapshotBytesPerSec: ptr.To("50mb"),
			},
			want: `{"type":"fs","settings":{"compress":true,"location":"/bak","chunk_size":"500m","max_restore_bytes_per_sec":"50mb","max_snapshot_bytes_per_sec":"50mb"}}`,
		},
		{
			name: "unset optional settings are omitted",
			desc: snapshotrepo.Descriptor{
				Name:     "foo",
				Type:     "fs",
				Compress: false,
				Location: ptr.To("/bak"),
			},
			want: `{"type":"fs","settings":{"compress":false,"location":"/bak"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildRequestBody(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRemoteErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "root cause", body: `{"error":{"root_cause":[{"reason":"disk full"}]}}`, want: "disk full"},
		{name: "legacy flat error", body: `{"error":"disk full"}`, want: "disk full"},
		{name: "empty object", body: `{}`, want: "HTTP 500"},
		{name: "object without root cause", body: `{"error":{"type":"x"}}`, want: "HTTP 500"},
		{name: "not json", body: `<html>oops</html>`, want: "HTTP 500"},
		{name: "empty body", body: ``, want: "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoteErrorMessage(http.StatusInternalServerError, []byte(tt.body)))
		})
	}
}

func TestDirectory_Put(t *testing.T) {
	var gotMethod, gotPath, gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotContentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}))
	defer server.Close()

	logger, lines := capturingLogger()
	dir, mgr := newTestDirectory(logger)
	defer mgr.Close()

	err := dir.Put(context.Background(), profileFor(t, server.URL), snapshotrepo.Descriptor{
		Name:                   "foo",
		Type:                   "fs",
		Compress:               true,
		Location:               ptr.To("/bak"),
		ChunkSize:              ptr.To("500m"),
		MaxRestoreBytesPerSec:  ptr.To("50mb"),
		MaxSnapshotBytesPerSec: ptr.To("50mb"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/_snapshot/foo", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, `{"type":"fs","settings":{"compress":true,"location":"/bak","chunk_size":"500m","max_restore_bytes_per_sec":"50mb","max_snapshot_bytes_per_sec":"50mb"}}`, gotBody)

	audited := false
	for _, line := range *lines {
		if strings.Contains(line.args, `"event_type"="RepositoryMutated"`) {
			audited = true
		}
	}
	assert.True(t, audited, "mutation should emit an audit event")
}

func TestDirectory_Delete(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}))
	defer server.Close()

	dir, mgr := newTestDirectory(logr.Discard())
	defer mgr.Close()

	require.NoError(t, dir.Delete(context.Background(), profileFor(t, server.URL), "old"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/_snapshot/old", gotPath)
}

func TestDirectory_Put_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "root cause", body: `{"error":{"root_cause":[{"reason":"disk full"}]}}`, want: "disk full"},
		{name: "legacy", body: `{"error":"disk full"}`, want: "disk full"},
		{name: "no error field", body: `{}`, want: "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			dir, mgr := newTestDirectory(logr.Discard())
			defer mgr.Close()

			err := dir.Put(context.Background(), profileFor(t, server.URL), snapshotrepo.Descriptor{
				Name: "foo", Type: "fs", Compress: true, Location: ptr.To("/bak"),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, operatorerrors.ErrRemoteRejected)

			var rejected *operatorerrors.RemoteRejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, http.StatusInternalServerError, rejected.StatusCode)
			assert.Equal(t, tt.want, rejected.Message)
		})
	}
}

func TestDirectory_Delete_UnreachableIsFatal(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	p := profileFor(t, server.URL)
	server.Close()

	dir, mgr := newTestDirectory(logr.Discard())
	defer mgr.Close()

	err := dir.Delete(context.Background(), p, "old")
	require.Error(t, err)
	assert.ErrorIs(t, err, operatorerrors.ErrRemoteUnreachable)
}

func TestDirectory_Put_EscapesName(t *testing.T) {
	var gotRawPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	dir, mgr := newTestDirectory(logr.Discard())
	defer mgr.Close()

	err := dir.Put(context.Background(), profileFor(t, server.URL), snapshotrepo.Descriptor{
		Name: "my repo", Type: "fs", Compress: true, Location: ptr.To("/bak"),
	})
	require.NoError(t, err)
	assert.Equal(t, "/_snapshot/my%20repo", gotRawPath)
}
