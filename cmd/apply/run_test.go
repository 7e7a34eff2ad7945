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

package apply

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dc-tec/snaprepo-operator/internal/catalog"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch/estest"
)

func writeCatalog(t *testing.T, cluster *estest.Cluster, body string) string {
	t.Helper()
	doc := fmt.Sprintf("defaults {\n  host = \"127.0.0.1\"\n  port = %d\n}\n\n%s", cluster.Port(), body)
	path := filepath.Join(t.TempDir(), "catalog.hcl")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func parseOptions(t *testing.T, args ...string) *options {
	t.Helper()
	o := &options{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o.bindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return o
}

func TestRunOnce_AppliesCatalog(t *testing.T) {
	cluster := estest.NewCluster(t)
	cluster.Seed("stale", "fs", map[string]string{"location": "/mnt/stale", "compress": "true"})
	path := writeCatalog(t, cluster, `
repository "nightly" {
  location = "/mnt/nightly"
}

repository "stale" {
  ensure = "absent"
}
`)

	o := parseOptions(t, "--catalog", path, "--workers", "2")
	require.NoError(t, o.validate())
	src, err := o.source()
	require.NoError(t, err)
	assert.IsType(t, &catalog.FileSource{}, src)

	require.NoError(t, runOnce(context.Background(), o.runner(src, logr.Discard())))

	_, settings, ok := cluster.Repository("nightly")
	require.True(t, ok)
	assert.Equal(t, "/mnt/nightly", settings["location"])
	_, _, ok = cluster.Repository("stale")
	assert.False(t, ok)
}

func TestRunOnce_DryRunLeavesClusterUntouched(t *testing.T) {
	cluster := estest.NewCluster(t)
	path := writeCatalog(t, cluster, `
repository "nightly" {
  location = "/mnt/nightly"
}
`)

	o := parseOptions(t, "--catalog", path, "--dry-run")
	src, err := o.source()
	require.NoError(t, err)

	require.NoError(t, runOnce(context.Background(), o.runner(src, logr.Discard())))
	assert.Equal(t, 0, cluster.MutatingRequests())
	assert.Equal(t, 0, cluster.Len())
}

func TestRunOnce_FailedDeclarationIsAnError(t *testing.T) {
	cluster := estest.NewCluster(t)
	path := writeCatalog(t, cluster, `
repository "nightly" {
  location = "/mnt/nightly"
}

repository "broken" {
  location = "/mnt/broken"
  port     = 70000
}
`)

	o := parseOptions(t, "--catalog", path)
	src, err := o.source()
	require.NoError(t, err)

	err = runOnce(context.Background(), o.runner(src, logr.Discard()))
	require.ErrorIs(t, err, ErrPassFailed)
	assert.Contains(t, err.Error(), "1 of 2")

	_, _, ok := cluster.Repository("nightly")
	assert.True(t, ok, "valid declarations still converge")
}

func TestRunOnce_MissingCatalog(t *testing.T) {
	o := parseOptions(t, "--catalog", filepath.Join(t.TempDir(), "absent.hcl"))
	src, err := o.source()
	require.NoError(t, err)

	err = runOnce(context.Background(), o.runner(src, logr.Discard()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load catalog")
}

func TestOptions_Validate(t *testing.T) {
	assert.EqualError(t, parseOptions(t).validate(), "--catalog is required")
	assert.Error(t, parseOptions(t, "--catalog", "c.hcl", "--workers", "0").validate())
}

func TestOptions_S3Source(t *testing.T) {
	o := parseOptions(t, "--catalog", "s3://catalogs/prod/catalog.hcl", "--s3-endpoint", "http://127.0.0.1:9000", "--s3-path-style")
	src, err := o.source()
	require.NoError(t, err)

	s3src, ok := src.(*catalog.S3Source)
	require.True(t, ok)
	assert.Equal(t, "catalogs", s3src.Location.Bucket)
	assert.Equal(t, "prod/catalog.hcl", s3src.Location.Key)
	assert.True(t, s3src.Config.UsePathStyle)

	o = parseOptions(t, "--catalog", "s3://catalogs/c.hcl", "--s3-ca-file", filepath.Join(t.TempDir(), "missing.pem"))
	_, err = o.source()
	assert.ErrorContains(t, err, "--s3-ca-file")
}

func TestServeMux(t *testing.T) {
	cluster := estest.NewCluster(t)
	path := writeCatalog(t, cluster, `
repository "nightly" {
  location = "/mnt/nightly"
}
`)
	o := parseOptions(t, "--catalog", path)
	src, err := o.source()
	require.NoError(t, err)
	r := o.runner(src, logr.Discard())
	mux := newServeMux(r)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/metrics"))

	_, err = r.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get("/readyz"))
}
