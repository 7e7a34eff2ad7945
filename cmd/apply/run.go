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

// Package apply runs convergence passes over a catalog file or object
// without a Kubernetes API server.
package apply

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/snaprepo-operator/internal/catalog"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/discovery"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch"
	"github.com/dc-tec/snaprepo-operator/internal/operationlock"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
	"github.com/dc-tec/snaprepo-operator/internal/scheduler"
	"github.com/dc-tec/snaprepo-operator/internal/storage"
)

// ErrPassFailed is returned when at least one declaration ended in failure.
var ErrPassFailed = errors.New("one or more repositories failed to converge")

// options are shared by the apply and serve commands.
type options struct {
	catalog string
	dryRun  bool
	workers int
	clients elasticsearch.ClientConfig

	s3Endpoint           string
	s3Region             string
	s3PathStyle          bool
	s3CAFile             string
	s3InsecureSkipVerify bool

	zap zap.Options
}

func (o *options) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.catalog, "catalog", "",
		"Catalog to converge: a local .hcl, .json or .yaml file, or an s3://bucket/key URL.")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Plan changes without mutating any cluster.")
	fs.IntVar(&o.workers, "workers", constants.DefaultWorkers, "Maximum concurrent repository applies per pass.")
	o.clients.BindFlags(fs)

	fs.StringVar(&o.s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint for s3:// catalogs (MinIO, Ceph).")
	fs.StringVar(&o.s3Region, "s3-region", storage.DefaultRegion, "Region for s3:// catalogs.")
	fs.BoolVar(&o.s3PathStyle, "s3-path-style", false, "Use path-style addressing for s3:// catalogs.")
	fs.StringVar(&o.s3CAFile, "s3-ca-file", "", "PEM CA bundle trusted in addition to the system roots for s3:// catalogs.")
	fs.BoolVar(&o.s3InsecureSkipVerify, "s3-insecure-skip-verify", false, "Skip TLS verification for s3:// catalogs.")

	o.zap = zap.Options{Development: true}
	o.zap.BindFlags(fs)
}

func (o *options) validate() error {
	if o.catalog == "" {
		return errors.New("--catalog is required")
	}
	if o.workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", o.workers)
	}
	return nil
}

// source returns the catalog source for o.catalog. S3 credentials come from
// the standard AWS environment variables.
func (o *options) source() (catalog.Source, error) {
	if !storage.IsS3URL(o.catalog) {
		return &catalog.FileSource{Path: o.catalog}, nil
	}

	cfg := storage.S3ClientConfig{
		Endpoint:           o.s3Endpoint,
		Region:             o.s3Region,
		AccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:       os.Getenv("AWS_SESSION_TOKEN"),
		UsePathStyle:       o.s3PathStyle,
		InsecureSkipVerify: o.s3InsecureSkipVerify,
	}
	if o.s3CAFile != "" {
		ca, err := os.ReadFile(o.s3CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read --s3-ca-file: %w", err)
		}
		cfg.CACert = ca
	}
	src, err := catalog.NewS3Source(o.catalog, cfg)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (o *options) runner(src catalog.Source, logger logr.Logger, reporters ...scheduler.Reporter) *scheduler.Runner {
	dir := elasticsearch.NewDirectory(
		elasticsearch.NewTransport(elasticsearch.NewClientManager(o.clients), logger),
		logger,
	)
	return &scheduler.Runner{
		Catalog:      src,
		Deduplicator: discovery.NewDeduplicator(dir, o.workers, logger),
		Engine:       reconcile.NewEngine(dir, operationlock.New(), logger),
		Workers:      o.workers,
		DryRun:       o.dryRun,
		Reporters:    append([]scheduler.Reporter{scheduler.LogReporter{Logger: logger}}, reporters...),
		Logger:       logger,
	}
}

// Run executes a single convergence pass and exits non-zero when any
// declaration failed.
func Run(args []string) error {
	o := &options{}
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	o.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := o.validate(); err != nil {
		return err
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&o.zap)))

	src, err := o.source()
	if err != nil {
		return err
	}
	return runOnce(ctrl.SetupSignalHandler(), o.runner(src, ctrl.Log.WithName("apply")))
}

func runOnce(ctx context.Context, r *scheduler.Runner) error {
	report, err := r.RunPass(ctx)
	if err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPassFailed, n, len(report.Entries))
	}
	return nil
}
