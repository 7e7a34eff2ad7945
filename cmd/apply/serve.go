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
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// RunServe runs convergence passes on a cron schedule and serves metrics and
// health endpoints until interrupted.
func RunServe(args []string) error {
	o := &options{}
	var schedule, listenAddr string

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	o.bindFlags(fs)
	fs.StringVar(&schedule, "schedule", constants.DefaultSchedule, "Cron expression for convergence passes.")
	fs.StringVar(&listenAddr, "listen-address", ":8080", "Address serving /metrics, /healthz and /readyz.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := o.validate(); err != nil {
		return err
	}
	if err := scheduler.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid --schedule: %w", err)
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&o.zap)))
	logger := ctrl.Log.WithName("serve")

	src, err := o.source()
	if err != nil {
		return err
	}
	r := o.runner(src, logger, scheduler.MetricsReporter{})

	ctx := ctrl.SetupSignalHandler()
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newServeMux(r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving metrics and health endpoints", "address", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return r.Start(gctx, schedule)
	})
	return g.Wait()
}

// newServeMux exposes /metrics from the shared registry, /healthz always and
// /readyz once the first pass has completed.
func newServeMux(r *scheduler.Runner) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if r.LastReport() == nil {
			http.Error(w, "no pass completed yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
