package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	ginkgo "github.com/onsi/ginkgo/v2"
	gomega "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dc-tec/snaprepo-operator/internal/catalog"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/discovery"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch"
	"github.com/dc-tec/snaprepo-operator/internal/elasticsearch/estest"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []*PassReport
}

func (r *recordingReporter) Report(_ context.Context, report *PassReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func newRunner(src catalog.Source, dryRun bool, reporters ...Reporter) *Runner {
	dir := elasticsearch.NewDirectory(elasticsearch.NewTransport(nil, logr.Discard()), logr.Discard())
	return &Runner{
		Catalog:      src,
		Deduplicator: discovery.NewDeduplicator(dir, 2, logr.Discard()),
		Engine:       reconcile.NewEngine(dir, nil, logr.Discard()),
		Workers:      3,
		DryRun:       dryRun,
		Reporters:    reporters,
		Logger:       logr.Discard(),
	}
}

func writeCatalog(port int, body string) catalog.Source {
	path := filepath.Join(ginkgo.GinkgoT().TempDir(), "catalog.hcl")
	doc := fmt.Sprintf("defaults {\n  host = \"127.0.0.1\"\n  port = %d\n}\n\n%s", port, body)
	gomega.Expect(os.WriteFile(path, []byte(doc), 0o600)).To(gomega.Succeed())
	return &catalog.FileSource{Path: path}
}

const mixedCatalog = `
repository "keep" {
  location = "/bak/keep"
}

repository "move" {
  location = "/bak/new"
}

repository "fresh" {
  location   = "/bak/fresh"
  chunk_size = "1g"
}

repository "gone" {
  ensure = "absent"
}

repository "never" {
  ensure = "absent"
}
`

func outcomes(report *PassReport) []reconcile.Outcome {
	out := make([]reconcile.Outcome, len(report.Entries))
	for i, e := range report.Entries {
		out[i] = e.Outcome
	}
	return out
}

var _ = ginkgo.Describe("Runner", func() {
	var (
		ctx     context.Context
		cluster *estest.Cluster
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		cluster = estest.NewCluster(ginkgo.GinkgoT())
		cluster.Seed("keep", "fs", map[string]string{"compress": "true", "location": "/bak/keep"})
		cluster.Seed("move", "fs", map[string]string{"compress": "true", "location": "/bak/old"})
		cluster.Seed("gone", "fs", map[string]string{"compress": "true", "location": "/bak/gone"})
	})

	ginkgo.Context("when running a pass", func() {
		ginkgo.It("converges every declaration with a single discovery listing", func() {
			reporter := &recordingReporter{}
			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false, reporter)

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(report.Profiles).To(gomega.Equal(1))
			gomega.Expect(outcomes(report)).To(gomega.Equal([]reconcile.Outcome{
				reconcile.OutcomeConverged,
				reconcile.OutcomeReplaced,
				reconcile.OutcomeCreated,
				reconcile.OutcomeDestroyed,
				reconcile.OutcomeConverged,
			}))
			gomega.Expect(report.Failed()).To(gomega.Equal(0))

			ginkgo.By("listing once for discovery and once per applied change")
			gomega.Expect(cluster.Requests(http.MethodGet, constants.APIPathSnapshot)).To(gomega.Equal(4))
			gomega.Expect(cluster.MutatingRequests()).To(gomega.Equal(3))

			ginkgo.By("leaving the cluster in the declared state")
			_, settings, ok := cluster.Repository("move")
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(settings).To(gomega.HaveKeyWithValue("location", "/bak/new"))
			_, settings, ok = cluster.Repository("fresh")
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(settings).To(gomega.HaveKeyWithValue("chunk_size", "1g"))
			_, _, ok = cluster.Repository("gone")
			gomega.Expect(ok).To(gomega.BeFalse())

			gomega.Expect(reporter.count()).To(gomega.Equal(1))
			gomega.Expect(runner.LastReport()).To(gomega.BeIdenticalTo(report))
		})

		ginkgo.It("is idempotent", func() {
			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false)

			_, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			mutations := cluster.MutatingRequests()

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			for _, o := range outcomes(report) {
				gomega.Expect(o).To(gomega.Equal(reconcile.OutcomeConverged))
			}
			gomega.Expect(cluster.MutatingRequests()).To(gomega.Equal(mutations))
		})

		ginkgo.It("only plans in dry-run mode", func() {
			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), true)

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(cluster.MutatingRequests()).To(gomega.Equal(0))

			ops := make([]reconcile.Operation, len(report.Entries))
			for i, e := range report.Entries {
				ops[i] = e.Operation
			}
			gomega.Expect(ops).To(gomega.Equal([]reconcile.Operation{
				reconcile.OperationNone,
				reconcile.OperationReplace,
				reconcile.OperationCreate,
				reconcile.OperationDestroy,
				reconcile.OperationNone,
			}))
			gomega.Expect(report.Entries[0].Outcome).To(gomega.Equal(reconcile.OutcomeConverged))
			gomega.Expect(report.Entries[1].Outcome).To(gomega.BeEmpty())
		})

		ginkgo.It("reports rejected declarations without touching the network for them", func() {
			runner := newRunner(writeCatalog(cluster.Port(), `
repository "keep" {
  location = "/bak/keep"
}

repository "keep" {
  location = "/bak/elsewhere"
}

repository "bad-port" {
  location = "/bak"
  port     = 70000
}
`), false)

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(outcomes(report)).To(gomega.Equal([]reconcile.Outcome{
				reconcile.OutcomeConverged,
				reconcile.OutcomeFailed,
				reconcile.OutcomeFailed,
			}))
			gomega.Expect(operatorerrors.IsDuplicate(report.Entries[1].Err)).To(gomega.BeTrue())
			gomega.Expect(operatorerrors.IsValidation(report.Entries[2].Err)).To(gomega.BeTrue())
			gomega.Expect(cluster.MutatingRequests()).To(gomega.Equal(0))

			ginkgo.By("not asking for a requeue for permanent failures")
			gomega.Expect(report.Result.RequeueAfter).To(gomega.BeZero())
		})

		ginkgo.It("surfaces the remote error message and requeues on the standard interval", func() {
			cluster.FailNext(http.MethodPut, http.StatusInternalServerError,
				`{"error":{"root_cause":[{"type":"repository_verification_exception","reason":"[fresh] location is not accessible"}]},"status":500}`)
			runner := newRunner(writeCatalog(cluster.Port(), `
repository "fresh" {
  location = "/bak/fresh"
}
`), false)

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Failed()).To(gomega.Equal(1))

			entry := report.Entries[0]
			msg, ok := operatorerrors.RejectedMessage(entry.Err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(msg).To(gomega.Equal("[fresh] location is not accessible"))
			gomega.Expect(report.Result.RequeueAfter).To(gomega.Equal(constants.RequeueStandard))

			_, _, exists := cluster.Repository("fresh")
			gomega.Expect(exists).To(gomega.BeFalse())
		})

		ginkgo.It("fails the pass when the catalog cannot be loaded", func() {
			reporter := &recordingReporter{}
			runner := newRunner(catalog.SourceFunc(func(context.Context) ([]snapshotrepo.Declaration, error) {
				return nil, errors.New("catalog unavailable")
			}), false, reporter)

			report, err := runner.RunPass(ctx)
			gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("catalog unavailable")))
			gomega.Expect(report.Err).To(gomega.HaveOccurred())
			gomega.Expect(reporter.count()).To(gomega.Equal(1), "reporters see failed passes too")
			gomega.Expect(cluster.Requests(http.MethodGet, constants.APIPathSnapshot)).To(gomega.Equal(0))
		})
	})

	ginkgo.Context("when scheduled", func() {
		ginkgo.It("runs a pass immediately and stops with the context", func() {
			reporter := &recordingReporter{}
			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false, reporter)

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				done <- runner.Start(runCtx, "@every 1h")
			}()

			gomega.Eventually(reporter.count).WithTimeout(5 * time.Second).Should(gomega.BeNumerically(">=", 1))
			cancel()
			gomega.Eventually(done).WithTimeout(5 * time.Second).Should(gomega.Receive(gomega.BeNil()))
		})

		ginkgo.It("rejects an invalid schedule", func() {
			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false)
			gomega.Expect(runner.Start(ctx, "not a schedule")).To(gomega.MatchError(gomega.ContainSubstring("invalid cron expression")))
		})
	})

	ginkgo.Context("when reporting", func() {
		ginkgo.It("logs outcomes and a summary", func() {
			var (
				mu    sync.Mutex
				lines []string
			)
			logger := funcr.New(func(prefix, args string) {
				mu.Lock()
				defer mu.Unlock()
				lines = append(lines, args)
			}, funcr.Options{Verbosity: 1})

			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false, LogReporter{Logger: logger})
			_, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			joined := strings.Join(lines, "\n")
			gomega.Expect(joined).To(gomega.ContainSubstring(`"msg"="Repository changed"`))
			gomega.Expect(joined).To(gomega.ContainSubstring(`"outcome"="replaced"`))
			gomega.Expect(joined).To(gomega.ContainSubstring(`"msg"="Convergence pass finished"`))
			gomega.Expect(joined).To(gomega.ContainSubstring(`"declarations"=5`))
		})

		ginkgo.It("records Prometheus metrics", func() {
			before := testutil.ToFloat64(passesTotal.WithLabelValues(PassResultSuccess))
			createdBefore := testutil.ToFloat64(repositoryOutcomesTotal.WithLabelValues(string(reconcile.OutcomeCreated)))

			runner := newRunner(writeCatalog(cluster.Port(), mixedCatalog), false, MetricsReporter{})
			_, err := runner.RunPass(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(testutil.ToFloat64(passesTotal.WithLabelValues(PassResultSuccess))).To(gomega.Equal(before + 1))
			gomega.Expect(testutil.ToFloat64(repositoryOutcomesTotal.WithLabelValues(string(reconcile.OutcomeCreated)))).To(gomega.Equal(createdBefore + 1))
			gomega.Expect(testutil.ToFloat64(discoveryEndpointsGauge)).To(gomega.Equal(1.0))
		})
	})
})

var _ = ginkgo.Describe("Schedules", func() {
	ginkgo.It("accepts standard expressions and descriptors", func() {
		gomega.Expect(ValidateSchedule(constants.DefaultSchedule)).To(gomega.Succeed())
		gomega.Expect(ValidateSchedule("@every 10m")).To(gomega.Succeed())
	})

	ginkgo.It("rejects schedules more frequent than a minute", func() {
		gomega.Expect(ValidateSchedule("@every 10s")).To(gomega.MatchError(gomega.ContainSubstring("less than minimum")))
	})

	ginkgo.It("rejects garbage", func() {
		_, err := ParseSchedule("every day")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
