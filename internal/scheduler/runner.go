// Package scheduler runs convergence passes: load the catalog, discover the
// current state once per endpoint, then apply every declaration.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dc-tec/snaprepo-operator/internal/catalog"
	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/discovery"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// Entry is the result of one declaration in a pass.
type Entry struct {
	Source     string
	Repository string
	Endpoint   string
	Ensure     snapshotrepo.Ensure
	// Operation is what the pass did, or would do in dry-run mode.
	Operation reconcile.Operation
	// Outcome is empty in dry-run mode when a change is pending.
	Outcome reconcile.Outcome
	Err     error
}

// PassReport summarizes one pass.
type PassReport struct {
	Started  time.Time
	Finished time.Time
	DryRun   bool
	// Profiles is the number of distinct endpoints listed.
	Profiles int
	Entries  []Entry
	Sessions []*reconcile.Session
	// Result is the requeue decision derived from the sessions.
	Result reconcile.Result
	// Err is set when the pass could not run at all.
	Err error
}

// Failed returns the number of entries that failed.
func (p *PassReport) Failed() int {
	n := 0
	for _, e := range p.Entries {
		if e.Outcome == reconcile.OutcomeFailed {
			n++
		}
	}
	return n
}

// Counts returns the number of entries per outcome.
func (p *PassReport) Counts() map[reconcile.Outcome]int {
	counts := make(map[reconcile.Outcome]int)
	for _, e := range p.Entries {
		counts[e.Outcome]++
	}
	return counts
}

// Reporter receives every finished pass, including passes that failed to run.
type Reporter interface {
	Report(ctx context.Context, report *PassReport)
}

// Runner executes passes. Passes of one Runner never overlap.
type Runner struct {
	Catalog      catalog.Source
	Deduplicator *discovery.Deduplicator
	Engine       *reconcile.Engine
	// Workers bounds concurrent applies. Zero uses the default.
	Workers int
	// DryRun plans without issuing mutating calls.
	DryRun bool
	// Drift is the requeue interval when nothing failed. Zero disables it.
	Drift     time.Duration
	Reporters []Reporter
	Logger    logr.Logger

	passMu sync.Mutex

	mu   sync.RWMutex
	last *PassReport
}

// RunPass runs one pass. The returned error is only set when the catalog
// could not be loaded or ctx ended; per-declaration failures live in the
// report.
func (r *Runner) RunPass(ctx context.Context) (*PassReport, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	report := &PassReport{Started: time.Now(), DryRun: r.DryRun}
	report.Err = r.run(ctx, report)
	report.Finished = time.Now()

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	for _, rep := range r.Reporters {
		rep.Report(ctx, report)
	}
	return report, report.Err
}

// LastReport returns the most recent pass, or nil before the first.
func (r *Runner) LastReport() *PassReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Runner) run(ctx context.Context, report *PassReport) error {
	decls, err := r.Catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	prefetched, err := r.Deduplicator.Prefetch(ctx, decls)
	if err != nil {
		return err
	}
	report.Profiles = prefetched.Profiles
	report.Sessions = prefetched.Sessions

	workers := r.Workers
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, s := range prefetched.Sessions {
		if s.Done() {
			continue
		}
		g.Go(func() error {
			if r.DryRun {
				r.Engine.Plan(s)
				return nil
			}
			// Failures are recorded on the session.
			_ = r.Engine.Apply(gctx, s)
			return nil
		})
	}
	_ = g.Wait()

	report.Entries = make([]Entry, len(prefetched.Sessions))
	for i, s := range prefetched.Sessions {
		report.Entries[i] = entryFor(s, r.DryRun)
	}
	report.Result = reconcile.ResultFor(prefetched.Sessions, r.Drift)
	return ctx.Err()
}

func entryFor(s *reconcile.Session, dryRun bool) Entry {
	res := s.Resource()
	e := Entry{
		Source:     res.Source,
		Repository: res.Name,
		Ensure:     res.Ensure,
		Operation:  s.PendingOperation(),
		Outcome:    s.Outcome(),
		Err:        s.Err(),
	}
	if res.Profile.Host != "" {
		e.Endpoint = res.Profile.BaseURL()
	}
	if dryRun && e.Outcome == "" && e.Operation == reconcile.OperationNone {
		e.Outcome = reconcile.OutcomeConverged
	}
	return e
}

// Start runs a pass immediately and then on every tick of schedule until
// ctx is done. A tick that fires while a pass is still running is skipped.
func (r *Runner) Start(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(r.Logger),
		cron.WithChain(cron.Recover(r.Logger), cron.SkipIfStillRunning(r.Logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() { r.scheduledPass(ctx) }))

	r.scheduledPass(ctx)
	c.Start()
	r.Logger.Info("Convergence scheduler started", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	r.Logger.Info("Convergence scheduler stopped")
	return nil
}

func (r *Runner) scheduledPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.RunPass(ctx); err != nil && ctx.Err() == nil {
		r.Logger.Error(err, "Convergence pass failed")
	}
}
