package scheduler

import (
	"context"
	"sort"

	"github.com/go-logr/logr"

	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
)

// LogReporter writes one line per declaration and a pass summary.
type LogReporter struct {
	Logger logr.Logger
}

// Report implements Reporter.
func (l LogReporter) Report(_ context.Context, report *PassReport) {
	if report.Err != nil {
		l.Logger.Error(report.Err, "Convergence pass did not complete")
		return
	}

	for _, e := range report.Entries {
		kv := []any{"source", e.Source, "repository", e.Repository, "ensure", e.Ensure}
		if e.Endpoint != "" {
			kv = append(kv, "endpoint", e.Endpoint)
		}
		switch {
		case e.Err != nil:
			l.Logger.Error(e.Err, "Repository failed", kv...)
		case e.Outcome == "":
			l.Logger.Info("Repository change planned", append(kv, "operation", e.Operation)...)
		case e.Outcome == reconcile.OutcomeConverged:
			l.Logger.V(1).Info("Repository converged", kv...)
		default:
			l.Logger.Info("Repository changed", append(kv, "outcome", e.Outcome)...)
		}
	}

	counts := report.Counts()
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	summary := []any{
		"declarations", len(report.Entries),
		"endpoints", report.Profiles,
		"dryRun", report.DryRun,
		"duration", report.Finished.Sub(report.Started).String(),
	}
	for _, o := range outcomes {
		key := o
		if key == "" {
			key = "planned"
		}
		summary = append(summary, key, counts[reconcile.Outcome(o)])
	}
	l.Logger.Info("Convergence pass finished", summary...)
}
