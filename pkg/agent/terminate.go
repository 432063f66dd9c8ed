package agent

import (
	"context"
	"fmt"

	"github.com/kyra-ai/kyra/internal/observability"
)

// Terminate shuts the agent down: it recursively terminates every child,
// collecting one report per child, then removes its own ledger entry. Child
// failures are recorded in that child's report and never block sibling
// cleanup or the agent's own deregistration.
func (a *Agent) Terminate(ctx context.Context) []ChildReport {
	a.mu.Lock()
	a.active = false
	children := make([]*Agent, 0, len(a.children))
	for _, c := range a.children {
		children = append(children, c)
	}
	a.children = make(map[string]*Agent)
	a.mu.Unlock()

	reports := make([]ChildReport, 0, len(children))
	for _, child := range children {
		report := a.terminateChild(ctx, child)
		reports = append(reports, report)
	}

	if a.thread.ParentAgentID != "" && len(reports) > 0 {
		// Reports flow upward as a logging hook, not a blocking round-trip.
		a.logger.Info().
			Str("parent_id", a.thread.ParentAgentID).
			Int("reports", len(reports)).
			Msg("Forwarding child reports upward")
	}

	// Ledger removal happens only after every child had its chance to
	// terminate and report.
	a.gov.DeregisterAgent(a.id)
	observability.RecordTermination()
	a.logger.Info().Int("children", len(reports)).Msg("Agent terminated")
	return reports
}

// terminateChild terminates one child and always produces a report, folding
// any failure into the report rather than propagating it.
func (a *Agent) terminateChild(ctx context.Context, child *Agent) (report ChildReport) {
	report = child.Report()

	defer func() {
		if r := recover(); r != nil {
			report.Status = ReportError
			report.Error = fmt.Sprintf("termination panic: %v", r)
			a.logger.Error().
				Str("child_id", child.id).
				Str("error", report.Error).
				Msg("Child termination failed")
		}
	}()

	// Capture usage before the child's ledger entry is removed.
	finalUsage := child.usage()
	grandchildReports := child.Terminate(ctx)
	report = child.Report()
	report.ResourceUsage = finalUsage
	report.Timestamp = a.clock.Now()
	if len(grandchildReports) > 0 {
		a.logger.Debug().
			Str("child_id", child.id).
			Int("descendant_reports", len(grandchildReports)).
			Msg("Collected descendant reports")
	}
	return report
}

// Report produces the agent's own status report, used as its entry in the
// parent's termination aggregate or for on-demand polls.
func (a *Agent) Report() ChildReport {
	usage := a.usage()

	a.mu.Lock()
	defer a.mu.Unlock()

	status := ReportCompleted
	switch {
	case a.halted:
		status = ReportFailed
	case a.active:
		status = ReportRunning
	}

	errText := ""
	if a.halted && len(a.failures) > 0 {
		errText = a.failures[len(a.failures)-1].message
	}

	return ChildReport{
		ChildID:         a.id,
		TaskDefinition:  a.thread.TaskDefinition,
		Status:          status,
		Result:          a.lastResult,
		Error:           errText,
		ResourceUsage:   usage,
		ExecutionTimeMs: a.clock.Now().Sub(a.startedAt).Milliseconds(),
		Timestamp:       a.clock.Now(),
	}
}
