package reconciler

import (
	"fmt"
	"time"
)

// SyncStatus is the read-only view of how far the two stores have drifted.
// It mirrors the reconciliation classification without applying anything.
type SyncStatus struct {
	VectorCount        int  `json:"vectorCount"`
	MirrorCount        int  `json:"mirrorCount"`
	InSync             bool `json:"inSync"`
	MissingInMirror    int  `json:"missingInMirror"`
	MissingInVector    int  `json:"missingInVector"`
	ContentDifferences int  `json:"contentDifferences"`
}

// ActionCounts tallies classified reconciliation actions.
type ActionCounts struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	OrphansRemoved int `json:"orphansRemoved"`
}

// ActionDetails lists human-readable "id (title)" strings per action.
type ActionDetails struct {
	Created        []string `json:"created"`
	Updated        []string `json:"updated"`
	OrphansRemoved []string `json:"orphansRemoved"`
}

// SyncReport is the full result of one reconciliation run. Counts reflect
// classified actions whether or not their application succeeded; Success is
// true iff Errors is empty.
type SyncReport struct {
	Success     bool          `json:"success"`
	Timestamp   time.Time     `json:"timestamp"`
	DryRun      bool          `json:"dryRun"`
	VectorCount int           `json:"vectorCount"`
	MirrorCount int           `json:"mirrorCount"`
	Actions     ActionCounts  `json:"actions"`
	Details     ActionDetails `json:"details"`
	Errors      []string      `json:"errors"`
}

// reportBuilder accumulates a SyncReport during a run.
type reportBuilder struct {
	report SyncReport
}

func newReportBuilder(dryRun bool, vectorCount, mirrorCount int) *reportBuilder {
	return &reportBuilder{
		report: SyncReport{
			Timestamp:   time.Now().UTC(),
			DryRun:      dryRun,
			VectorCount: vectorCount,
			MirrorCount: mirrorCount,
		},
	}
}

// detail renders the "id (title)" form, prefixed in dry runs for display.
func (b *reportBuilder) detail(id, title string) string {
	d := fmt.Sprintf("%s (%s)", id, title)
	if b.report.DryRun {
		return "[dry-run] " + d
	}
	return d
}

func (b *reportBuilder) addCreated(id, title string) {
	b.report.Actions.Created++
	b.report.Details.Created = append(b.report.Details.Created, b.detail(id, title))
}

func (b *reportBuilder) addUpdated(id, title string) {
	b.report.Actions.Updated++
	b.report.Details.Updated = append(b.report.Details.Updated, b.detail(id, title))
}

func (b *reportBuilder) addOrphanRemoved(id, title string) {
	b.report.Actions.OrphansRemoved++
	b.report.Details.OrphansRemoved = append(b.report.Details.OrphansRemoved, b.detail(id, title))
}

func (b *reportBuilder) addError(format string, args ...any) {
	b.report.Errors = append(b.report.Errors, fmt.Sprintf(format, args...))
}

func (b *reportBuilder) build() *SyncReport {
	b.report.Success = len(b.report.Errors) == 0
	return &b.report
}
