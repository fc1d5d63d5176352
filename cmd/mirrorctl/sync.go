package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	syncRemoveOrphans bool
	syncDryRun        bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncRemoveOrphans, "remove-orphans", false, "delete mirror records with no vector counterpart")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report actions without applying them")
}

// statusCmd reports drift between the two stores
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status between the stores",
	Long: `Compare the vector store and the mirror store and report drift.

Examples:
  mirrorctl status`,
	RunE: runStatus,
}

// syncCmd runs a reconciliation pass
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the mirror store against the vector store",
	Long: `Run a reconciliation pass: create missing mirror records, update
drifted ones, and optionally delete orphans.

Examples:
  # Preview what a sync would do
  mirrorctl sync --dry-run

  # Converge, including orphan removal
  mirrorctl sync --remove-orphans`,
	RunE: runSync,
}

// SyncStatus matches internal/reconciler/report.go SyncStatus
type SyncStatus struct {
	VectorCount        int  `json:"vectorCount"`
	MirrorCount        int  `json:"mirrorCount"`
	InSync             bool `json:"inSync"`
	MissingInMirror    int  `json:"missingInMirror"`
	MissingInVector    int  `json:"missingInVector"`
	ContentDifferences int  `json:"contentDifferences"`
}

// SyncStatusResponse matches internal/http/types.go SyncStatusResponse
type SyncStatusResponse struct {
	Status       *SyncStatus `json:"status"`
	LastReport   *SyncReport `json:"lastReport,omitempty"`
	CircuitState string      `json:"circuitState,omitempty"`
}

// SyncReport matches internal/reconciler/report.go SyncReport
type SyncReport struct {
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
	DryRun      bool      `json:"dryRun"`
	VectorCount int       `json:"vectorCount"`
	MirrorCount int       `json:"mirrorCount"`
	Actions     struct {
		Created        int `json:"created"`
		Updated        int `json:"updated"`
		OrphansRemoved int `json:"orphansRemoved"`
	} `json:"actions"`
	Details struct {
		Created        []string `json:"created,omitempty"`
		Updated        []string `json:"updated,omitempty"`
		OrphansRemoved []string `json:"orphansRemoved,omitempty"`
	} `json:"details"`
	Errors []string `json:"errors"`
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	var resp SyncStatusResponse
	url := fmt.Sprintf("%s/api/v1/sync/status", serverURL)
	if err := doJSON(http.MethodGet, url, nil, http.StatusOK, &resp); err != nil {
		return err
	}

	st := resp.Status
	fmt.Printf("Vector records:      %d\n", st.VectorCount)
	fmt.Printf("Mirror records:      %d\n", st.MirrorCount)
	fmt.Printf("Missing in mirror:   %d\n", st.MissingInMirror)
	fmt.Printf("Missing in vector:   %d\n", st.MissingInVector)
	fmt.Printf("Content differences: %d\n", st.ContentDifferences)
	if st.InSync {
		fmt.Println("Stores are in sync.")
	} else {
		fmt.Println("Stores have drifted; run `mirrorctl sync` to converge.")
	}

	if resp.CircuitState != "" {
		fmt.Printf("Scheduler circuit:   %s\n", resp.CircuitState)
	}
	if resp.LastReport != nil {
		fmt.Printf("Last scheduled run:  %s (success: %t)\n",
			resp.LastReport.Timestamp.Format(time.RFC3339), resp.LastReport.Success)
	}

	return nil
}

// runSync handles the sync command
func runSync(cmd *cobra.Command, args []string) error {
	req := map[string]bool{
		"removeOrphans": syncRemoveOrphans,
		"dryRun":        syncDryRun,
	}

	var report SyncReport
	url := fmt.Sprintf("%s/api/v1/sync", serverURL)
	if err := doJSON(http.MethodPost, url, req, http.StatusOK, &report); err != nil {
		return err
	}

	printReport(&report)
	if !report.Success {
		return fmt.Errorf("reconciliation finished with %d error(s)", len(report.Errors))
	}
	return nil
}

// printReport renders a sync report for terminal output.
func printReport(report *SyncReport) {
	mode := "applied"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("Reconciliation (%s) at %s\n", mode, report.Timestamp.Format(time.RFC3339))
	fmt.Printf("  Vector records: %d, mirror records: %d\n", report.VectorCount, report.MirrorCount)
	fmt.Printf("  Created: %d, updated: %d, orphans removed: %d\n",
		report.Actions.Created, report.Actions.Updated, report.Actions.OrphansRemoved)

	for _, d := range report.Details.Created {
		fmt.Printf("    + %s\n", d)
	}
	for _, d := range report.Details.Updated {
		fmt.Printf("    ~ %s\n", d)
	}
	for _, d := range report.Details.OrphansRemoved {
		fmt.Printf("    - %s\n", d)
	}
	for _, e := range report.Errors {
		fmt.Printf("    ! %s\n", e)
	}
}
