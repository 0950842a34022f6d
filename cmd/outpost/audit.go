package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/types"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit chain",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")

		var entries []*types.AuditEntry
		path := fmt.Sprintf("/api/v1/audit?n=%d", n)
		if err := apiCall(cmd, http.MethodGet, path, nil, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Audit chain is empty")
			return nil
		}
		fmt.Printf("%-6s %-24s %-20s %-20s %-8s %s\n", "SEQ", "TIME", "SOURCE", "PROBE", "STATUS", "DURATION")
		for _, e := range entries {
			fmt.Printf("%-6d %-24s %-20s %-20s %-8s %dms\n",
				e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"),
				e.AgentOrSource, e.Probe, e.Status, e.DurationMs)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain's hash links",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Valid    bool   `json:"valid"`
			Entries  int    `json:"entries"`
			BrokenAt uint64 `json:"broken_at"`
			Reason   string `json:"reason"`
		}
		if err := apiCall(cmd, http.MethodGet, "/api/v1/audit/verify", nil, &result); err != nil {
			return err
		}

		if result.Valid {
			fmt.Printf("Chain valid (%d entries)\n", result.Entries)
			return nil
		}
		fmt.Printf("Chain INVALID at sequence %d: %s\n", result.BrokenAt, result.Reason)
		return fmt.Errorf("audit chain verification failed")
	},
}

func init() {
	auditRecentCmd.Flags().Int("n", 50, "Number of entries to show")
	addClientFlags(auditRecentCmd, auditVerifyCmd)
	auditCmd.AddCommand(auditRecentCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}
