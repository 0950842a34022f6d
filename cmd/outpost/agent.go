package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect enrolled agents and run probes",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents visible to the caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		var agents []*types.Agent
		if err := apiCall(cmd, http.MethodGet, "/api/v1/agents", nil, &agents); err != nil {
			return err
		}

		if len(agents) == 0 {
			fmt.Println("No agents")
			return nil
		}
		fmt.Printf("%-20s %-10s %-20s %-10s %s\n", "NAME", "STATUS", "LAST SEEN", "OS", "VERSION")
		for _, a := range agents {
			fmt.Printf("%-20s %-10s %-20s %-10s %s\n",
				a.Name, a.Status, a.LastSeen.Format("2006-01-02 15:04:05"), a.OS, a.AgentVersion)
		}
		return nil
	},
}

var agentProbeCmd = &cobra.Command{
	Use:   "probe <agent> <probe>",
	Short: "Execute a probe on an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, _ := cmd.Flags().GetString("params")
		timeoutMs, _ := cmd.Flags().GetInt64("timeout-ms")

		req := types.ProbeRequest{
			Probe:     args[1],
			TimeoutMs: timeoutMs,
		}
		if params != "" {
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("--params must be valid JSON")
			}
			req.Params = json.RawMessage(params)
		}

		var result types.ProbeResult
		path := "/api/v1/agents/" + url.PathEscape(args[0]) + "/probe"
		if err := apiCall(cmd, http.MethodPost, path, &req, &result); err != nil {
			return err
		}

		fmt.Printf("Status:   %s\n", result.Status)
		fmt.Printf("Duration: %dms\n", result.DurationMs)
		if result.Error != "" {
			fmt.Printf("Error:    %s\n", result.Error)
		}
		if len(result.Data) > 0 {
			pretty, err := json.MarshalIndent(json.RawMessage(result.Data), "", "  ")
			if err == nil {
				fmt.Printf("Data:\n%s\n", pretty)
			}
		}
		return nil
	},
}

func init() {
	agentProbeCmd.Flags().String("params", "", "Probe parameters as a JSON object")
	agentProbeCmd.Flags().Int64("timeout-ms", 0, "Per-request timeout in milliseconds")
	addClientFlags(agentListCmd, agentProbeCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentProbeCmd)
}
