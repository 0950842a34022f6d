package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/types"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		expiresIn, _ := cmd.Flags().GetString("expires-in")
		agents, _ := cmd.Flags().GetStringSlice("allow-agent")
		probes, _ := cmd.Flags().GetStringSlice("allow-probe")

		body := map[string]interface{}{
			"name": args[0],
			"role": role,
			"policy": types.APIKeyPolicy{
				AllowedAgents: agents,
				AllowedProbes: probes,
			},
		}
		if expiresIn != "" {
			body["expires_in"] = expiresIn
		}

		var resp struct {
			Key       *types.APIKey `json:"key"`
			Plaintext string        `json:"plaintext"`
		}
		if err := apiCall(cmd, http.MethodPost, "/api/v1/apikeys", body, &resp); err != nil {
			return err
		}

		fmt.Printf("Key ID: %s\n", resp.Key.ID)
		fmt.Printf("Key:    %s\n", resp.Plaintext)
		fmt.Println("\nStore this key now; it cannot be shown again.")
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		var keys []*types.APIKey
		if err := apiCall(cmd, http.MethodGet, "/api/v1/apikeys", nil, &keys); err != nil {
			return err
		}

		if len(keys) == 0 {
			fmt.Println("No API keys")
			return nil
		}
		fmt.Printf("%-36s %-20s %-8s %-8s %s\n", "ID", "NAME", "ROLE", "STATUS", "POLICY")
		for _, k := range keys {
			status := "active"
			if k.RevokedAt != nil {
				status = "revoked"
			}
			var policy []string
			if len(k.Policy.AllowedAgents) > 0 {
				policy = append(policy, "agents="+strings.Join(k.Policy.AllowedAgents, ","))
			}
			if len(k.Policy.AllowedProbes) > 0 {
				policy = append(policy, "probes="+strings.Join(k.Policy.AllowedProbes, ","))
			}
			policyStr := strings.Join(policy, " ")
			if policyStr == "" {
				policyStr = "-"
			}
			fmt.Printf("%-36s %-20s %-8s %-8s %s\n", k.ID, k.Name, k.RoleID, status, policyStr)
		}
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall(cmd, http.MethodDelete, "/api/v1/apikeys/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("API key revoked")
		return nil
	},
}

func init() {
	apikeyCreateCmd.Flags().String("role", "member", "Role attached to the key (member, admin, owner)")
	apikeyCreateCmd.Flags().String("expires-in", "", "Key validity (e.g. 720h); empty for no expiry")
	apikeyCreateCmd.Flags().StringSlice("allow-agent", nil, "Restrict key to these agent names (repeatable)")
	apikeyCreateCmd.Flags().StringSlice("allow-probe", nil, "Restrict key to these probe globs (repeatable)")
	addClientFlags(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
}
