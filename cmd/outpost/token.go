package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/outpost-sh/outpost/pkg/types"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage enrollment tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a single-use enrollment token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetString("ttl")

		var token types.EnrollmentToken
		body := map[string]string{}
		if ttl != "" {
			body["ttl"] = ttl
		}
		if err := apiCall(cmd, http.MethodPost, "/api/v1/tokens", body, &token); err != nil {
			return err
		}

		fmt.Printf("Token:   %s\n", token.Token)
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrollment tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		var tokens []*types.EnrollmentToken
		if err := apiCall(cmd, http.MethodGet, "/api/v1/tokens", nil, &tokens); err != nil {
			return err
		}

		if len(tokens) == 0 {
			fmt.Println("No enrollment tokens")
			return nil
		}
		fmt.Printf("%-16s %-20s %-20s %s\n", "TOKEN", "EXPIRES", "USED AT", "USED BY")
		for _, t := range tokens {
			usedAt, usedBy := "-", "-"
			if t.UsedAt != nil {
				usedAt = t.UsedAt.Format("2006-01-02 15:04")
				usedBy = t.UsedByAgent
			}
			fmt.Printf("%-16s %-20s %-20s %s\n",
				t.Token[:16], t.ExpiresAt.Format("2006-01-02 15:04"), usedAt, usedBy)
		}
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().String("ttl", "", "Token validity (e.g. 1h, 24h; default from hub config)")
	addClientFlags(tokenCreateCmd, tokenListCmd)
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
}
