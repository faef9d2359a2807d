package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fedbroker/pkg/aaa"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the member configuration and policy",
		Long: `Validate the member config file and, when configured, its Rego policy.

This command checks:
  - YAML or CUE syntax and the member schema
  - Field constraints (addresses, TLS files, secret length, intervals)
  - That the authorization policy compiles`,
		Example: `  fedbroker validate -c member-a.cue`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cfg.Auth.PolicyFile != "" {
				authz, err := aaa.NewAuthorizer(cmd.Context(), quietLogger(), cfg.Auth.TrustedMembers)
				if err != nil {
					return err
				}
				if err := authz.LoadFile(cmd.Context(), cfg.Auth.PolicyFile); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"member": cfg.Member.ID,
					"peers":  cfg.RemotePeers(),
					"valid":  true,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: member %s with %d peers is valid\n",
				configPath, cfg.Member.ID, len(cfg.RemotePeers()))
			return nil
		},
	}

	return cmd
}
