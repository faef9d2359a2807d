package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fedbroker/pkg/config"
)

var (
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fedbroker",
		Short: "fedbroker - federated cloud-resource broker",
		Long: `fedbroker runs one member of a federation of clouds.

An order accepted by a requesting member is fulfilled by a providing member:
compute instances, networks, volumes, attachments and public IPs. Members
talk over mutually authenticated gRPC; users are authenticated with signed
tokens and authorized by a Rego policy.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fedbroker.yaml", "member config file (.yaml or .cue)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newOrdersCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
