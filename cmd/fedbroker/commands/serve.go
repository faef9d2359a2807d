package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fedbroker/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run this federation member",
		Long: `Run the federation member described by the config file.

The member recovers its orders from the store, serves federation calls from
its peers, runs the order processors and exposes prometheus metrics until it
receives SIGINT or SIGTERM.`,
		Example: `  # Run with a YAML member file
  fedbroker serve -c member-a.yaml

  # Run a CUE member file on another port
  fedbroker serve -c member-b.cue --listen 127.0.0.1:7444`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Member.ListenAddress = listen
			}
			cfg.Telemetry.ServiceVersion = version

			tel, err := telemetry.NewTelemetry(&cfg.Telemetry, cfg.Member.ID)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			tel.LogEvents(tel.Logger)
			ctx := tel.WithContext(cmd.Context())

			m, err := newMember(ctx, cfg, tel)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := m.close(shutdownCtx); err != nil {
					telemetry.FromContext(ctx).WithError(err).Warn("Shutdown incomplete")
				}
			}()

			lis, err := net.Listen("tcp", cfg.Member.ListenAddress)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Member.ListenAddress, err)
			}

			if err := m.run(ctx, lis); err != nil {
				return err
			}
			telemetry.FromContext(ctx).Info("Member stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override member.listen_address")

	return cmd
}
