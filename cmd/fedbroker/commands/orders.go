package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/stores"
)

func newOrdersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect the orders in the member store",
		Long: `Inspect the orders kept in the member's SQLite store.

The store may be read while the member is running.`,
	}

	cmd.AddCommand(newOrdersListCommand())
	cmd.AddCommand(newOrdersShowCommand())

	return cmd
}

func newOrdersListCommand() *cobra.Command {
	var (
		state     string
		provider  string
		requester string
		all       bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Example: `  # Orders still spawning
  fedbroker orders list --state SPAWNING

  # Everything member-b provides, including garbage collected orders
  fedbroker orders list --provider member-b --all --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.OrderFilter{
				ProvidingMember:    provider,
				RequestingMember:   requester,
				IncludeDeactivated: all,
				Limit:              limit,
			}
			if state != "" {
				filter.State = engine.OrderState(state)
				if err := filter.State.Validate(); err != nil {
					return err
				}
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListOrders(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, r := range records {
				r.Order.UserToken = ""
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATE\tREQUESTER\tPROVIDER\tINSTANCE\tUPDATED")
			for _, r := range records {
				o := r.Order
				st := string(o.State)
				if r.Deactivated {
					st += " (deactivated)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.ResourceType, st, o.RequestingMember, o.ProvidingMember,
					o.InstanceID, o.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by order state")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by providing member")
	cmd.Flags().StringVar(&requester, "requester", "", "filter by requesting member")
	cmd.Flags().BoolVar(&all, "all", false, "include deactivated orders")
	cmd.Flags().IntVar(&limit, "limit", 100, "max orders to list (0 for no limit)")

	return cmd
}

func newOrdersShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show one order and its state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			record.Order.UserToken = ""
			history, err := store.StateChanges(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"order":       record.Order,
					"deactivated": record.Deactivated,
					"history":     history,
				})
			}

			o := record.Order
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order:       %s\n", o.ID)
			fmt.Fprintf(out, "Type:        %s\n", o.ResourceType)
			fmt.Fprintf(out, "State:       %s\n", o.State)
			fmt.Fprintf(out, "Requester:   %s\n", o.RequestingMember)
			fmt.Fprintf(out, "Provider:    %s\n", o.ProvidingMember)
			fmt.Fprintf(out, "User:        %s@%s\n", o.User.ID, o.User.IdentityProvider)
			if o.InstanceID != "" {
				fmt.Fprintf(out, "Instance:    %s (%s)\n", o.InstanceID, o.CachedInstanceState)
			}
			fmt.Fprintf(out, "Deactivated: %v\n", record.Deactivated)
			fmt.Fprintln(out, "\nHistory:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, h := range history {
				from := string(h.From)
				if from == "" {
					from = "-"
				}
				fmt.Fprintf(w, "  %s\t%s\t-> %s\n", h.ChangedAt.Format("2006-01-02 15:04:05"), from, h.To)
			}
			return w.Flush()
		},
	}

	return cmd
}

func openStore(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return stores.Open(cmd.Context(), stores.Config{Path: cfg.Store.Path, MaxOpenConns: 1})
}
