package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-engine/internal/app"
)

func sweepCommand(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "run one reservation expiry pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), in.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, skipped, err := a.Sweeper().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "another instance holds the sweep lock")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders, %d reservations, %d failed\n", res.Orders, res.Expired, res.Failed)
			return nil
		},
	}
}

func errorsCommands(in *instance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "inspect and resolve logged order errors",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "list unresolved errors, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), in.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			es, err := a.Processor.Errors.Unresolved(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(es)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of errors")

	var by, notes string
	resolve := &cobra.Command{
		Use:   "resolve <error-id>",
		Short: "mark an error resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), in.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Processor.Errors.Resolve(cmd.Context(), args[0], by, notes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s (%s) by %s\n", e.ID, e.Code, e.ResolvedBy)
			return nil
		},
	}
	resolve.Flags().StringVar(&by, "by", "", "who resolved it")
	resolve.Flags().StringVar(&notes, "notes", "", "resolution notes")
	_ = resolve.MarkFlagRequired("by")

	cmd.AddCommand(list, resolve)
	return cmd
}
