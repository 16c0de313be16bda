package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func newRetentionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Purge old archived artifacts and activity entries",
	}
	cmd.AddCommand(newRetentionRunCommand(ctx))
	cmd.AddCommand(newRetentionServeCommand(ctx))
	return cmd
}

func newRetentionRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Purge once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDependencies(cmd.Context(), func(deps *Dependencies) error {
				purged := deps.RetentionScheduler().RunNow(cmd.Context())

				names := make([]string, 0, len(purged))
				for name := range purged {
					names = append(names, name)
				}
				sort.Strings(names)
				rows := make([][]string, 0, len(names))
				for _, name := range names {
					rows = append(rows, []string{name, strconv.Itoa(purged[name])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Target", "Purged"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newRetentionServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Purge on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			return ctx.withDependencies(runCtx, func(deps *Dependencies) error {
				scheduler := deps.RetentionScheduler()
				if err := scheduler.Start(); err != nil {
					return err
				}

				<-runCtx.Done()
				<-scheduler.Stop().Done()
				return nil
			})
		},
	}
}
