package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the source formats the importer recognizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			def := registry.Default()
			var rows [][]string
			for _, f := range registry.Formats() {
				rows = append(rows, []string{
					string(f.ID),
					f.Name,
					string(f.Kind),
					strconv.FormatBool(f.ID == def),
					strings.Join(f.Required, ", "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Kind", "Default", "Required"},
				rows,
				nil,
			))
			return nil
		},
	}
}
