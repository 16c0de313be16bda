package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	importservice "github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	var (
		formatID string
		kind     string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty import template for a source format",
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

			id := catalog.FormatID(formatID)
			if id == "" {
				id = registry.Default()
			}
			format, ok := registry.Format(id)
			if !ok {
				return fmt.Errorf("unknown format %q, see the formats command", formatID)
			}

			tk := importservice.TemplateKind(strings.ToLower(kind))
			if output == "" || output == "-" {
				if tk == importservice.TemplateXLSX {
					return fmt.Errorf("an xlsx template needs an output file (-o)")
				}
				return importservice.WriteTemplate(cmd.OutOrStdout(), format, tk)
			}
			return writeTemplateFile(output, format, tk)
		},
	}
	cmd.Flags().StringVar(&formatID, "format", "", "Source format id (default format when empty)")
	cmd.Flags().StringVar(&kind, "kind", string(importservice.TemplateCSV), "Template file type: csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

func writeTemplateFile(path string, format mapping.Format, kind importservice.TemplateKind) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	if err := importservice.WriteTemplate(file, format, kind); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
