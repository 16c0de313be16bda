package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
	importservice "github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
)

// analyzeFlags are shared by analyze and commit.
type analyzeFlags struct {
	format    string
	mapping   map[string]string
	sheet     string
	headerRow int
	delimiter string
	snapshot  string
	verbose   bool
}

func (f *analyzeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "Source format id (detected from headers when empty)")
	cmd.Flags().StringToStringVar(&f.mapping, "map", nil, "Assign a column to a field, e.g. --map title=\"Song Name\"")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Worksheet to read from a spreadsheet")
	cmd.Flags().IntVar(&f.headerRow, "header-row", -1, "0-based header row (-1 detects it)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "Field delimiter for delimited text files")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "Write the mapped rows to this CSV file")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "List every row, not only rows with issues")
}

func (f *analyzeFlags) options() (importservice.AnalyzeOptions, error) {
	opts := importservice.AnalyzeOptions{
		Reader: reader.Options{HeaderRow: f.headerRow, Sheet: f.sheet},
		Format: catalog.FormatID(f.format),
	}
	if f.delimiter != "" {
		r, size := utf8.DecodeRuneInString(f.delimiter)
		if size != len(f.delimiter) {
			return opts, fmt.Errorf("delimiter must be a single character, got %q", f.delimiter)
		}
		opts.Reader.Delimiter = r
	}
	if len(f.mapping) > 0 {
		opts.Override = catalog.FieldMapping(f.mapping)
	}
	return opts, nil
}

// analyze reads path and runs the pipeline up to validation and matching.
// A session with unmapped required fields is returned together with its
// mapping error.
func (f *analyzeFlags) analyze(ctx context.Context, svc *importservice.ImportService, path string) (*importservice.Session, error) {
	opts, err := f.options()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return svc.Analyze(ctx, filepath.Base(path), data, opts)
}

func (f *analyzeFlags) writeSnapshot(sess *importservice.Session) error {
	if f.snapshot == "" || sess.Results == nil {
		return nil
	}
	file, err := os.Create(f.snapshot)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := importservice.WriteMappedSnapshot(file, sess); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Read, map, validate and match a file without writing to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDependencies(cmd.Context(), func(deps *Dependencies) error {
				sess, err := flags.analyze(cmd.Context(), deps.ImportService, args[0])
				if sess != nil {
					printSession(cmd.OutOrStdout(), sess, flags.verbose)
				}
				if err != nil {
					return err
				}
				return flags.writeSnapshot(sess)
			})
		},
	}
	flags.bind(cmd)

	return cmd
}
