package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/catalog-importer/internal/domain/import/committer"
	importservice "github.com/FACorreiaa/catalog-importer/internal/domain/import/service"
	"github.com/FACorreiaa/catalog-importer/pkg/config"
)

type commitFlags struct {
	analyzeFlags

	batchSize  int
	maxRetries int
	stagger    time.Duration
	rowsFrom   string
	matches    map[string]string
	failedOut  string
	retries    int
}

func (f *commitFlags) bind(cmd *cobra.Command) {
	f.analyzeFlags.bind(cmd)
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Records per batch (default from IMPORT_BATCH_SIZE)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", -1, "Retries per transient failure (default from IMPORT_MAX_RETRIES)")
	cmd.Flags().DurationVar(&f.stagger, "stagger", -1, "Delay between record starts (default from IMPORT_STAGGER_DELAY)")
	cmd.Flags().StringVar(&f.rowsFrom, "rows-from", "", "Commit only the rows that failed at commit in this failure export")
	cmd.Flags().StringToStringVar(&f.matches, "match", nil, "Match a royalty row to an existing work, e.g. --match 12=<work id>")
	cmd.Flags().StringVar(&f.failedOut, "failed-out", "", "Write rows that were not imported to this CSV file")
	cmd.Flags().IntVar(&f.retries, "retry", 0, "Rounds of retrying failed records after the commit")
}

// committerOptions layers flag overrides on the configured defaults.
func (f *commitFlags) committerOptions(cfg config.ImportConfig, progress io.Writer) committer.Options {
	opts := committer.Options{
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay,
		RetryMaxDelay:   cfg.RetryMaxDelay,
		StaggerDelay:    cfg.StaggerDelay,
		SequenceRetries: cfg.SequenceRetries,
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	if f.maxRetries >= 0 {
		opts.MaxRetries = f.maxRetries
	}
	if f.stagger >= 0 {
		opts.StaggerDelay = f.stagger
	}
	if progress != nil {
		opts.OnProgress = func(done, total int) {
			fmt.Fprintf(progress, "committed %d/%d\n", done, total)
		}
	}
	return opts
}

func (f *commitFlags) rows() ([]int, error) {
	if f.rowsFrom == "" {
		return nil, nil
	}
	file, err := os.Open(f.rowsFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.rowsFrom, err)
	}
	defer file.Close()

	rows, err := importservice.ReadFailureRows(file)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s lists no rows that failed at commit", f.rowsFrom)
	}
	return rows, nil
}

// applyMatches runs manual matches in row order.
func (f *commitFlags) applyMatches(ctx context.Context, svc *importservice.ImportService, sess *importservice.Session) error {
	rows := make([]int, 0, len(f.matches))
	targets := make(map[int]string, len(f.matches))
	for key, candidate := range f.matches {
		row, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("--match %s: row must be a number", key)
		}
		rows = append(rows, row)
		targets[row] = candidate
	}
	sort.Ints(rows)

	for _, row := range rows {
		if _, err := svc.ManualMatch(ctx, sess, row, targets[row]); err != nil {
			return fmt.Errorf("--match %d: %w", row, err)
		}
	}
	return nil
}

func (f *commitFlags) writeFailures(sess *importservice.Session) error {
	if f.failedOut == "" {
		return nil
	}
	failures := importservice.Failures(sess)
	file, err := os.Create(f.failedOut)
	if err != nil {
		return fmt.Errorf("failed to create failure export: %w", err)
	}
	if err := importservice.WriteFailures(file, failures); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func newCommitCommand(ctx *commandContext) *cobra.Command {
	var flags commitFlags

	cmd := &cobra.Command{
		Use:   "commit FILE",
		Short: "Analyze a file and write its valid records to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			return ctx.withDependencies(runCtx, func(deps *Dependencies) error {
				out := cmd.OutOrStdout()
				svc := deps.ImportService

				rows, err := flags.rows()
				if err != nil {
					return err
				}

				sess, err := flags.analyze(runCtx, svc, args[0])
				if sess != nil {
					printSession(out, sess, flags.verbose)
				}
				if err != nil {
					return err
				}
				if err := flags.applyMatches(runCtx, svc, sess); err != nil {
					return err
				}
				if err := flags.writeSnapshot(sess); err != nil {
					return err
				}

				opts := flags.committerOptions(deps.Config.Import, cmd.ErrOrStderr())
				report, err := svc.Commit(runCtx, sess, importservice.CommitOptions{Committer: opts, Rows: rows})
				if err != nil {
					return err
				}
				printReport(out, report)

				for round := 1; round <= flags.retries && report.FailedCount > 0; round++ {
					if errors.Is(runCtx.Err(), context.Canceled) {
						break
					}
					fmt.Fprintf(out, "Retrying %d failed records (round %d)\n", report.FailedCount, round)
					report, err = svc.Retry(runCtx, sess, opts)
					if err != nil {
						return err
					}
					printReport(out, report)
				}

				if err := flags.writeFailures(sess); err != nil {
					return err
				}
				if runCtx.Err() != nil {
					return runCtx.Err()
				}
				if report.FailedCount > 0 {
					return fmt.Errorf("%d records failed to commit", report.FailedCount)
				}
				return nil
			})
		},
	}
	flags.bind(cmd)

	return cmd
}
