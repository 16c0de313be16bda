// Package committer writes validated records to the catalog store in
// sequential fixed-size batches. Records of one batch run concurrently; each
// record is retried with exponential backoff on transient failures only.
package committer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/pkg/metrics"
)

// Options tunes one commit call.
type Options struct {
	// BatchSize is both the batch length and the parallelism inside a batch.
	BatchSize int
	// MaxRetries bounds retries after the first attempt of each store stage.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// StaggerDelay spaces out record starts. Zero disables staggering.
	StaggerDelay time.Duration
	// SequenceRetries bounds re-inserts after a sequence identifier collision.
	SequenceRetries int
	SessionID       uuid.UUID
	// OnProgress is called after every batch with a monotonic done count.
	OnProgress func(done, total int)
}

// DefaultOptions returns the standard commit settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:       10,
		MaxRetries:      3,
		RetryBaseDelay:  250 * time.Millisecond,
		RetryMaxDelay:   5 * time.Second,
		SequenceRetries: 5,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = max(d.RetryMaxDelay, o.RetryBaseDelay)
	}
	if o.SequenceRetries < 0 {
		o.SequenceRetries = 0
	}
	return o
}

// Committer drives the per-record state machine against a RecordStore.
type Committer struct {
	store    catalog.RecordStore
	owner    uuid.UUID
	logger   *slog.Logger
	activity catalog.ActivityLog
	metrics  *metrics.ImportMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a committer writing into owner's catalog.
func New(store catalog.RecordStore, owner uuid.UUID, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		store:  store,
		owner:  owner,
		logger: logger,
		tracer: otel.Tracer("catalog-importer/committer"),
		now:    time.Now,
	}
}

// WithActivityLog sends one audit event per record.
func (c *Committer) WithActivityLog(log catalog.ActivityLog) *Committer {
	c.activity = log
	return c
}

// WithMetrics records outcomes, retries and batch durations.
func (c *Committer) WithMetrics(m *metrics.ImportMetrics) *Committer {
	c.metrics = m
	return c
}

// Commit writes records and returns a report keyed by row number. A batch
// that has started always completes; cancellation of ctx is honoured between
// batches and the remaining records are reported as not attempted. Passing
// report.FailedRecords back to Commit retries exactly the failed subset.
func (c *Committer) Commit(ctx context.Context, records []catalog.Record, opts Options) *catalog.BatchReport {
	opts = opts.normalized()

	ctx, span := c.tracer.Start(ctx, "Commit", trace.WithAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("batch_size", opts.BatchSize),
	))
	defer span.End()

	byRow := make(map[int]catalog.Record, len(records))
	for _, r := range records {
		byRow[r.RowNumber] = r
	}

	var limiter *rate.Limiter
	if opts.StaggerDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.StaggerDelay), 1)
	}

	outcomes := make([]catalog.CommitOutcome, 0, len(records))
	done := 0
	for start := 0; start < len(records); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(records))

		if err := ctx.Err(); err != nil {
			for _, rec := range records[start:] {
				outcomes = append(outcomes, c.notAttempted(rec))
			}
			c.logger.Warn("commit cancelled between batches",
				"attempted", start, "remaining", len(records)-start, "error", err)
			break
		}

		batchStart := time.Now()
		outcomes = append(outcomes, c.runBatch(ctx, records[start:end], opts, limiter)...)
		c.metrics.Batch(time.Since(batchStart))

		done = end
		if opts.OnProgress != nil {
			opts.OnProgress(done, len(records))
		}
	}

	report := catalog.NewBatchReport(outcomes, byRow)
	span.SetAttributes(
		attribute.Int("success", report.SuccessCount),
		attribute.Int("skipped", report.SkippedCount),
		attribute.Int("failed", report.FailedCount),
	)
	c.logger.Info("commit finished",
		"total", report.Total,
		"created", report.CreatedCount,
		"updated", report.UpdatedCount,
		"skipped", report.SkippedCount,
		"failed", report.FailedCount)
	return report
}

// runBatch commits one batch to completion, detached from cancellation.
func (c *Committer) runBatch(ctx context.Context, batch []catalog.Record, opts Options, limiter *rate.Limiter) []catalog.CommitOutcome {
	batchCtx := context.WithoutCancel(ctx)
	results := make([]catalog.CommitOutcome, len(batch))

	var g errgroup.Group
	g.SetLimit(opts.BatchSize)
	for i, rec := range batch {
		if limiter != nil {
			// Never fails: batchCtx has no deadline and the burst is 1.
			_ = limiter.Wait(batchCtx)
		}
		g.Go(func() error {
			results[i] = c.commitRecord(batchCtx, rec, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// commitRecord runs the state machine for one record and never panics.
func (c *Committer) commitRecord(ctx context.Context, rec catalog.Record, opts Options) (out catalog.CommitOutcome) {
	out = catalog.CommitOutcome{RowNumber: rec.RowNumber, Title: rec.DisplayTitle()}

	defer func() {
		if r := recover(); r != nil {
			out.Status = catalog.StatusFailed
			out.Err = fmt.Errorf("panic while committing row %d: %v", rec.RowNumber, r)
			out.Reason = "internal error: " + fmt.Sprint(r)
			c.logger.Error("recovered panic in commit", "row", rec.RowNumber, "panic", r)
		}
		c.metrics.Outcome(string(out.Status))
		c.audit(ctx, rec, out, opts.SessionID)
	}()

	// Sub-entities are derived first so a malformed payload writes nothing.
	children, err := Children(rec)
	if err != nil {
		return c.failed(out, fmt.Errorf("%w: %v", catalog.ErrMalformed, err))
	}
	digest := ChildrenDigest(children)
	incoming := rec.Fields()
	if digest != "" {
		incoming[catalog.FieldChildren] = digest
	}

	var (
		parentID   string
		writeChild bool
	)
	err = c.withRetry(ctx, opts, &out.Attempts, func(ctx context.Context) error {
		status, id, stale, err := c.writeParent(ctx, rec, incoming, opts.SequenceRetries)
		if err != nil {
			return err
		}
		out.Status = status
		parentID = id
		writeChild = stale
		return nil
	})
	if err != nil {
		return c.failed(out, err)
	}
	out.ExternalID = parentID
	if out.Status == catalog.StatusSkipped {
		out.Reason = "identical record already exists"
	}
	if !writeChild {
		return out
	}

	var childAttempts int
	err = c.withRetry(ctx, opts, &childAttempts, func(ctx context.Context) error {
		if err := c.store.ReplaceChildren(ctx, parentID, children); err != nil {
			return err
		}
		return c.store.Update(ctx, parentID, map[string]string{catalog.FieldChildren: digest})
	})
	if err != nil {
		out = c.failed(out, fmt.Errorf("store sub-entities of %s: %w", parentID, err))
		out.ExternalID = parentID
		out.Attempts += childAttempts
	}
	return out
}

// withRetry runs fn until it succeeds, fails terminally, or the retry budget
// is spent. attempts counts every call.
func (c *Committer) withRetry(ctx context.Context, opts Options, attempts *int, fn func(context.Context) error) error {
	b := retry.NewExponential(opts.RetryBaseDelay)
	b = retry.WithCappedDuration(opts.RetryMaxDelay, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(opts.MaxRetries), b)

	first := true
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if !first {
			c.metrics.Retry()
		}
		first = false
		*attempts++

		err := fn(ctx)
		if err != nil && catalog.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// writeParent performs the existence check and then skips, updates or
// creates. The returned flag reports whether the stored sub-entities are
// missing or differ from incoming's children digest.
func (c *Committer) writeParent(ctx context.Context, rec catalog.Record, incoming map[string]string, sequenceRetries int) (catalog.OutcomeStatus, string, bool, error) {
	existing, err := c.store.FindByKey(ctx, catalog.KeyFor(c.owner, rec))
	if err != nil {
		return "", "", false, fmt.Errorf("existence check: %w", err)
	}

	if existing != nil {
		changed := ChangedFields(existing.Fields, incoming)
		if len(changed) == 0 {
			return catalog.StatusSkipped, existing.ID, false, nil
		}
		_, stale := changed[catalog.FieldChildren]
		delete(changed, catalog.FieldChildren)
		if len(changed) > 0 {
			if err := c.store.Update(ctx, existing.ID, changed); err != nil {
				return "", "", false, fmt.Errorf("update %s: %w", existing.ID, err)
			}
		}
		return catalog.StatusUpdated, existing.ID, stale, nil
	}

	_, hasChildren := incoming[catalog.FieldChildren]
	for attempt := 0; ; attempt++ {
		id, err := c.store.Insert(ctx, c.owner, rec)
		if err == nil {
			return catalog.StatusCreated, id, hasChildren, nil
		}
		if errors.Is(err, catalog.ErrSequenceConflict) && attempt < sequenceRetries {
			c.logger.Debug("sequence identifier collision, re-inserting", "row", rec.RowNumber, "attempt", attempt+1)
			continue
		}
		return "", "", false, fmt.Errorf("insert: %w", err)
	}
}

func (c *Committer) failed(out catalog.CommitOutcome, err error) catalog.CommitOutcome {
	out.Status = catalog.StatusFailed
	out.Err = err
	out.Reason = catalog.FailureReason(err)
	out.ExternalID = ""
	return out
}

func (c *Committer) notAttempted(rec catalog.Record) catalog.CommitOutcome {
	out := catalog.CommitOutcome{
		RowNumber: rec.RowNumber,
		Title:     rec.DisplayTitle(),
		Status:    catalog.StatusFailed,
		Err:       catalog.ErrNotAttempted,
		Reason:    catalog.FailureReason(catalog.ErrNotAttempted),
	}
	c.metrics.Outcome(string(out.Status))
	return out
}

// audit sends the activity event. Failures are logged and dropped.
func (c *Committer) audit(ctx context.Context, rec catalog.Record, out catalog.CommitOutcome, session uuid.UUID) {
	if c.activity == nil {
		return
	}
	event := catalog.ActivityEvent{
		ID:        uuid.New(),
		Owner:     c.owner,
		SessionID: session,
		Action:    "import." + string(out.Status),
		RowNumber: rec.RowNumber,
		Title:     out.Title,
		EntityID:  out.ExternalID,
		Detail:    out.Reason,
		At:        c.now(),
	}
	if err := c.activity.Record(ctx, event); err != nil {
		c.logger.Warn("failed to record import activity", "row", rec.RowNumber, "error", err)
	}
}

// ChangedFields returns the entries of incoming that differ from stored.
// Fields absent from incoming are left untouched.
func ChangedFields(stored, incoming map[string]string) map[string]string {
	var changed map[string]string
	for k, v := range incoming {
		if stored[k] == v {
			continue
		}
		if changed == nil {
			changed = make(map[string]string)
		}
		changed[k] = v
	}
	return changed
}
