// Package service provides the import orchestration logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/catalog-importer/internal/domain/auth"
	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/committer"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/dedupe"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/matcher"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/validator"
	"github.com/FACorreiaa/catalog-importer/pkg/metrics"
	"github.com/FACorreiaa/catalog-importer/pkg/storage"
)

var (
	ErrUnknownRow       = errors.New("no such row in session")
	ErrUnknownCandidate = errors.New("no such match candidate")
	// ErrOwnerChanged means the caller resolved at commit time owns a
	// different catalog than the one the session was analyzed against.
	ErrOwnerChanged = errors.New("session owner changed")
)

// AnalyzeOptions allows callers to override detected file settings.
type AnalyzeOptions struct {
	Reader reader.Options
	// Format forces a source format instead of header detection.
	Format   catalog.FormatID
	Override catalog.FieldMapping
}

// CommitOptions tunes a commit. Rows, when set, restricts the commit to
// those row numbers.
type CommitOptions struct {
	Committer committer.Options
	Rows      []int
}

// Summary counts the state of a session before commit.
type Summary struct {
	Rows       int
	Valid      int
	Invalid    int
	Warnings   int
	Duplicates int
	Matched    int
}

// Session is one import in progress. Sessions are not safe for concurrent use.
type Session struct {
	ID        uuid.UUID
	Principal catalog.Principal
	Filename  string
	StartedAt time.Time

	Table    *reader.Table
	Format   catalog.FormatID
	Kind     catalog.Kind
	Mapping  catalog.FieldMapping
	Unmapped []string
	Unused   []string

	Records []catalog.Record
	Results []catalog.ValidationResult
	Matches []catalog.MatchResult
	Report  *catalog.BatchReport

	Artifacts []*storage.FileInfo

	corpus  []catalog.ExistingEntity
	index   *dedupe.Index
	matcher *matcher.Matcher
}

// MappingError reports required fields that still have no source column.
func (s *Session) MappingError() error {
	if len(s.Unmapped) == 0 {
		return nil
	}
	return &catalog.MappingError{Format: s.Format, Unmapped: s.Unmapped}
}

// Summary returns the current counts. Counts are zero until the mapping is complete.
func (s *Session) Summary() Summary {
	sum := Summary{Rows: len(s.Records)}
	for _, res := range s.Results {
		if res.Valid() {
			sum.Valid++
		} else {
			sum.Invalid++
		}
		sum.Warnings += len(res.Warnings)
	}
	sum.Duplicates = dedupe.Summary(s.Results)
	for _, m := range s.Matches {
		if m.Matched() {
			sum.Matched++
		}
	}
	return sum
}

// Candidates returns the existing entities a record of kind may be matched to.
// Royalty line items match works; works and contracts match their own kind.
func (s *Session) Candidates(kind catalog.Kind) []catalog.MatchCandidate {
	want := kind
	if kind == catalog.KindRoyalty {
		want = catalog.KindWork
	}
	var out []catalog.MatchCandidate
	for _, e := range s.corpus {
		if e.Kind == want {
			out = append(out, e.Candidate())
		}
	}
	return out
}

func (s *Session) recordIndex(row int) int {
	return slices.IndexFunc(s.Records, func(r catalog.Record) bool { return r.RowNumber == row })
}

// committable returns the valid records, limited to rows when given.
func (s *Session) committable(rows []int) []catalog.Record {
	valid, _ := validator.Partition(s.Records, s.Results)
	if len(rows) == 0 {
		return valid
	}
	keep := make(map[int]bool, len(rows))
	for _, r := range rows {
		keep[r] = true
	}
	return slices.DeleteFunc(valid, func(r catalog.Record) bool { return !keep[r.RowNumber] })
}

// ImportService handles the import pipeline
type ImportService struct {
	mapper    *mapping.Mapper
	validator *validator.Validator
	detector  *dedupe.Detector
	corpus    catalog.CorpusProvider
	store     catalog.RecordStore
	sessions  catalog.SessionProvider
	cache     catalog.MatchCache
	activity  catalog.ActivityLog
	archive   storage.Archive
	metrics   *metrics.ImportMetrics
	threshold float64
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewImportService creates a new import service
func NewImportService(
	mapper *mapping.Mapper,
	corpus catalog.CorpusProvider,
	store catalog.RecordStore,
	sessions catalog.SessionProvider,
	logger *slog.Logger,
) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{
		mapper:    mapper,
		validator: validator.New(),
		detector:  dedupe.NewDetector(dedupe.DefaultSimilarityThreshold),
		corpus:    corpus,
		store:     store,
		sessions:  sessions,
		threshold: matcher.DefaultThreshold,
		logger:    logger,
		tracer:    otel.Tracer("catalog-importer/import"),
		now:       time.Now,
	}
}

// WithMatchCache remembers manual matches across sessions.
func (s *ImportService) WithMatchCache(cache catalog.MatchCache) *ImportService {
	s.cache = cache
	return s
}

// WithActivityLog sends one audit event per committed record.
func (s *ImportService) WithActivityLog(log catalog.ActivityLog) *ImportService {
	s.activity = log
	return s
}

// WithArchive stores raw uploads, snapshots and reports.
func (s *ImportService) WithArchive(archive storage.Archive) *ImportService {
	s.archive = archive
	return s
}

// WithMetrics sets the metrics sink.
func (s *ImportService) WithMetrics(m *metrics.ImportMetrics) *ImportService {
	s.metrics = m
	return s
}

// WithAutoMatchThreshold sets the minimum confidence for automatic matches.
func (s *ImportService) WithAutoMatchThreshold(threshold float64) *ImportService {
	if threshold > 0 {
		s.threshold = threshold
	}
	return s
}

// WithSimilarityThreshold sets the near-duplicate title threshold (1..100).
func (s *ImportService) WithSimilarityThreshold(threshold int) *ImportService {
	s.detector = dedupe.NewDetector(threshold)
	return s
}

// Analyze reads an upload and runs every pre-commit stage. Once the file is
// parsed a session is always returned; when required fields are unmapped it
// comes with a *catalog.MappingError and the caller is expected to Remap.
func (s *ImportService) Analyze(ctx context.Context, filename string, data []byte, opts AnalyzeOptions) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "Analyze", trace.WithAttributes(
		attribute.String("file", filename),
		attribute.Int("bytes", len(data)),
	))
	defer span.End()

	// Step 1: Resolve the caller
	principal, err := auth.Resolve(ctx, s.sessions)
	if err != nil {
		return nil, err
	}

	// Step 2: Parse the file
	table, err := reader.ReadBytes(filename, data, opts.Reader)
	if err != nil {
		return nil, err
	}

	// Step 3: Detect the source format
	format := opts.Format
	if format == "" {
		format = s.mapper.DetectFormat(table.Headers)
	}

	// Step 4: Fetch the existing catalog once for the whole session
	corpus, err := s.corpus.FetchExisting(ctx, principal.Owner)
	if err != nil {
		return nil, fmt.Errorf("fetch existing catalog: %w", err)
	}

	sess := &Session{
		ID:        uuid.New(),
		Principal: principal,
		Filename:  filename,
		StartedAt: s.now(),
		Table:     table,
		Format:    format,
		corpus:    corpus,
		index:     dedupe.NewIndex(corpus),
		matcher:   matcher.New(s.logger),
	}
	if s.cache != nil {
		sess.matcher.WithCache(principal.Owner, s.cache)
	}
	span.SetAttributes(attribute.String("session", sess.ID.String()), attribute.String("format", string(format)))

	s.metrics.Session(string(format))
	s.keep(ctx, sess, storage.KindRawUpload, filename, contentTypeFor(table.Kind), data)
	if s.archive != nil {
		var buf bytes.Buffer
		if err := WriteRawSnapshot(&buf, table); err != nil {
			s.logger.Warn("failed to build raw snapshot", "session", sess.ID, "error", err)
		} else {
			s.keep(ctx, sess, storage.KindRawSnapshot, baseName(filename)+"-raw.csv", "text/csv", buf.Bytes())
		}
	}

	// Step 5: Map, validate, detect duplicates and match
	if err := s.process(ctx, sess, format, opts.Override); err != nil {
		return sess, err
	}

	sum := sess.Summary()
	s.logger.Info("import session analyzed",
		"session", sess.ID,
		"file", filename,
		"format", sess.Format,
		"rows", sum.Rows,
		"valid", sum.Valid,
		"invalid", sum.Invalid,
		"duplicates", sum.Duplicates,
		"matched", sum.Matched)
	return sess, nil
}

// Remap maps the session again with a full override table. Validation,
// duplicate detection and matching are re-run so no result computed against
// the previous mapping survives. A failed remap leaves the session unchanged.
func (s *ImportService) Remap(ctx context.Context, sess *Session, format catalog.FormatID, override catalog.FieldMapping) error {
	ctx, span := s.tracer.Start(ctx, "Remap", trace.WithAttributes(attribute.String("session", sess.ID.String())))
	defer span.End()

	if format == "" {
		format = sess.Format
	}
	return s.process(ctx, sess, format, override)
}

func (s *ImportService) process(ctx context.Context, sess *Session, format catalog.FormatID, override catalog.FieldMapping) error {
	result, err := s.mapper.Map(sess.Table, format, override)
	if err != nil {
		return err
	}

	sess.Format = result.Format
	sess.Kind = result.Kind
	sess.Mapping = result.Mapping
	sess.Unmapped = result.Unmapped
	sess.Unused = result.Unused
	sess.Records = result.Records
	sess.Results = nil
	sess.Matches = nil
	sess.Report = nil

	if err := result.MappingError(); err != nil {
		return err
	}

	sess.Results = s.validator.ValidateAll(sess.Records)
	s.detector.Annotate(sess.Records, sess.Results, sess.index)

	if sess.Kind == catalog.KindRoyalty {
		sess.Matches = sess.matcher.AutoMatch(ctx, sess.Format, sess.Records, sess.Candidates(sess.Kind), s.threshold)
		matcher.Apply(sess.Records, sess.Matches)
	}

	if s.archive != nil {
		var buf bytes.Buffer
		if err := WriteMappedSnapshot(&buf, sess); err != nil {
			s.logger.Warn("failed to build mapped snapshot", "session", sess.ID, "error", err)
		} else {
			s.keep(ctx, sess, storage.KindMappedRecords, baseName(sess.Filename)+"-mapped.csv", "text/csv", buf.Bytes())
		}
	}
	return nil
}

// ManualMatch assigns a candidate to a row by hand and remembers the choice
// for later imports of the same feed.
func (s *ImportService) ManualMatch(ctx context.Context, sess *Session, row int, candidateID string) (catalog.MatchResult, error) {
	i := sess.recordIndex(row)
	if i < 0 {
		return catalog.MatchResult{}, fmt.Errorf("row %d: %w", row, ErrUnknownRow)
	}
	rec := sess.Records[i]

	candidates := sess.Candidates(rec.Kind)
	j := slices.IndexFunc(candidates, func(c catalog.MatchCandidate) bool { return c.ID == candidateID })
	if j < 0 {
		return catalog.MatchResult{}, fmt.Errorf("candidate %s: %w", candidateID, ErrUnknownCandidate)
	}

	res := sess.matcher.ManualMatch(ctx, sess.Format, rec, candidates[j])
	if k := slices.IndexFunc(sess.Matches, func(m catalog.MatchResult) bool { return m.RowNumber == row }); k >= 0 {
		sess.Matches[k] = res
	} else {
		sess.Matches = append(sess.Matches, res)
	}
	match := res
	sess.Records[i].Match = &match
	return res, nil
}

// Commit writes the valid records of the session. The caller is resolved
// again first; no record is written when that fails.
func (s *ImportService) Commit(ctx context.Context, sess *Session, opts CommitOptions) (*catalog.BatchReport, error) {
	if err := sess.MappingError(); err != nil {
		return nil, err
	}
	return s.commit(ctx, sess, sess.committable(opts.Rows), opts.Committer)
}

// Retry commits exactly the records that failed in the last commit.
func (s *ImportService) Retry(ctx context.Context, sess *Session, opts committer.Options) (*catalog.BatchReport, error) {
	if sess.Report == nil || len(sess.Report.FailedRecords) == 0 {
		return catalog.NewBatchReport(nil, nil), nil
	}
	return s.commit(ctx, sess, sess.Report.FailedRecords, opts)
}

func (s *ImportService) commit(ctx context.Context, sess *Session, records []catalog.Record, opts committer.Options) (*catalog.BatchReport, error) {
	ctx, span := s.tracer.Start(ctx, "CommitSession", trace.WithAttributes(
		attribute.String("session", sess.ID.String()),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	principal, err := auth.Resolve(ctx, s.sessions)
	if err != nil {
		return nil, err
	}
	if principal.Owner != sess.Principal.Owner {
		return nil, &catalog.AuthError{Err: ErrOwnerChanged}
	}

	opts.SessionID = sess.ID
	c := committer.New(s.store, principal.Owner, s.logger).WithMetrics(s.metrics)
	if s.activity != nil {
		c.WithActivityLog(s.activity)
	}

	report := c.Commit(ctx, records, opts)
	sess.Report = report
	s.archiveReport(ctx, sess, report)
	return report, nil
}

func (s *ImportService) archiveReport(ctx context.Context, sess *Session, report *catalog.BatchReport) {
	if s.archive == nil {
		return
	}
	base := baseName(sess.Filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.logger.Warn("failed to encode commit report", "session", sess.ID, "error", err)
	} else {
		s.keep(ctx, sess, storage.KindReport, base+"-report.json", "application/json", data)
	}

	failures := Failures(sess)
	if len(failures) == 0 {
		return
	}
	var buf bytes.Buffer
	if err := WriteFailures(&buf, failures); err != nil {
		s.logger.Warn("failed to build failure export", "session", sess.ID, "error", err)
		return
	}
	s.keep(ctx, sess, storage.KindFailedRecords, base+"-failed.csv", "text/csv", buf.Bytes())
}

// keep archives one artifact. Archive failures never fail the import.
func (s *ImportService) keep(ctx context.Context, sess *Session, kind storage.ArtifactKind, name, contentType string, data []byte) {
	if s.archive == nil {
		return
	}
	info, err := s.archive.Put(ctx, sess.Principal.Owner, sess.ID, kind, name, contentType, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("failed to archive import artifact",
			"session", sess.ID, "kind", kind, "name", name, "error", err)
		return
	}
	sess.Artifacts = append(sess.Artifacts, info)
}

func baseName(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func contentTypeFor(kind reader.FileKind) string {
	if kind == reader.KindSpreadsheet {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
