package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/committer"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/matcher"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/reader"
	"github.com/FACorreiaa/catalog-importer/internal/domain/import/validator"
	"github.com/FACorreiaa/catalog-importer/pkg/storage"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeSessions struct {
	mu         sync.Mutex
	principal  catalog.Principal
	err        error
	refreshErr error
	refreshes  int
}

func (f *fakeSessions) CurrentUser(context.Context) (catalog.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return catalog.Principal{}, f.err
	}
	return f.principal, nil
}

func (f *fakeSessions) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.err = nil
	return nil
}

type fakeCorpus struct {
	entities []catalog.ExistingEntity
	calls    int
}

func (f *fakeCorpus) FetchExisting(context.Context, uuid.UUID) ([]catalog.ExistingEntity, error) {
	f.calls++
	return f.entities, nil
}

type fakeStore struct {
	mu       sync.Mutex
	seq      int
	byKey    map[string]*catalog.StoredRecord
	inserted []catalog.Record
	// failures counts the transient failures left per title.
	failures map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[string]*catalog.StoredRecord{}, failures: map[string]int{}}
}

func (s *fakeStore) FindByKey(_ context.Context, key catalog.Key) (*catalog.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key.IdempotencyKey], nil
}

func (s *fakeStore) Insert(_ context.Context, owner uuid.UUID, rec catalog.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[rec.Title] > 0 {
		s.failures[rec.Title]--
		return "", &catalog.TransientError{Err: errors.New("connection reset by peer")}
	}
	s.seq++
	id := fmt.Sprintf("id-%d", s.seq)
	s.byKey[rec.IdempotencyKey(owner)] = &catalog.StoredRecord{ID: id, Fields: rec.Fields()}
	s.inserted = append(s.inserted, rec)
	return id, nil
}

func (s *fakeStore) Update(_ context.Context, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.byKey {
		if stored.ID != id {
			continue
		}
		for k, v := range fields {
			stored.Fields[k] = v
		}
	}
	return nil
}

func (s *fakeStore) ReplaceChildren(context.Context, string, []catalog.Child) error { return nil }

func (s *fakeStore) insertedTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var titles []string
	for _, r := range s.inserted {
		titles = append(titles, r.Title)
	}
	return titles
}

type fixture struct {
	svc      *ImportService
	sessions *fakeSessions
	corpus   *fakeCorpus
	store    *fakeStore
	cache    *matcher.MemoryCache
	owner    uuid.UUID
}

func newFixture(t *testing.T, existing ...catalog.ExistingEntity) *fixture {
	t.Helper()
	reg, err := mapping.NewRegistry()
	require.NoError(t, err)

	f := &fixture{
		owner:  uuid.New(),
		corpus: &fakeCorpus{entities: existing},
		store:  newFakeStore(),
		cache:  matcher.NewMemoryCache(),
	}
	f.sessions = &fakeSessions{principal: catalog.Principal{UserID: uuid.New(), Owner: f.owner}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewImportService(mapping.NewMapper(reg), f.corpus, f.store, f.sessions, logger).
		WithMatchCache(f.cache)
	return f
}

func testCommitOptions() CommitOptions {
	return CommitOptions{Committer: committer.Options{
		BatchSize:      2,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}}
}

const threeRows = "Title,Writers,Primary Party\n" +
	"Blue Moon,Jane Doe (50%); John Roe (50%),Acme Songs\n" +
	",Jane Doe (100%),\n" +
	"Red Sky,Jane Doe (70%); John Roe (70%),\n"

// =============================================================================
// Analyze and commit
// =============================================================================

func TestImportService_ThreeRowExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(threeRows), AnalyzeOptions{Reader: reader.DefaultOptions()})
	require.NoError(t, err)

	assert.Equal(t, catalog.FormatID("standard_template"), sess.Format)
	sum := sess.Summary()
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 2, sum.Invalid)
	for i, rec := range sess.Records {
		assert.Equal(t, i+2, rec.RowNumber)
		assert.Equal(t, rec.RowNumber, sess.Results[i].RowNumber)
	}

	report, err := f.svc.Commit(ctx, sess, testCommitOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.CreatedCount)
	assert.Equal(t, []string{"Blue Moon"}, f.store.insertedTitles())
	assert.Same(t, report, sess.Report)

	failures := Failures(sess)
	require.Len(t, failures, 2)
	assert.Equal(t, 3, failures[0].Row)
	assert.Equal(t, StageValidation, failures[0].Stage)
	assert.Equal(t, 4, failures[1].Row)
	assert.Contains(t, failures[1].Reason, "exceeds 100%")
}

func TestImportService_CorpusFetchedOncePerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(threeRows), AnalyzeOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Remap(ctx, sess, "", nil))
	_, err = f.svc.Commit(ctx, sess, testCommitOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, f.corpus.calls)
}

func TestImportService_CommitSelectedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := "Title,Writers\nBlue Moon,Jane Doe (100%)\nRed Sky,John Roe (100%)\nGreen Day,Ann Poe (100%)\n"

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)

	opts := testCommitOptions()
	opts.Rows = []int{3, 4, 99}
	report, err := f.svc.Commit(ctx, sess, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.ElementsMatch(t, []string{"Red Sky", "Green Day"}, f.store.insertedTitles())
}

func TestImportService_RetryFailedSubset(t *testing.T) {
	f := newFixture(t)
	f.store.failures["Red Sky"] = 1
	ctx := context.Background()
	data := "Title,Writers\nBlue Moon,Jane Doe (100%)\nRed Sky,John Roe (100%)\n"

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)

	first, err := f.svc.Commit(ctx, sess, testCommitOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, first.SuccessCount)
	require.Equal(t, 1, first.FailedCount)
	assert.Equal(t, 3, first.Failed[0].RowNumber)

	failures := Failures(sess)
	require.Len(t, failures, 1)
	assert.Equal(t, StageCommit, failures[0].Stage)

	second, err := f.svc.Retry(ctx, sess, testCommitOptions().Committer)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)
	assert.Equal(t, 1, second.CreatedCount)
	assert.Empty(t, second.FailedRecords)

	third, err := f.svc.Retry(ctx, sess, testCommitOptions().Committer)
	require.NoError(t, err)
	assert.Zero(t, third.Total)
}

// =============================================================================
// Authentication
// =============================================================================

func TestImportService_AuthFailsFast(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = catalog.ErrUnauthenticated
	f.sessions.refreshErr = errors.New("refresh token expired")

	sess, err := f.svc.Analyze(context.Background(), "works.csv", []byte(threeRows), AnalyzeOptions{})

	var authErr *catalog.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Nil(t, sess)
	assert.Equal(t, 1, f.sessions.refreshes)
	assert.Zero(t, f.corpus.calls)
}

func TestImportService_RefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = catalog.ErrUnauthenticated

	sess, err := f.svc.Analyze(context.Background(), "works.csv", []byte(threeRows), AnalyzeOptions{})

	require.NoError(t, err)
	assert.Equal(t, f.owner, sess.Principal.Owner)
	assert.Equal(t, 1, f.sessions.refreshes)
}

func TestImportService_CommitRequiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(threeRows), AnalyzeOptions{})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		f.sessions.err = catalog.ErrUnauthenticated
		f.sessions.refreshErr = errors.New("revoked")
		defer func() { f.sessions.err, f.sessions.refreshErr = nil, nil }()

		report, err := f.svc.Commit(ctx, sess, testCommitOptions())
		var authErr *catalog.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Nil(t, report)
		assert.Empty(t, f.store.insertedTitles())
	})

	t.Run("different owner", func(t *testing.T) {
		f.sessions.principal.Owner = uuid.New()
		defer func() { f.sessions.principal.Owner = f.owner }()

		_, err := f.svc.Commit(ctx, sess, testCommitOptions())
		assert.ErrorIs(t, err, ErrOwnerChanged)
		assert.Empty(t, f.store.insertedTitles())
	})
}

// =============================================================================
// Mapping
// =============================================================================

func TestImportService_UnmappedThenRemap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := "Track Name,Credits\nBlue Moon,Jane Doe (100%)\n"

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(data), AnalyzeOptions{})

	var mErr *catalog.MappingError
	require.ErrorAs(t, err, &mErr)
	require.NotNil(t, sess)
	assert.Equal(t, []string{"title", "writers"}, sess.Unmapped)
	assert.Nil(t, sess.Results, "no validation against an incomplete mapping")

	_, err = f.svc.Commit(ctx, sess, testCommitOptions())
	require.ErrorAs(t, err, &mErr)

	override := catalog.FieldMapping{"title": "Track Name", "writers": "Credits"}
	require.NoError(t, f.svc.Remap(ctx, sess, "", override))
	assert.Empty(t, sess.Unmapped)
	require.Len(t, sess.Results, 1)
	assert.True(t, sess.Results[0].Valid(), sess.Results[0].Errors)
	assert.Equal(t, "Blue Moon", sess.Records[0].Title)

	// Remapping again with the same override yields the same records.
	before := sess.Records
	require.NoError(t, f.svc.Remap(ctx, sess, "", override))
	assert.Equal(t, before, sess.Records)

	err = f.svc.Remap(ctx, sess, "", catalog.FieldMapping{"title": "Nope"})
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "Blue Moon", sess.Records[0].Title, "failed remap leaves the session untouched")
}

func TestImportService_RemapClearsStaleResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := "Title,Alt Name,Writers\n,Blue Moon,Jane Doe (100%)\n"

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)
	require.False(t, sess.Results[0].Valid())

	_, err = f.svc.Commit(ctx, sess, testCommitOptions())
	require.NoError(t, err)
	require.NotNil(t, sess.Report)

	require.NoError(t, f.svc.Remap(ctx, sess, "", catalog.FieldMapping{"title": "Alt Name"}))
	assert.True(t, sess.Results[0].Valid(), sess.Results[0].Errors)
	assert.Nil(t, sess.Report)
}

// =============================================================================
// Matching
// =============================================================================

func TestImportService_RoyaltyMatching(t *testing.T) {
	f := newFixture(t,
		catalog.ExistingEntity{ID: "w1", Kind: catalog.KindWork, Title: "Blue Moon"},
		catalog.ExistingEntity{ID: "w2", Kind: catalog.KindWork, Title: "Red Sky"},
		catalog.ExistingEntity{ID: "c1", Kind: catalog.KindContract, Title: "Blue Moon Deal"},
	)
	ctx := context.Background()
	data := "Song Title,Net Amount,Payor,Statement Period\n" +
		"Blue Moon,12.50,Spotify,2024-03\n" +
		"Unknown Tune,3.00,Spotify,2024-03\n"

	sess, err := f.svc.Analyze(ctx, "statement.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, catalog.KindRoyalty, sess.Kind)
	require.Len(t, sess.Matches, 2)

	assert.Equal(t, "w1", sess.Matches[0].CandidateID)
	assert.Equal(t, catalog.MatchAuto, sess.Matches[0].Method)
	assert.InDelta(t, 1.0, sess.Matches[0].Confidence, 1e-9)
	assert.False(t, sess.Matches[1].Matched())
	assert.Equal(t, 1, sess.Summary().Matched)

	res, err := f.svc.ManualMatch(ctx, sess, 3, "w2")
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchManual, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, matcher.ManualConfidence)
	require.NotNil(t, sess.Records[1].Match)
	assert.Equal(t, "w2", sess.Records[1].Match.CandidateID)

	cached, err := f.cache.Lookup(ctx, f.owner, matcher.Key(sess.Format, sess.Records[1]))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "w2", cached.CandidateID)

	_, err = f.svc.ManualMatch(ctx, sess, 42, "w2")
	assert.ErrorIs(t, err, ErrUnknownRow)
	_, err = f.svc.ManualMatch(ctx, sess, 3, "c1")
	assert.ErrorIs(t, err, ErrUnknownCandidate, "royalties only match works")
}

func TestImportService_RememberedMatchIsReused(t *testing.T) {
	f := newFixture(t,
		catalog.ExistingEntity{ID: "w2", Kind: catalog.KindWork, Title: "Red Sky"},
	)
	ctx := context.Background()
	data := "Song Title,Net Amount,Payor,Statement Period\nUnknown Tune,3.00,Spotify,2024-03\n"

	sess, err := f.svc.Analyze(ctx, "statement.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)
	_, err = f.svc.ManualMatch(ctx, sess, 2, "w2")
	require.NoError(t, err)

	next, err := f.svc.Analyze(ctx, "statement-april.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, next.Matches, 1)
	assert.Equal(t, "w2", next.Matches[0].CandidateID)
	assert.Equal(t, catalog.MatchCached, next.Matches[0].Method)
}

// =============================================================================
// Artifacts
// =============================================================================

func TestImportService_ArchivesArtifacts(t *testing.T) {
	f := newFixture(t)
	archive, err := storage.NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	f.svc.WithArchive(archive)
	f.store.failures["Red Sky"] = 1
	ctx := context.Background()
	data := "Title,Writers\nBlue Moon,Jane Doe (100%)\nRed Sky,John Roe (100%)\n,Ann Poe (100%)\n"

	sess, err := f.svc.Analyze(ctx, "works.csv", []byte(data), AnalyzeOptions{})
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, sess, testCommitOptions())
	require.NoError(t, err)

	byKind := map[storage.ArtifactKind]*storage.FileInfo{}
	for _, a := range sess.Artifacts {
		byKind[a.Kind] = a
		assert.Equal(t, sess.ID, a.SessionID)
	}
	require.Contains(t, byKind, storage.KindRawUpload)
	require.Contains(t, byKind, storage.KindRawSnapshot)
	require.Contains(t, byKind, storage.KindMappedRecords)
	require.Contains(t, byKind, storage.KindReport)
	require.Contains(t, byKind, storage.KindFailedRecords)

	rc, _, err := archive.Open(ctx, f.owner, byKind[storage.KindRawUpload].ID)
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, data, string(raw))

	assert.Equal(t, "works-raw.csv", byKind[storage.KindRawSnapshot].Name)
	rc, _, err = archive.Open(ctx, f.owner, byKind[storage.KindRawSnapshot].ID)
	require.NoError(t, err)
	snapshot, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "row,Title,Writers\n2,Blue Moon,Jane Doe (100%)\n3,Red Sky,John Roe (100%)\n4,,Ann Poe (100%)\n", string(snapshot))

	rc, _, err = archive.Open(ctx, f.owner, byKind[storage.KindFailedRecords].ID)
	require.NoError(t, err)
	defer rc.Close()
	rows, err := ReadFailureRows(rc)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, rows, "only commit failures are resubmitted")
}

func TestImportService_ArchivesSpreadsheetAsCSV(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"Title", "Writers"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"Blue Moon", "Jane Doe (100%)"}))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	f := newFixture(t)
	archive, err := storage.NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	f.svc.WithArchive(archive)
	ctx := context.Background()

	sess, err := f.svc.Analyze(ctx, "works.xlsx", buf.Bytes(), AnalyzeOptions{})
	require.NoError(t, err)

	byKind := map[storage.ArtifactKind]*storage.FileInfo{}
	for _, a := range sess.Artifacts {
		byKind[a.Kind] = a
	}
	require.Contains(t, byKind, storage.KindRawUpload)
	assert.Equal(t, "works.xlsx", byKind[storage.KindRawUpload].Name)
	require.Contains(t, byKind, storage.KindRawSnapshot)
	assert.Equal(t, "text/csv", byKind[storage.KindRawSnapshot].ContentType)

	rc, _, err := archive.Open(ctx, f.owner, byKind[storage.KindRawSnapshot].ID)
	require.NoError(t, err)
	defer rc.Close()
	snapshot, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "row,Title,Writers\n2,Blue Moon,Jane Doe (100%)\n", string(snapshot))
}

func TestWriteMappedSnapshot(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Analyze(context.Background(), "works.csv", []byte(threeRows), AnalyzeOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMappedSnapshot(&buf, sess))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "row,kind,title,"))
	assert.Contains(t, lines[1], "Jane Doe (50%); John Roe (50%)")
	assert.Contains(t, lines[1], "true")
	assert.Contains(t, lines[3], "exceeds 100%")
}

// =============================================================================
// Templates
// =============================================================================

func TestWriteTemplate_RoundTrip(t *testing.T) {
	reg, err := mapping.NewRegistry()
	require.NoError(t, err)
	m := mapping.NewMapper(reg)
	v := validator.New()

	for _, format := range reg.Formats() {
		for _, kind := range []TemplateKind{TemplateCSV, TemplateXLSX} {
			t.Run(string(format.ID)+"/"+string(kind), func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, WriteTemplate(&buf, format, kind))

				table, err := reader.ReadBytes("template."+string(kind), buf.Bytes(), reader.DefaultOptions())
				require.NoError(t, err)
				assert.Equal(t, format.ID, m.DetectFormat(table.Headers))

				result, err := m.Map(table, format.ID, nil)
				require.NoError(t, err)
				assert.Empty(t, result.Unmapped)
				require.Len(t, result.Records, 1)

				res := v.Validate(&result.Records[0])
				assert.Empty(t, res.Errors)
			})
		}
	}
}

func TestWriteTemplate_Headers(t *testing.T) {
	reg, err := mapping.NewRegistry()
	require.NoError(t, err)
	format, ok := reg.Format("standard_template")
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, format, TemplateCSV))

	header, _, _ := strings.Cut(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(header, "Title,Alternate Titles,Primary Party,Category,ISWC"))

	err = WriteTemplate(&buf, format, "pdf")
	assert.Error(t, err)
}

func TestImportService_TemplateUnknownFormat(t *testing.T) {
	f := newFixture(t)
	var mErr *catalog.MappingError
	assert.ErrorAs(t, f.svc.Template(io.Discard, "nope", TemplateCSV), &mErr)
	assert.NoError(t, f.svc.Template(io.Discard, "", TemplateXLSX))
}
