package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExistingEntity is one entry of the pre-fetched corpus.
type ExistingEntity struct {
	ID           string
	Kind         Kind
	Title        string
	AltTitles    []string
	Counterparty string
	ExternalID   string
	Writers      []Share
	ISRCs        []string
}

// Candidate converts the entity for the matcher.
func (e ExistingEntity) Candidate() MatchCandidate {
	return MatchCandidate{
		ID:           e.ID,
		Title:        e.Title,
		AltTitles:    e.AltTitles,
		Counterparty: e.Counterparty,
	}
}

// CorpusProvider returns the owner's existing catalog in one read.
type CorpusProvider interface {
	FetchExisting(ctx context.Context, owner uuid.UUID) ([]ExistingEntity, error)
}

// Key identifies a record for the store's existence check.
type Key struct {
	Owner          uuid.UUID
	Kind           Kind
	ExternalID     string
	Title          string
	Counterparty   string
	IdempotencyKey string
	// MatchedID is set when a work or contract was matched to an existing
	// entity; the store then resolves the key by id.
	MatchedID string
}

// KeyFor builds the existence-check key of a record.
func KeyFor(owner uuid.UUID, rec Record) Key {
	k := Key{
		Owner:          owner,
		Kind:           rec.Kind,
		ExternalID:     rec.ExternalID,
		Title:          rec.Title,
		Counterparty:   rec.Counterparty,
		IdempotencyKey: rec.IdempotencyKey(owner),
	}
	if rec.Match != nil && rec.Match.Matched() && rec.Kind != KindRoyalty {
		k.MatchedID = rec.Match.CandidateID
	}
	return k
}

// StoredRecord is what the store holds for an existing record.
type StoredRecord struct {
	ID     string
	Fields map[string]string
}

// ChildType names the sub-entity tables written after a parent insert.
type ChildType string

const (
	ChildWriter     ChildType = "writer"
	ChildPublisher  ChildType = "publisher"
	ChildRecording  ChildType = "recording"
	ChildAllocation ChildType = "allocation"
)

// Child is a sub-entity row inserted once its parent exists.
type Child struct {
	Type        ChildType
	Name        string
	IPI         string
	Role        string
	Percent     decimal.Decimal
	Title       string
	ISRC        string
	ReleaseDate string
	AmountMinor int64
	Currency    string
}

// RecordStore is the persistent catalog. Implementations must return
// ErrDuplicateKey for unique-constraint violations on the external identifier
// and ErrSequenceConflict for sequence identifier collisions so they can be
// told apart from transient failures. ReplaceChildren drops every
// sub-entity stored under the parent before writing the new set, atomically.
type RecordStore interface {
	FindByKey(ctx context.Context, key Key) (*StoredRecord, error)
	Insert(ctx context.Context, owner uuid.UUID, rec Record) (string, error)
	Update(ctx context.Context, id string, fields map[string]string) error
	ReplaceChildren(ctx context.Context, parentID string, children []Child) error
}

// FieldChildren holds the digest of the sub-entities last written under a
// parent. It is stored only after the sub-entities themselves, so a parent
// without it never counts as complete.
const FieldChildren = "children_digest"

// ActivityEvent is one durable audit entry per committed record.
type ActivityEvent struct {
	ID        uuid.UUID
	Owner     uuid.UUID
	SessionID uuid.UUID
	Action    string
	RowNumber int
	Title     string
	EntityID  string
	Detail    string
	At        time.Time
}

// ActivityLog receives audit events. Failures never fail an import.
type ActivityLog interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// Principal is the authenticated caller and the catalog they own.
type Principal struct {
	UserID uuid.UUID
	Owner  uuid.UUID
	Email  string
}

// SessionProvider resolves the current caller.
type SessionProvider interface {
	CurrentUser(ctx context.Context) (Principal, error)
	Refresh(ctx context.Context) error
}

// MatchCache remembers accepted matches across imports of the same feed.
type MatchCache interface {
	Lookup(ctx context.Context, owner uuid.UUID, key MatchKey) (*CachedMatch, error)
	Save(ctx context.Context, owner uuid.UUID, key MatchKey, match CachedMatch) error
}
