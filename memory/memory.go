package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies what a record represents.
type MemoryType string

const (
	// Episodic memories are tied to one user's specific experience or
	// preference ("prefers SMS over email").
	Episodic MemoryType = "episodic"

	// Semantic memories hold general knowledge not specific to one user.
	Semantic MemoryType = "semantic"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	return t == Episodic || t == Semantic
}

// AllTypes lists every memory type, in retrieval order.
func AllTypes() []MemoryType {
	return []MemoryType{Episodic, Semantic}
}

// Memory is an immutable fact learned during a conversation.
//
// Records are write-once: consolidation replaces a group of records with a new
// merged record and deletes the sources, it never edits a record in place.
type Memory struct {
	// ID is process-unique and lexicographically time-sortable (UUIDv7).
	ID string

	// Content is the stored fact. Never empty.
	Content string

	// Type is fixed at creation.
	Type MemoryType

	// UserID scopes the record to its owner. Required.
	UserID string

	// ThreadID optionally narrows the record to one conversation.
	ThreadID string

	// Embedding is the content vector. Its length must match the index schema.
	Embedding []float32

	// Confidence is in [0,1].
	Confidence float64

	CreatedAt time.Time

	// Metadata is an opaque payload, not interpreted by this package.
	Metadata map[string]string
}

// NewMemory creates a record with a fresh ID and timestamp and full confidence.
func NewMemory(content string, typ MemoryType, userID string) *Memory {
	return &Memory{
		ID:         newMemoryID(),
		Content:    content,
		Type:       typ,
		UserID:     userID,
		Confidence: 1.0,
		CreatedAt:  time.Now().UTC(),
	}
}

// newMemoryID returns a prefixed UUIDv7. V7 IDs embed a millisecond timestamp,
// so lexicographic order follows creation order.
func newMemoryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4.
		id = uuid.New()
	}
	return "mem_" + id.String()
}

// Errors returned at component boundaries. The Manager never propagates these
// to callers; they exist so internals and tests can tell failure modes apart.
var (
	// ErrDimensionMismatch is returned by an Index when a record's embedding
	// length does not match the index schema.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyContent is returned when a record has no content to store.
	ErrEmptyContent = errors.New("memory content is empty")

	// ErrInvalidType is returned for an unknown memory type.
	ErrInvalidType = errors.New("invalid memory type")
)

// Filter scopes an index search. UserID is always required; Types are
// OR-combined; ThreadID, when set, further narrows the match.
type Filter struct {
	UserID   string
	Types    []MemoryType
	ThreadID string
}

// Hit is one search result with its cosine distance to the query
// (smaller = more similar).
type Hit struct {
	Memory   *Memory
	Distance float32
}

// Index is the vector storage backend.
// Implementations: chromem.Store (local SDK), a pgvector store (production).
type Index interface {
	// Insert adds a record. Records whose embedding length does not match the
	// index schema are rejected with ErrDimensionMismatch, never truncated.
	Insert(ctx context.Context, mem *Memory) error

	// Search returns records within maxDistance of the query embedding,
	// ascending by distance. The boundary is inclusive: a candidate at exactly
	// maxDistance is returned. Malformed stored records are skipped, not fatal.
	Search(ctx context.Context, embedding []float32, f Filter, maxDistance float32, limit int) ([]Hit, error)

	// Delete removes the identified records, scoped to userID.
	Delete(ctx context.Context, userID string, ids ...string) error

	// Dimensions returns the embedding length the index schema expects.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: ollama.Embedder (default), onnx.Embedder (offline, behind
// the onnx build tag), mock.Embedder (tests).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// KeyValue is an optional lower-fidelity fallback store with TTL semantics,
// written to best-effort when the vector index rejects a store.
type KeyValue interface {
	Set(key string, value []byte, ttl time.Duration) bool
	Get(key string) ([]byte, bool)
	Close()
}

// Summarizer merges the contents of a near-duplicate cluster into one
// representative statement during consolidation.
// Implementations: summarize.Claude (LLM-backed), summarize.Heuristic.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}

// Manager is the public surface of the memory subsystem. All operations are
// fail-safe: no backend failure ever reaches the caller as an error or panic.
type Manager interface {
	// StoreMemory persists a fact unless a near-duplicate already exists in
	// the same (user, type[, thread]) scope. It reports whether a new record
	// was written. Failures of any kind report false.
	StoreMemory(ctx context.Context, content string, typ MemoryType, userID string, opts StoreOptions) bool

	// RetrieveMemories returns the most relevant memories for the query,
	// nearest first. A blank query is widened to a catch-all so broad
	// retrieval still returns results. Failures return an empty slice.
	RetrieveMemories(ctx context.Context, query string, types []MemoryType, userID string, opts RetrieveOptions) []Memory

	// MemoryContext builds a formatted text block of relevant memories for
	// prompt injection. It returns the empty string when nothing is relevant.
	MemoryContext(ctx context.Context, query string, userID string, opts ContextOptions) string

	// ScheduleConsolidation enqueues a background consolidation pass for the
	// user. It never blocks; duplicate requests are harmless.
	ScheduleConsolidation(userID string)
}

// StoreOptions carries the optional parameters of StoreMemory.
type StoreOptions struct {
	// ThreadID narrows the record to one conversation.
	ThreadID string

	// Metadata is stored opaquely alongside the record.
	Metadata map[string]string

	// Confidence in [0,1]. Zero means "use the default" (1.0).
	Confidence float64
}

// RetrieveOptions carries the optional parameters of RetrieveMemories.
type RetrieveOptions struct {
	ThreadID string

	// MaxDistance overrides the configured distance threshold when > 0.
	MaxDistance float32

	// Limit overrides the configured retrieval limit when > 0.
	Limit int
}

// ContextOptions carries the optional parameters of MemoryContext.
type ContextOptions struct {
	ThreadID string

	// MaxMemories caps each section independently. Zero means the configured
	// default.
	MaxMemories int
}
