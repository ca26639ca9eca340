// Package chromem implements the memory.Index interface on top of chromem-go,
// a pure Go embedded vector database.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemo-ai/mnemo-go/memory"
)

// collectionName is the single logical collection holding all memories.
// Scoping happens through metadata tag filters, not separate collections.
const collectionName = "memories"

// Metadata tag keys of the collection schema.
const (
	tagUserID     = "user_id"
	tagMemoryID   = "memory_id"
	tagMemoryType = "memory_type"
	tagThreadID   = "thread_id"
	tagConfidence = "confidence"
	tagCreatedAt  = "created_at"
	tagMetadata   = "metadata"
)

// Store is a memory.Index backed by one chromem-go collection with cosine
// distance semantics.
type Store struct {
	db   *chromem.DB
	col  *chromem.Collection
	dims int
}

// New creates an in-memory store expecting embeddings of the given length.
func New(dims int) (*Store, error) {
	return newStore(chromem.NewDB(), dims)
}

// NewPersistent creates a store persisted under path.
func NewPersistent(path string, dims int) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return newStore(db, dims)
}

func newStore(db *chromem.DB, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	// Embeddings are always supplied by the caller, so the collection gets no
	// embedding function of its own.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{db: db, col: col, dims: dims}, nil
}

// Dimensions returns the embedding length the schema expects.
func (s *Store) Dimensions() int {
	return s.dims
}

// Insert adds one record. Embeddings of the wrong length are rejected, never
// truncated.
func (s *Store) Insert(ctx context.Context, mem *memory.Memory) error {
	if mem == nil || strings.TrimSpace(mem.Content) == "" {
		return memory.ErrEmptyContent
	}
	if !mem.Type.Valid() {
		return memory.ErrInvalidType
	}
	if len(mem.Embedding) != s.dims {
		return fmt.Errorf("%w: got %d, schema expects %d",
			memory.ErrDimensionMismatch, len(mem.Embedding), s.dims)
	}

	meta, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			tagUserID:     mem.UserID,
			tagMemoryID:   mem.ID,
			tagMemoryType: string(mem.Type),
			tagThreadID:   mem.ThreadID,
			tagConfidence: strconv.FormatFloat(mem.Confidence, 'f', -1, 64),
			tagCreatedAt:  mem.CreatedAt.Format(time.RFC3339Nano),
			tagMetadata:   string(meta),
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns records within maxDistance (inclusive) of the query,
// ascending by distance. chromem's where filter is an AND over tag equality,
// so an OR over memory types runs one query per type and merges.
func (s *Store) Search(ctx context.Context, embedding []float32, f memory.Filter, maxDistance float32, limit int) ([]memory.Hit, error) {
	if f.UserID == "" {
		return nil, fmt.Errorf("search requires a user scope")
	}
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d, schema expects %d",
			memory.ErrDimensionMismatch, len(embedding), s.dims)
	}
	if limit <= 0 {
		return nil, nil
	}

	types := f.Types
	if len(types) == 0 {
		types = memory.AllTypes()
	}

	var hits []memory.Hit
	for _, typ := range types {
		where := map[string]string{
			tagUserID:     f.UserID,
			tagMemoryType: string(typ),
		}
		if f.ThreadID != "" {
			where[tagThreadID] = f.ThreadID
		}

		results, err := s.queryEmbedding(ctx, embedding, limit, where)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			// chromem reports cosine similarity; distance = 1 - similarity.
			dist := 1 - res.Similarity
			if dist > maxDistance {
				continue
			}
			mem, err := recordFromResult(res)
			if err != nil {
				log.Printf("[CHROMEM] Skipping malformed record id=%s: %v", res.ID, err)
				continue
			}
			hits = append(hits, memory.Hit{Memory: mem, Distance: dist})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// queryEmbedding wraps chromem's QueryEmbedding, which rejects result counts
// larger than the collection. Retry with smaller limits until one fits.
func (s *Store) queryEmbedding(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]chromem.Result, error) {
	if count := s.col.Count(); count < limit {
		limit = count
	}
	for n := limit; n >= 1; n-- {
		results, err := s.col.QueryEmbedding(ctx, embedding, n, where, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("query: %w", err)
		}
	}
	// No documents match the filter.
	return nil, nil
}

// Delete removes records by ID, scoped to userID so one user can never delete
// another's records. chromem ignores the ID list when a where filter is set,
// so ownership is checked per document instead.
func (s *Store) Delete(ctx context.Context, userID string, ids ...string) error {
	if userID == "" {
		return fmt.Errorf("delete requires a user scope")
	}
	owned := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			// Already gone; deletes are idempotent.
			continue
		}
		if doc.Metadata[tagUserID] != userID {
			log.Printf("[CHROMEM] Refusing cross-user delete of id=%s", id)
			continue
		}
		owned = append(owned, id)
	}
	if len(owned) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, owned...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Close releases resources. chromem persists on write, nothing to flush.
func (s *Store) Close() error {
	return nil
}

// recordFromResult rebuilds a Memory from a stored document. Any field that
// fails to parse makes the whole record malformed; callers skip it and keep
// the rest of the batch.
func recordFromResult(res chromem.Result) (*memory.Memory, error) {
	if strings.TrimSpace(res.Content) == "" {
		return nil, memory.ErrEmptyContent
	}
	typ := memory.MemoryType(res.Metadata[tagMemoryType])
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", memory.ErrInvalidType, res.Metadata[tagMemoryType])
	}

	createdAt, err := time.Parse(time.RFC3339Nano, res.Metadata[tagCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	confidence, err := strconv.ParseFloat(res.Metadata[tagConfidence], 64)
	if err != nil {
		return nil, fmt.Errorf("parse confidence: %w", err)
	}

	var meta map[string]string
	if raw := res.Metadata[tagMetadata]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &memory.Memory{
		ID:         res.ID,
		Content:    res.Content,
		Type:       typ,
		UserID:     res.Metadata[tagUserID],
		ThreadID:   res.Metadata[tagThreadID],
		Embedding:  res.Embedding,
		Confidence: confidence,
		CreatedAt:  createdAt,
		Metadata:   meta,
	}, nil
}

// isInsufficientDocsError reports whether err is chromem complaining that
// nResults exceeds the number of stored documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") ||
		strings.Contains(msg, "number of documents")
}
