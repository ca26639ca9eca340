package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// catchAllQuery replaces a blank retrieval query so broad requests still match
// something instead of returning nothing.
const catchAllQuery = "general information about the user and the conversation"

// fallbackTTL bounds how long a spilled record survives in the key-value
// fallback.
const fallbackTTL = 15 * time.Minute

// VectorManager is the SDK-provided Manager implementation backed by a vector
// index and an embedding provider.
//
// All public operations swallow backend failures: they log and report
// false/empty instead of returning an error, so conversational continuity
// never depends on memory-store availability.
type VectorManager struct {
	index    Index
	embedder Embedder
	config   Config

	// fallback, when set, receives best-effort copies of records the index
	// rejected. Optional.
	fallback KeyValue

	consolidator *consolidator
}

// Option configures a VectorManager.
type Option func(*VectorManager)

// WithFallback sets a TTL'd key-value store that captures writes the vector
// index could not accept.
func WithFallback(kv KeyValue) Option {
	return func(m *VectorManager) {
		m.fallback = kv
	}
}

// WithSummarizer enables merge-by-summary for near-duplicate clusters during
// consolidation. Without it, consolidation prunes exact duplicates only.
func WithSummarizer(s Summarizer) Option {
	return func(m *VectorManager) {
		m.consolidator.summarizer = s
	}
}

// NewManager creates a VectorManager. The embedder's dimensionality must match
// the index schema. Call Start to launch the consolidation worker and Close to
// stop it.
func NewManager(index Index, embedder Embedder, config Config, opts ...Option) (*VectorManager, error) {
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if index.Dimensions() != embedder.Dimensions() {
		return nil, fmt.Errorf("index expects %d dimensions but embedder produces %d",
			index.Dimensions(), embedder.Dimensions())
	}

	m := &VectorManager{
		index:    index,
		embedder: embedder,
		config:   config,
	}
	m.consolidator = newConsolidator(index, embedder, config)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches the background consolidation worker.
func (m *VectorManager) Start() {
	m.consolidator.start()
}

// Close stops the consolidation worker and releases the index.
func (m *VectorManager) Close() error {
	m.consolidator.stop()
	return m.index.Close()
}

// StoreMemory persists content unless a near-duplicate already exists within
// the (userID, typ[, threadID]) scope.
func (m *VectorManager) StoreMemory(ctx context.Context, content string, typ MemoryType, userID string, opts StoreOptions) bool {
	content = strings.TrimSpace(content)
	if content == "" || userID == "" {
		log.Printf("[MEMORY] Rejecting store: empty content or user ID")
		return false
	}
	if !typ.Valid() {
		log.Printf("[MEMORY] Rejecting store: unknown memory type %q", typ)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.OpTimeout)
	defer cancel()

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		log.Printf("[MEMORY] Embed failed, skipping store: %v", err)
		return false
	}

	// Nearest neighbor inside the scope decides duplication. The boundary is
	// inclusive: exactly-at-threshold counts as a duplicate.
	scope := Filter{UserID: userID, Types: []MemoryType{typ}, ThreadID: opts.ThreadID}
	hits, err := m.index.Search(ctx, embedding, scope, m.config.DistanceThreshold, 1)
	if err != nil {
		log.Printf("[MEMORY] Dedup lookup failed: %v", err)
		m.spillToFallback(userID, content, typ, opts)
		return false
	}
	if len(hits) > 0 {
		log.Printf("[MEMORY] Near-duplicate at distance %.3f, skipping store for user=%s",
			hits[0].Distance, userID)
		return false
	}

	mem := NewMemory(content, typ, userID)
	mem.ThreadID = opts.ThreadID
	mem.Embedding = embedding
	mem.Metadata = opts.Metadata
	if opts.Confidence > 0 {
		mem.Confidence = opts.Confidence
	}

	if err := m.index.Insert(ctx, mem); err != nil {
		log.Printf("[MEMORY] Insert failed for user=%s: %v", userID, err)
		m.spillToFallback(userID, content, typ, opts)
		return false
	}

	log.Printf("[MEMORY] Stored %s memory id=%s user=%s", typ, mem.ID, userID)
	m.ScheduleConsolidation(userID)
	return true
}

// RetrieveMemories returns relevant memories nearest-first. types may hold one
// or more memory types (OR-combined); empty means all types.
func (m *VectorManager) RetrieveMemories(ctx context.Context, query string, types []MemoryType, userID string, opts RetrieveOptions) []Memory {
	if userID == "" {
		return nil
	}
	if strings.TrimSpace(query) == "" {
		query = catchAllQuery
	}
	if len(types) == 0 {
		types = AllTypes()
	}

	maxDistance := m.config.DistanceThreshold
	if opts.MaxDistance > 0 {
		maxDistance = opts.MaxDistance
	}
	limit := m.config.RetrieveLimit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.OpTimeout)
	defer cancel()

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[MEMORY] Embed failed, returning no memories: %v", err)
		return nil
	}

	scope := Filter{UserID: userID, Types: types, ThreadID: opts.ThreadID}
	hits, err := m.index.Search(ctx, embedding, scope, maxDistance, limit)
	if err != nil {
		log.Printf("[MEMORY] Search failed for user=%s: %v", userID, err)
		return nil
	}

	memories := make([]Memory, 0, len(hits))
	for _, hit := range hits {
		memories = append(memories, *hit.Memory)
	}
	log.Printf("[MEMORY] Retrieved %d memories for user=%s", len(memories), userID)
	return memories
}

// MemoryContext retrieves episodic and semantic memories independently and
// formats them for prompt injection. See assembleContext for the layout.
func (m *VectorManager) MemoryContext(ctx context.Context, query string, userID string, opts ContextOptions) string {
	max := m.config.ContextMemories
	if opts.MaxMemories > 0 {
		max = opts.MaxMemories
	}
	retrieve := RetrieveOptions{ThreadID: opts.ThreadID, Limit: max}

	episodic := m.RetrieveMemories(ctx, query, []MemoryType{Episodic}, userID, retrieve)
	semantic := m.RetrieveMemories(ctx, query, []MemoryType{Semantic}, userID, retrieve)

	return assembleContext(episodic, semantic)
}

// ScheduleConsolidation enqueues a consolidation pass for the user without
// blocking. Requests are dropped when the queue is full; the next successful
// enqueue covers the same work.
func (m *VectorManager) ScheduleConsolidation(userID string) {
	m.consolidator.schedule(userID)
}

// fallbackRecord is the shape spilled into the key-value fallback.
type fallbackRecord struct {
	Content    string            `json:"content"`
	Type       MemoryType        `json:"type"`
	ThreadID   string            `json:"thread_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Confidence float64           `json:"confidence"`
}

// spillToFallback writes a lower-fidelity copy of a failed store into the
// key-value fallback. Best effort only; the caller still reports false.
func (m *VectorManager) spillToFallback(userID, content string, typ MemoryType, opts StoreOptions) {
	if m.fallback == nil {
		return
	}
	confidence := opts.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	data, err := json.Marshal(fallbackRecord{
		Content:    content,
		Type:       typ,
		ThreadID:   opts.ThreadID,
		Metadata:   opts.Metadata,
		Confidence: confidence,
	})
	if err != nil {
		return
	}
	key := "mem:" + userID + ":" + newMemoryID()
	if m.fallback.Set(key, data, fallbackTTL) {
		log.Printf("[MEMORY] Spilled failed store to fallback key=%s", key)
	}
}
