package memory_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo-go/memory"
	"github.com/mnemo-ai/mnemo-go/memory/store/chromem"
)

// vocabEmbedder returns fixed vectors for known phrases so tests control
// distances exactly. Unknown text maps to a far-away axis.
type vocabEmbedder struct {
	dims  int
	vocab map[string][]float32
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.vocab[text]; ok {
		return vec, nil
	}
	far := make([]float32, e.dims)
	far[e.dims-1] = 1
	return far, nil
}

func (e *vocabEmbedder) Dimensions() int {
	return e.dims
}

// failEmbedder simulates a dead embedding backend.
type failEmbedder struct{ dims int }

func (e *failEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding backend unavailable")
}

func (e *failEmbedder) Dimensions() int { return e.dims }

// failIndex wraps a real index and fails every call, for fallback-path tests.
type failIndex struct{ dims int }

func (f *failIndex) Insert(context.Context, *memory.Memory) error {
	return fmt.Errorf("index down")
}

func (f *failIndex) Search(context.Context, []float32, memory.Filter, float32, int) ([]memory.Hit, error) {
	return nil, fmt.Errorf("index down")
}

func (f *failIndex) Delete(context.Context, string, ...string) error {
	return fmt.Errorf("index down")
}

func (f *failIndex) Dimensions() int { return f.dims }
func (f *failIndex) Close() error    { return nil }

// fakeKV records spilled writes.
type fakeKV struct {
	keys   []string
	values [][]byte
}

func (f *fakeKV) Set(key string, value []byte, _ time.Duration) bool {
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
	return true
}

func (f *fakeKV) Get(string) ([]byte, bool) { return nil, false }
func (f *fakeKV) Close()                    {}

const (
	smsPreference  = "user prefers sms over email"
	smsRephrased   = "user likes getting sms notifications"
	lisbonFact     = "user lives in lisbon"
	queryChannel   = "how should I notify the user"
	catchAllPhrase = "general information about the user and the conversation"
)

func testVocab() map[string][]float32 {
	return map[string][]float32{
		// smsPreference and smsRephrased are near-duplicates (distance ~0.005);
		// lisbonFact is orthogonal to both.
		smsPreference:  {1, 0, 0},
		smsRephrased:   {0.99503719, 0.09950372, 0},
		lisbonFact:     {0, 1, 0},
		queryChannel:   {1, 0, 0},
		catchAllPhrase: {0.70710678, 0.70710678, 0},
	}
}

func newTestManager(t *testing.T, config memory.Config, opts ...memory.Option) *memory.VectorManager {
	t.Helper()
	index, err := chromem.New(3)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	emb := &vocabEmbedder{dims: 3, vocab: testVocab()}
	manager, err := memory.NewManager(index, emb, config, opts...)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager
}

func TestStoreMemory_DeduplicatesNearMatches(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, memory.DefaultConfig())

	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("First store should succeed")
	}
	if manager.StoreMemory(ctx, smsRephrased, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Near-duplicate should be rejected")
	}
	if !manager.StoreMemory(ctx, lisbonFact, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Distinct content should be stored")
	}

	memories := manager.RetrieveMemories(ctx, queryChannel, nil, "user1", memory.RetrieveOptions{})
	if len(memories) != 1 {
		t.Fatalf("Expected 1 relevant memory, got %d", len(memories))
	}
	if memories[0].Content != smsPreference {
		t.Fatalf("Expected %q, got %q", smsPreference, memories[0].Content)
	}
}

func TestStoreMemory_ScopesDedupPerUserAndType(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, memory.DefaultConfig())

	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Store for user1 episodic should succeed")
	}
	// Same content in a different type scope is not a duplicate.
	if !manager.StoreMemory(ctx, smsPreference, memory.Semantic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Store for user1 semantic should succeed")
	}
	// Same content for a different user is not a duplicate.
	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user2", memory.StoreOptions{}) {
		t.Fatalf("Store for user2 should succeed")
	}

	// Each user only sees their own records.
	for _, userID := range []string{"user1", "user2"} {
		memories := manager.RetrieveMemories(ctx, queryChannel, nil, userID, memory.RetrieveOptions{})
		for _, mem := range memories {
			if mem.UserID != userID {
				t.Fatalf("Retrieval for %s leaked record owned by %s", userID, mem.UserID)
			}
		}
	}
}

func TestRetrieveMemories_ThreadScoping(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, memory.DefaultConfig())

	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1",
		memory.StoreOptions{ThreadID: "t1"}) {
		t.Fatalf("Store should succeed")
	}

	// The same thread sees the record; a different thread does not.
	hits := manager.RetrieveMemories(ctx, queryChannel, nil, "user1",
		memory.RetrieveOptions{ThreadID: "t1"})
	if len(hits) != 1 {
		t.Fatalf("Expected 1 memory in thread t1, got %d", len(hits))
	}
	hits = manager.RetrieveMemories(ctx, queryChannel, nil, "user1",
		memory.RetrieveOptions{ThreadID: "t2"})
	if len(hits) != 0 {
		t.Fatalf("Thread t2 should see nothing, got %d", len(hits))
	}

	// Unscoped retrieval for the owner still finds it.
	hits = manager.RetrieveMemories(ctx, queryChannel, nil, "user1", memory.RetrieveOptions{})
	if len(hits) != 1 {
		t.Fatalf("Unscoped retrieval should find the record, got %d", len(hits))
	}
}

func TestStoreMemory_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, memory.DefaultConfig())

	if manager.StoreMemory(ctx, "   ", memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Blank content should be rejected")
	}
	if manager.StoreMemory(ctx, "fact", memory.Episodic, "", memory.StoreOptions{}) {
		t.Fatalf("Missing user ID should be rejected")
	}
	if manager.StoreMemory(ctx, "fact", memory.MemoryType("procedural"), "user1", memory.StoreOptions{}) {
		t.Fatalf("Unknown memory type should be rejected")
	}
}

func TestRetrieveMemories_OrderedByDistance(t *testing.T) {
	ctx := context.Background()

	// Tiny dedup threshold so close vectors can coexist in the index.
	config := memory.DefaultConfig()
	config.DistanceThreshold = 0.001

	vocab := map[string][]float32{
		"closest": {1, 0, 0},
		"middle":  {0.95533649, 0.29552021, 0},
		"far":     {0.87758256, 0.47942554, 0},
		"query":   {1, 0, 0},
	}
	index, err := chromem.New(3)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	manager, err := memory.NewManager(index, &vocabEmbedder{dims: 3, vocab: vocab}, config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	for _, content := range []string{"far", "closest", "middle"} {
		if !manager.StoreMemory(ctx, content, memory.Semantic, "user1", memory.StoreOptions{}) {
			t.Fatalf("Failed to store %q", content)
		}
	}

	memories := manager.RetrieveMemories(ctx, "query", nil, "user1",
		memory.RetrieveOptions{MaxDistance: 0.5})
	if len(memories) != 3 {
		t.Fatalf("Expected 3 memories, got %d", len(memories))
	}
	want := []string{"closest", "middle", "far"}
	for i, content := range want {
		if memories[i].Content != content {
			t.Fatalf("Position %d: expected %q, got %q", i, content, memories[i].Content)
		}
	}
}

func TestRetrieveMemories_ThresholdBoundaryInclusive(t *testing.T) {
	ctx := context.Background()

	config := memory.DefaultConfig()
	config.DistanceThreshold = 0.001

	// "boundary" is orthogonal to the query, cosine distance exactly 1.0.
	// "beyond" sits at distance 1.5.
	vocab := map[string][]float32{
		"boundary": {0, 1, 0},
		"beyond":   {-0.5, 0.86602540, 0},
		"query":    {1, 0, 0},
	}
	index, err := chromem.New(3)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	manager, err := memory.NewManager(index, &vocabEmbedder{dims: 3, vocab: vocab}, config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	for _, content := range []string{"boundary", "beyond"} {
		if !manager.StoreMemory(ctx, content, memory.Semantic, "user1", memory.StoreOptions{}) {
			t.Fatalf("Failed to store %q", content)
		}
	}

	memories := manager.RetrieveMemories(ctx, "query", nil, "user1",
		memory.RetrieveOptions{MaxDistance: 1.0})
	if len(memories) != 1 {
		t.Fatalf("Expected exactly the at-boundary record, got %d results", len(memories))
	}
	if memories[0].Content != "boundary" {
		t.Fatalf("Expected boundary record, got %q", memories[0].Content)
	}
}

func TestStoreMemory_EmbedFailureReportsFalse(t *testing.T) {
	ctx := context.Background()
	index, err := chromem.New(3)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	manager, err := memory.NewManager(index, &failEmbedder{dims: 3}, memory.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if manager.StoreMemory(ctx, "fact", memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Store should report false when embedding fails")
	}
	if got := manager.RetrieveMemories(ctx, "anything", nil, "user1", memory.RetrieveOptions{}); len(got) != 0 {
		t.Fatalf("Retrieve should be empty when embedding fails, got %d", len(got))
	}
	if got := manager.MemoryContext(ctx, "anything", "user1", memory.ContextOptions{}); got != "" {
		t.Fatalf("Context should be empty when embedding fails, got %q", got)
	}
}

func TestStoreMemory_SpillsToFallbackOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{}
	emb := &vocabEmbedder{dims: 3, vocab: testVocab()}
	manager, err := memory.NewManager(&failIndex{dims: 3}, emb, memory.DefaultConfig(),
		memory.WithFallback(kv))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Store should report false when the index is down")
	}
	if len(kv.keys) != 1 {
		t.Fatalf("Expected 1 spilled record, got %d", len(kv.keys))
	}
	if !strings.HasPrefix(kv.keys[0], "mem:user1:") {
		t.Fatalf("Unexpected fallback key %q", kv.keys[0])
	}
	if !strings.Contains(string(kv.values[0]), smsPreference) {
		t.Fatalf("Spilled record does not carry the content: %s", kv.values[0])
	}
}

func TestRetrieveMemories_BlankQueryUsesCatchAll(t *testing.T) {
	ctx := context.Background()

	config := memory.DefaultConfig()
	config.DistanceThreshold = 0.75
	manager := newTestManager(t, config)

	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Failed to store")
	}

	// The catch-all vector is 45 degrees from the stored record, distance
	// ~0.29, inside the widened threshold.
	memories := manager.RetrieveMemories(ctx, "   ", nil, "user1", memory.RetrieveOptions{})
	if len(memories) != 1 {
		t.Fatalf("Blank query should fall back to catch-all retrieval, got %d results", len(memories))
	}
}

func TestMemoryContext_FormatsSections(t *testing.T) {
	ctx := context.Background()

	config := memory.DefaultConfig()
	config.DistanceThreshold = 1.2
	manager := newTestManager(t, config)

	if !manager.StoreMemory(ctx, smsPreference, memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Failed to store episodic")
	}
	if !manager.StoreMemory(ctx, lisbonFact, memory.Semantic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Failed to store semantic")
	}

	got := manager.MemoryContext(ctx, queryChannel, "user1", memory.ContextOptions{})
	if got == "" {
		t.Fatalf("Expected non-empty context")
	}
	episodicAt := strings.Index(got, "Relevant user memories:")
	semanticAt := strings.Index(got, "Relevant knowledge:")
	if episodicAt == -1 || semanticAt == -1 {
		t.Fatalf("Context missing a section header:\n%s", got)
	}
	if episodicAt > semanticAt {
		t.Fatalf("Episodic section should come first:\n%s", got)
	}
	if !strings.Contains(got, "- "+smsPreference) || !strings.Contains(got, "- "+lisbonFact) {
		t.Fatalf("Context missing a bullet:\n%s", got)
	}

	if got := manager.MemoryContext(ctx, queryChannel, "nobody", memory.ContextOptions{}); got != "" {
		t.Fatalf("Context for unknown user should be empty, got %q", got)
	}
}

func TestNoopManager_SafeEverywhere(t *testing.T) {
	ctx := context.Background()
	var manager memory.Manager = memory.Noop()

	if manager.StoreMemory(ctx, "fact", memory.Episodic, "user1", memory.StoreOptions{}) {
		t.Fatalf("Noop store should report false")
	}
	if got := manager.RetrieveMemories(ctx, "q", nil, "user1", memory.RetrieveOptions{}); got != nil {
		t.Fatalf("Noop retrieve should return nil, got %v", got)
	}
	if got := manager.MemoryContext(ctx, "q", "user1", memory.ContextOptions{}); got != "" {
		t.Fatalf("Noop context should be empty, got %q", got)
	}
	manager.ScheduleConsolidation("user1")
}
