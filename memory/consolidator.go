package memory

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// acceptAllDistance relaxes the threshold so a consolidation pass sees
	// every record of a scope. Cosine distance never exceeds 2.
	acceptAllDistance = 2.0

	// consolidationScanLimit caps how many records one pass considers.
	consolidationScanLimit = 1000

	// passTimeout bounds a full per-user consolidation pass.
	passTimeout = time.Minute
)

// consolidator is the single background worker that drains a queue of user IDs
// and prunes redundant memories per user. Foreground calls only ever touch the
// queue, never the pass itself.
type consolidator struct {
	index      Index
	embedder   Embedder
	config     Config
	summarizer Summarizer

	queue chan string
	stopc chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func newConsolidator(index Index, embedder Embedder, config Config) *consolidator {
	return &consolidator{
		index:    index,
		embedder: embedder,
		config:   config,
		queue:    make(chan string, config.QueueSize),
		stopc:    make(chan struct{}),
	}
}

// schedule enqueues without blocking. A full queue drops the request: passes
// are idempotent, so the next enqueue for the user covers the same work.
func (c *consolidator) schedule(userID string) {
	if userID == "" {
		return
	}
	select {
	case c.queue <- userID:
	default:
		log.Printf("[CONSOLIDATE] Queue full, dropping request for user=%s", userID)
	}
}

func (c *consolidator) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.run()
}

func (c *consolidator) stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopc)
	c.wg.Wait()
}

func (c *consolidator) run() {
	defer c.wg.Done()
	for {
		select {
		case userID := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
			c.consolidateUser(ctx, userID)
			cancel()
		case <-time.After(c.config.ConsolidationInterval):
			// Queue stayed empty for a full interval; block again.
		case <-c.stopc:
			return
		}
	}
}

// consolidateUser runs one pass per memory type. Errors are logged and never
// terminate the worker or affect other users.
func (c *consolidator) consolidateUser(ctx context.Context, userID string) {
	for _, typ := range AllTypes() {
		if err := c.consolidateType(ctx, userID, typ); err != nil {
			log.Printf("[CONSOLIDATE] Pass failed user=%s type=%s: %v", userID, typ, err)
		}
	}
}

func (c *consolidator) consolidateType(ctx context.Context, userID string, typ MemoryType) error {
	embedding, err := c.embedder.Embed(ctx, catchAllQuery)
	if err != nil {
		return err
	}

	scope := Filter{UserID: userID, Types: []MemoryType{typ}}
	hits, err := c.index.Search(ctx, embedding, scope, acceptAllDistance, consolidationScanLimit)
	if err != nil {
		return err
	}
	if len(hits) <= c.config.ConsolidateAfter {
		return nil
	}

	memories := make([]*Memory, 0, len(hits))
	for _, hit := range hits {
		memories = append(memories, hit.Memory)
	}

	kept := c.pruneExactDuplicates(ctx, userID, typ, memories)
	if c.summarizer != nil {
		c.mergeNearDuplicates(ctx, userID, typ, kept)
	}
	return nil
}

// pruneExactDuplicates deletes records whose normalized content is identical,
// keeping the oldest of each group. The representative already exists, so
// readers never see a window with neither record present. Returns the
// surviving records.
func (c *consolidator) pruneExactDuplicates(ctx context.Context, userID string, typ MemoryType, memories []*Memory) []*Memory {
	groups := make(map[string][]*Memory)
	for _, mem := range memories {
		key := normalizeContent(mem.Content)
		groups[key] = append(groups[key], mem)
	}

	kept := make([]*Memory, 0, len(groups))
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		kept = append(kept, group[0])
		if len(group) == 1 {
			continue
		}

		ids := make([]string, 0, len(group)-1)
		for _, dup := range group[1:] {
			ids = append(ids, dup.ID)
		}
		if err := c.index.Delete(ctx, userID, ids...); err != nil {
			log.Printf("[CONSOLIDATE] Failed to prune %d duplicates user=%s type=%s: %v",
				len(ids), userID, typ, err)
			kept = append(kept, group[1:]...)
			continue
		}
		log.Printf("[CONSOLIDATE] Pruned %d exact duplicates user=%s type=%s", len(ids), userID, typ)
	}
	return kept
}

// mergeNearDuplicates clusters the remaining records by embedding distance and
// replaces each multi-record cluster with one summarized record. The merged
// record is written before its sources are deleted.
func (c *consolidator) mergeNearDuplicates(ctx context.Context, userID string, typ MemoryType, memories []*Memory) {
	for _, cluster := range clusterByDistance(memories, c.config.DistanceThreshold) {
		if len(cluster) < 2 {
			continue
		}

		contents := make([]string, 0, len(cluster))
		confidence := 0.0
		threadID := cluster[0].ThreadID
		for _, mem := range cluster {
			contents = append(contents, mem.Content)
			if mem.Confidence > confidence {
				confidence = mem.Confidence
			}
			if mem.ThreadID != threadID {
				threadID = ""
			}
		}

		summary, err := c.summarizer.Summarize(ctx, contents)
		if err != nil || strings.TrimSpace(summary) == "" {
			log.Printf("[CONSOLIDATE] Summarize failed for %d records user=%s: %v",
				len(cluster), userID, err)
			continue
		}

		embedding, err := c.embedder.Embed(ctx, summary)
		if err != nil {
			log.Printf("[CONSOLIDATE] Embed of merged record failed user=%s: %v", userID, err)
			continue
		}

		merged := NewMemory(summary, typ, userID)
		merged.ThreadID = threadID
		merged.Embedding = embedding
		merged.Confidence = confidence
		merged.Metadata = map[string]string{"merged_from": strconv.Itoa(len(cluster))}

		if err := c.index.Insert(ctx, merged); err != nil {
			log.Printf("[CONSOLIDATE] Insert of merged record failed user=%s: %v", userID, err)
			continue
		}

		ids := make([]string, 0, len(cluster))
		for _, mem := range cluster {
			ids = append(ids, mem.ID)
		}
		if err := c.index.Delete(ctx, userID, ids...); err != nil {
			log.Printf("[CONSOLIDATE] Failed to delete %d merged sources user=%s: %v",
				len(ids), userID, err)
			continue
		}
		log.Printf("[CONSOLIDATE] Merged %d records into id=%s user=%s type=%s",
			len(cluster), merged.ID, userID, typ)
	}
}

// clusterByDistance greedily assigns each record to the first cluster whose
// seed is within maxDistance, otherwise it seeds a new cluster.
func clusterByDistance(memories []*Memory, maxDistance float32) [][]*Memory {
	var clusters [][]*Memory
	for _, mem := range memories {
		if len(mem.Embedding) == 0 {
			continue
		}
		placed := false
		for i, cluster := range clusters {
			if cosineDistance(cluster[0].Embedding, mem.Embedding) <= maxDistance {
				clusters[i] = append(clusters[i], mem)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*Memory{mem})
		}
	}
	return clusters
}

// cosineDistance returns 1 - cosine similarity; 2 when either vector is zero
// or the lengths differ, so mismatches never cluster.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}

// normalizeContent lowercases and collapses whitespace so rephrasing-free
// duplicates ("SMS  please" vs "sms please") group together.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
