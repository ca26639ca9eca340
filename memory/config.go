package memory

import (
	"fmt"
	"time"
)

// Config tunes the Manager and its consolidation worker.
type Config struct {
	// DistanceThreshold is the maximum cosine distance for two embeddings to
	// count as duplicates on the write path and as relevant on the read path.
	// The boundary is inclusive. Range (0,2].
	DistanceThreshold float32

	// RetrieveLimit is the default result cap for RetrieveMemories.
	RetrieveLimit int

	// ContextMemories is the default per-section cap for MemoryContext.
	ContextMemories int

	// OpTimeout bounds every embed and index call.
	OpTimeout time.Duration

	// ConsolidateAfter is the per-(user,type) record count above which a
	// consolidation pass starts merging.
	ConsolidateAfter int

	// ConsolidationInterval is how long the worker waits on an empty queue
	// before checking for shutdown and waiting again.
	ConsolidationInterval time.Duration

	// QueueSize bounds the consolidation queue. Enqueues beyond it are
	// dropped, which is safe because passes are idempotent.
	QueueSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DistanceThreshold:     0.3,
		RetrieveLimit:         5,
		ContextMemories:       5,
		OpTimeout:             5 * time.Second,
		ConsolidateAfter:      10,
		ConsolidationInterval: 600 * time.Second,
		QueueSize:             64,
	}
}

// Validate checks the configuration for out-of-range values.
func (c Config) Validate() error {
	if c.DistanceThreshold <= 0 || c.DistanceThreshold > 2 {
		return fmt.Errorf("distance threshold %v outside (0,2]", c.DistanceThreshold)
	}
	if c.RetrieveLimit <= 0 {
		return fmt.Errorf("retrieve limit must be positive, got %d", c.RetrieveLimit)
	}
	if c.ContextMemories <= 0 {
		return fmt.Errorf("context memories must be positive, got %d", c.ContextMemories)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("op timeout must be positive, got %v", c.OpTimeout)
	}
	if c.ConsolidateAfter <= 0 {
		return fmt.Errorf("consolidate-after must be positive, got %d", c.ConsolidateAfter)
	}
	if c.ConsolidationInterval <= 0 {
		return fmt.Errorf("consolidation interval must be positive, got %v", c.ConsolidationInterval)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	return nil
}
