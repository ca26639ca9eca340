// Package mnemo wires the memory subsystem together: embedding provider,
// vector index, fallback store, and consolidation worker behind one
// fail-safe entry point.
//
// Open never returns an error. When any component fails to initialize, the
// process runs in degraded mode against a no-op manager: stores report false,
// retrievals come back empty, and the host application keeps conversing.
// Degraded mode is sticky until Reinitialize succeeds.
package mnemo

import (
	"log"
	"sync"

	"github.com/mnemo-ai/mnemo-go/memory"
	"github.com/mnemo-ai/mnemo-go/memory/embedder"
	"github.com/mnemo-ai/mnemo-go/memory/store/chromem"
	"github.com/mnemo-ai/mnemo-go/memory/store/kv"
	"github.com/mnemo-ai/mnemo-go/memory/summarize"
)

var (
	mu       sync.Mutex
	initDone bool
	active   memory.Manager

	// activeVM and activeKV are kept so Reinitialize can release the previous
	// backends. Nil in degraded mode.
	activeVM *memory.VectorManager
	activeKV *kv.Store
)

// Open returns the process-wide memory manager, building it on first call.
// Every later call returns the same manager, including the no-op manager
// after a failed first build. Use Reinitialize to retry after a failure.
func Open(cfg Config) memory.Manager {
	mu.Lock()
	defer mu.Unlock()
	if initDone {
		return active
	}
	setActiveLocked(cfg)
	return active
}

// Reinitialize tears down the current manager and builds a fresh one from
// cfg. This is the one way out of degraded mode.
func Reinitialize(cfg Config) memory.Manager {
	mu.Lock()
	defer mu.Unlock()

	if activeVM != nil {
		if err := activeVM.Close(); err != nil {
			log.Printf("[MNEMO] Closing previous manager: %v", err)
		}
		activeVM = nil
	}
	if activeKV != nil {
		activeKV.Close()
		activeKV = nil
	}

	setActiveLocked(cfg)
	return active
}

// Degraded reports whether the subsystem is running against the no-op
// manager.
func Degraded() bool {
	mu.Lock()
	defer mu.Unlock()
	return initDone && activeVM == nil
}

func setActiveLocked(cfg Config) {
	initDone = true
	vm, kvStore, err := build(cfg)
	if err != nil {
		log.Printf("[MNEMO] Initialization failed, running degraded: %v", err)
		active = memory.Noop()
		activeVM = nil
		activeKV = nil
		return
	}
	vm.Start()
	active = vm
	activeVM = vm
	activeKV = kvStore
}

func build(cfg Config) (*memory.VectorManager, *kv.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.Open(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}

	var index memory.Index
	if cfg.Index.Path != "" {
		index, err = chromem.NewPersistent(cfg.Index.Path, emb.Dimensions())
	} else {
		index, err = chromem.New(emb.Dimensions())
	}
	if err != nil {
		return nil, nil, err
	}

	var opts []memory.Option
	var kvStore *kv.Store
	if cfg.Fallback.Enabled {
		kvStore, err = kv.New(cfg.Fallback.MaxBytes)
		if err != nil {
			index.Close()
			return nil, nil, err
		}
		opts = append(opts, memory.WithFallback(kvStore))
	}
	if cfg.Summarize.Enabled {
		opts = append(opts, memory.WithSummarizer(newSummarizer(cfg.Summarize)))
	}

	vm, err := memory.NewManager(index, emb, cfg.memoryConfig(), opts...)
	if err != nil {
		if kvStore != nil {
			kvStore.Close()
		}
		index.Close()
		return nil, nil, err
	}
	return vm, kvStore, nil
}

func newSummarizer(cfg SummarizeConfig) memory.Summarizer {
	if cfg.Provider == "claude" {
		return summarize.NewClaude(cfg.APIKey, cfg.Model)
	}
	return summarize.Heuristic{}
}
