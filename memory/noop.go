package memory

import "context"

// NoopManager is the degraded-mode Manager. When the subsystem cannot be
// initialized, every call site keeps working against this implementation:
// stores report false, retrievals come back empty, context is blank.
type NoopManager struct{}

// Noop returns the shared no-op manager.
func Noop() NoopManager {
	return NoopManager{}
}

func (NoopManager) StoreMemory(context.Context, string, MemoryType, string, StoreOptions) bool {
	return false
}

func (NoopManager) RetrieveMemories(context.Context, string, []MemoryType, string, RetrieveOptions) []Memory {
	return nil
}

func (NoopManager) MemoryContext(context.Context, string, string, ContextOptions) string {
	return ""
}

func (NoopManager) ScheduleConsolidation(string) {}
