// Package memory provides a durable, deduplicated memory layer for
// conversational agents.
//
// Facts learned during conversations are stored as immutable Memory records,
// embedded into a vector index, and retrieved by semantic similarity to enrich
// future prompts. Records are namespaced by user ID (and optionally thread ID)
// for multi-user isolation.
//
// Architecture:
//   - Index: vector storage backend with tag filters (chromem-go for the local
//     SDK, a hosted vector database in production)
//   - Embedder: text-to-vector conversion (Ollama by default, ONNX for offline
//     use, mock for tests)
//   - Manager: the write/read contract with deduplicated stores, filtered
//     retrieval, prompt context assembly, and consolidation scheduling
//
// Every operation is best-effort: backend failures are logged and degrade to
// "no memory for this call" rather than surfacing to the agent. A background
// consolidator prunes redundant records per user without blocking callers.
package memory
