//go:build onnx

package embedder

import (
	"github.com/mnemo-ai/mnemo-go/memory"
	"github.com/mnemo-ai/mnemo-go/memory/embedder/onnx"
)

func openONNX(cfg Config) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         cfg.ModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
	})
}
