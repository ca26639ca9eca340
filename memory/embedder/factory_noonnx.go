//go:build !onnx

package embedder

import (
	"fmt"

	"github.com/mnemo-ai/mnemo-go/memory"
)

func openONNX(Config) (memory.Embedder, error) {
	return nil, fmt.Errorf("built without onnx support; rebuild with -tags onnx")
}
