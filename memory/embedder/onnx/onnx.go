//go:build onnx

// Package onnx runs a sentence-transformer embedding model in-process through
// ONNX Runtime. No network dependency, which makes it the provider of choice
// for offline deployments.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Standard sequence length for MiniLM-class models.
const maxSeqLen = 128

// Config locates the model files.
type Config struct {
	// ModelPath is the .onnx model file.
	ModelPath string

	// TokenizerPath is the HuggingFace tokenizer.json next to the model.
	TokenizerPath string

	// SharedLibraryPath overrides where onnxruntime's shared library lives.
	// Empty keeps the runtime default (ORT_DLL_PATH or system search path).
	SharedLibraryPath string
}

// Embedder runs tokenization, inference, and pooling for one loaded model.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	dims      int

	// ONNX sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

var initOnce sync.Once

// New loads the model and tokenizer and probes the model once to learn its
// hidden size.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("model path and tokenizer path are required")
	}

	var initErr error
	initOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	tokenizer, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e := &Embedder{session: session, tokenizer: tokenizer}
	probe, err := e.Embed(context.Background(), "warmup")
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("probe model: %w", err)
	}
	e.dims = len(probe)
	return e, nil
}

// Embed tokenizes text, runs the model, and mean-pools the token vectors into
// one normalized embedding.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	inputIDs, attentionMask := e.tokenizer.encode(text, maxSeqLen)
	tokenTypeIDs := make([]int64, maxSeqLen)

	shape := ort.NewShape(1, int64(maxSeqLen))
	inputs := make([]ort.Value, 0, 3)
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			for _, t := range inputs {
				t.Destroy()
			}
			return nil, fmt.Errorf("create tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}
	defer func() {
		for _, t := range inputs {
			t.Destroy()
		}
	}()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer func() {
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	return meanPool(hidden, attentionMask)
}

// Dimensions returns the model's hidden size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close destroys the session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// meanPool averages the hidden states of attended tokens and normalizes the
// result to a unit vector. Accepts both pooled [1, H] and raw [1, S, H]
// model outputs.
func meanPool(hidden *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()

	switch len(shape) {
	case 2:
		out := make([]float32, shape[1])
		copy(out, data)
		return normalize(out), nil
	case 3:
		seqLen, hiddenSize := int(shape[1]), int(shape[2])
		out := make([]float32, hiddenSize)
		attended := float32(0)
		for i := 0; i < seqLen && i < len(attentionMask); i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			row := data[i*hiddenSize : (i+1)*hiddenSize]
			for j, v := range row {
				out[j] += v
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens")
		}
		for j := range out {
			out[j] /= attended
		}
		return normalize(out), nil
	default:
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer backed by the
// vocab of a HuggingFace tokenizer.json.
type wordPieceTokenizer struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer has empty vocab")
	}

	t := &wordPieceTokenizer{vocab: file.Model.Vocab, cls: 101, sep: 102, unk: 100}
	// Prefer the vocab's own special-token IDs over the BERT defaults.
	if id, ok := t.vocab["[CLS]"]; ok {
		t.cls = int64(id)
	}
	if id, ok := t.vocab["[SEP]"]; ok {
		t.sep = int64(id)
	}
	if id, ok := t.vocab["[UNK]"]; ok {
		t.unk = int64(id)
	}
	return t, nil
}

// encode produces fixed-length input IDs and attention mask with [CLS] and
// [SEP] framing. Over-long inputs are truncated.
func (t *wordPieceTokenizer) encode(text string, maxLen int) (inputIDs, attentionMask []int64) {
	ids := t.tokenize(text)
	if len(ids) > maxLen-2 {
		ids = ids[:maxLen-2]
	}

	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)

	inputIDs[0] = t.cls
	attentionMask[0] = 1
	for i, id := range ids {
		inputIDs[i+1] = id
		attentionMask[i+1] = 1
	}
	inputIDs[len(ids)+1] = t.sep
	attentionMask[len(ids)+1] = 1
	return inputIDs, attentionMask
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// wordPiece splits a word into the longest vocab prefixes, marking
// continuations with "##".
func (t *wordPieceTokenizer) wordPiece(word string) []int64 {
	var ids []int64
	start := 0
	for start < len(word) {
		matched := false
		for end := len(word); end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
				start = end
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, t.unk)
			start++
		}
	}
	return ids
}
