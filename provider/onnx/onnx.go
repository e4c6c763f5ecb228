//go:build onnx

// Package onnx embeds text locally with all-MiniLM-L6-v2 through ONNX Runtime.
// Build with -tags onnx; the shared library must be installed separately.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mudler/xlog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultDimensions = 384
	sequenceLength    = 128
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to model.onnx.
	ModelPath string

	// TokenizerPath is the path to tokenizer.json.
	TokenizerPath string

	// SharedLibraryPath points at libonnxruntime. Empty uses the runtime's
	// default lookup.
	SharedLibraryPath string

	// Dimensions is the hidden size (default 384).
	Dimensions int
}

// Embedder runs sentence embeddings on a local ONNX session.
// Sessions are not re-entrant, so Embed calls are serialized.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPiece
	dimensions int
}

// New loads the model and tokenizer.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: ModelPath is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, errors.New("onnx: TokenizerPath is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tokenizer, err := loadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	xlog.Info("ONNX embedder ready", "component", "onnx", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns the mean-pooled, L2-normalized sentence embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask, tokenTypeIDs := e.encode(text)

	shape := ort.NewShape(1, sequenceLength)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}

	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("onnx: unexpected output tensor type")
	}

	embedding, err := e.pool(hidden.GetShape(), hidden.GetData(), attentionMask)
	if err != nil {
		return nil, err
	}
	return normalize(embedding), nil
}

// encode builds the fixed-length [CLS] tokens [SEP] input.
func (e *Embedder) encode(text string) (ids, mask, types []int64) {
	ids = make([]int64, sequenceLength)
	mask = make([]int64, sequenceLength)
	types = make([]int64, sequenceLength)

	tokens := e.tokenizer.encode(text)
	if len(tokens) > sequenceLength-2 {
		tokens = tokens[:sequenceLength-2]
	}

	ids[0], mask[0] = clsTokenID, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepTokenID, 1
	return ids, mask, types
}

// pool handles both pre-pooled [1, hidden] and token-level
// [1, seq, hidden] outputs.
func (e *Embedder) pool(shape ort.Shape, data []float32, mask []int64) ([]float32, error) {
	out := make([]float32, e.dimensions)

	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("onnx: output size %d < %d", len(data), e.dimensions)
		}
		copy(out, data[:e.dimensions])
		return out, nil

	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("onnx: expected batch size 1, got %d", shape[0])
		}
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != e.dimensions {
			return nil, fmt.Errorf("onnx: hidden size %d, expected %d", hidden, e.dimensions)
		}

		var attended float32
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*hidden : (i+1)*hidden]
			for j, v := range row {
				out[j] += v
			}
		}
		if attended > 0 {
			for j := range out {
				out[j] /= attended
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Name identifies the provider in logs.
func (e *Embedder) Name() string {
	return "onnx"
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
