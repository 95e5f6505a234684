//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/wembed/pkg/utils"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// ONNXEmbedder runs a BERT-style sentence model through ONNX Runtime. It requires
// CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	model      string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	// Run() reads from and writes into these; Embed copies in and out under mu.
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx: embedding.model_path is required")
	}
	ortInit.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", ortInitErr)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	e := &ONNXEmbedder{
		model:      "onnx:" + strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &WordTokenizer{},
	}
	ids, mask, types := e.tokenizer.Tokenize("", maxTokens)
	shape := ort.NewShape(1, int64(maxTokens))

	var err error
	if e.inputIDs, err = ort.NewTensor(shape, ids); err != nil {
		return nil, e.fail("input_ids tensor", err)
	}
	if e.attentionMask, err = ort.NewTensor(shape, mask); err != nil {
		return nil, e.fail("attention_mask tensor", err)
	}
	if e.tokenTypeIDs, err = ort.NewTensor(shape, types); err != nil {
		return nil, e.fail("token_type_ids tensor", err)
	}
	if e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		return nil, e.fail("output tensor", err)
	}
	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		return nil, e.fail("session", err)
	}
	return e, nil
}

func (e *ONNXEmbedder) fail(what string, err error) error {
	_ = e.Close()
	return fmt.Errorf("onnx: create %s: %w", what, err)
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.output.GetData())
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *ONNXEmbedder) ModelName() string { return e.model }

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close destroys the session and tensors. It is safe on a partially built embedder.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.output != nil {
		_ = e.output.Destroy()
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs, e.output = nil, nil, nil, nil
	return err
}
