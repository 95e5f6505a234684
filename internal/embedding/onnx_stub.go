//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("onnx embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (*ONNXEmbedder) ModelName() string { return "onnx" }

func (*ONNXEmbedder) Dimensions() int { return 0 }

func (*ONNXEmbedder) Close() error { return nil }
