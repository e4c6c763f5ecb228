//go:build !onnx

package engine

import (
	"errors"

	"github.com/adaojoaquim/agi-core/config"
	"github.com/adaojoaquim/agi-core/provider"
)

// ErrONNXDisabled is returned when the onnx embedder is configured in a
// binary built without the onnx tag.
var ErrONNXDisabled = errors.New("onnx embedder requires building with -tags onnx")

type closingEmbedder interface {
	provider.Embedder
	Close() error
}

func newONNXEmbedder(config.EmbedderConfig) (closingEmbedder, error) {
	return nil, ErrONNXDisabled
}
