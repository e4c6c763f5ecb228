//go:build onnx

package engine

import (
	"github.com/adaojoaquim/agi-core/config"
	"github.com/adaojoaquim/agi-core/provider/onnx"
)

type closingEmbedder = *onnx.Embedder

func newONNXEmbedder(cfg config.EmbedderConfig) (closingEmbedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         cfg.ModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		Dimensions:        cfg.Dimensions,
	})
}
