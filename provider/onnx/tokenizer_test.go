//go:build onnx

package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordPiece_Encode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{
		"[UNK]": 100, "quantum": 7, "comput": 8, "##ing": 9, "hello": 10
	}}}`), 0o600))

	tok, err := loadWordPiece(path)
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 7, 8, 9}, tok.encode("Hello, quantum computing!"))
	assert.Equal(t, []int64{unkTokenID}, tok.encode("x"))
	assert.Empty(t, tok.encode("  ... "))
}

func TestWordPiece_EmptyVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{}}}`), 0o600))

	_, err := loadWordPiece(path)
	assert.Error(t, err)
}
