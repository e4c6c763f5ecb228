//go:build onnx

package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Special token ids of the bert-base-uncased vocabulary used by MiniLM.
const (
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// wordPiece is a minimal BERT WordPiece tokenizer backed by tokenizer.json.
type wordPiece struct {
	vocab map[string]int
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}

	return &wordPiece{vocab: doc.Model.Vocab}, nil
}

// encode lowercases text, splits on whitespace and greedily matches the
// longest vocabulary prefixes, continuing with "##" pieces.
func (t *wordPiece) encode(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.pieces(word)...)
	}
	return ids
}

func (t *wordPiece) pieces(word string) []int64 {
	var ids []int64
	for start := 0; start < len(word); {
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
			ids = append(ids, unkTokenID)
			start++
		}
	}
	return ids
}
