package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30000
)

// WordTokenizer splits on non-alphanumeric runes and hashes each word to a
// token ID. It is not a real WordPiece tokenizer; it serves models exported
// without a bundled tokenizer, and tests.
type WordTokenizer struct{}

// Tokenize produces padded token IDs up to maxTokens, with [CLS] and [SEP] markers.
func (t *WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(hashWord(word) % vocabSize)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = sepTokenID
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Words lowercases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashWord(w string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(w))
	return h.Sum64()
}
