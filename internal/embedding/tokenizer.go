package embedding

import "strings"

const (
	defaultMaxTokens = 256
	vocabSize        = 30000
	clsToken         = 101
	sepToken         = 102
)

// Tokenizer produces BERT-style model inputs padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// WordTokenizer maps whitespace-separated words to hashed vocabulary ids.
type WordTokenizer struct{}

// Tokenize emits [CLS] words... [SEP], truncating words that do not fit.
func (WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = defaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0], attentionMask[0] = clsToken, 1
	pos := 1
	for _, w := range TruncateWords(SplitWords(text), maxTokens-2) {
		inputIDs[pos] = int64(HashString(strings.ToLower(w)) % vocabSize)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos], attentionMask[pos] = sepToken, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on any whitespace.
func SplitWords(text string) []string {
	return strings.Fields(text)
}

// HashString returns a deterministic non-negative hash.
func HashString(s string) int {
	var h uint32
	for _, c := range s {
		h = 31*h + uint32(c)
	}
	return int(h)
}

// TruncateWords returns at most maxWords words.
func TruncateWords(words []string, maxWords int) []string {
	if len(words) <= maxWords {
		return words
	}
	return words[:maxWords]
}
