package embedding

import (
	"hash/fnv"
	"strings"
)

const (
	clsToken int64 = 101
	sepToken int64 = 102

	hashedVocabSize  = 30000
	defaultMaxTokens = 256
)

// modelInputs holds one row each of input_ids, attention_mask and token_type_ids.
type modelInputs struct {
	ids      []int64
	mask     []int64
	segments []int64
}

// encodeInputs frames the hashed words of text with [CLS] and [SEP] and zero pads the
// rows to n. Words beyond n-2 are dropped.
func encodeInputs(text string, n int) modelInputs {
	if n < 2 {
		n = defaultMaxTokens
	}
	in := modelInputs{
		ids:      make([]int64, n),
		mask:     make([]int64, n),
		segments: make([]int64, n),
	}
	in.ids[0], in.mask[0] = clsToken, 1
	pos := 1
	for _, word := range strings.Fields(text) {
		if pos == n-1 {
			break
		}
		in.ids[pos], in.mask[pos] = wordID(word), 1
		pos++
	}
	in.ids[pos], in.mask[pos] = sepToken, 1
	return in
}

// wordID maps a word onto the hashed vocabulary, case-insensitively.
func wordID(word string) int64 {
	return int64(textHash(strings.ToLower(word)) % hashedVocabSize)
}

func textHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
