// Package fingerprint derives deterministic cache keys from text and retrieval parameters.
//
// Keys are hex-encoded SHA-256 digests. A collision would alias two inputs to one
// cache slot; no collision handling is performed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Size is the length in bytes of the digest behind every key.
const Size = sha256.Size

// Text returns the key for the UTF-8 bytes of s.
func Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Query returns the key for a retrieval request. Filters with the same key/value pairs
// produce the same key regardless of map iteration order. A nil filter and an empty
// filter are equivalent.
func Query(query string, topK int, filter map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte("q:"))
	h.Write([]byte(strconv.Itoa(len(query))))
	h.Write([]byte{':'})
	h.Write([]byte(query))
	h.Write([]byte("|k:"))
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte("|f:"))
	h.Write([]byte(CanonicalFilter(filter)))
	return hex.EncodeToString(h.Sum(nil))
}

// Scoped qualifies key with the namespace scope, so keys derived from the same
// request under different scopes never collide.
func Scoped(scope, key string) string {
	h := sha256.New()
	h.Write([]byte("s:"))
	h.Write([]byte(strconv.Itoa(len(scope))))
	h.Write([]byte{':'})
	h.Write([]byte(scope))
	h.Write([]byte("|"))
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

type filterPair struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// CanonicalFilter renders filter as a JSON array of key/value pairs sorted by key.
// Values are JSON-encoded, so 5 and 5.0 are the same value while "5" is not.
func CanonicalFilter(filter map[string]interface{}) string {
	if len(filter) == 0 {
		return "[]"
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]filterPair, len(keys))
	for i, k := range keys {
		pairs[i] = filterPair{Key: k, Value: filter[k]}
	}
	out, err := json.Marshal(pairs)
	if err != nil {
		// Unencodable values still need a stable rendering.
		return fmt.Sprintf("%v", pairs)
	}
	return string(out)
}
