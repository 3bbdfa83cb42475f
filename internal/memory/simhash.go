// Package memory implements the memory lifecycle engine: salience decay,
// reinforcement, supersession, deduplication, and tier promotion.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns a stable hex digest of normalized content, used as
// the exact-duplicate key (spec.md §3 "content_hash = H(normalized(content))").
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(normalize(content)))
	return hex.EncodeToString(sum[:])
}

// normalize lowercases and collapses whitespace so near-identical content
// (different casing, trailing spaces) hashes the same.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// SimHash computes a 64-bit locality-sensitive hash over word shingles of
// content, used for near-duplicate detection (spec.md §3 "SimHash").
func SimHash(content string) uint64 {
	shingles := shingle(normalize(content), 3)
	if len(shingles) == 0 {
		shingles = []string{normalize(content)}
	}

	var weights [64]int
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var out uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// shingle splits normalized text into overlapping word n-grams.
func shingle(s string, n int) []string {
	words := strings.Fields(s)
	if len(words) < n {
		if len(words) == 0 {
			return nil
		}
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+n], " "))
	}
	return out
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// JaccardSimilarity estimates shingle-set overlap between two content
// strings, used as the second dedup signal alongside Hamming distance
// (spec.md §9 Open Questions: "recommended defaults are D≤3 and jaccard>0.85").
func JaccardSimilarity(a, b string) float64 {
	setA := shingleSet(a)
	setB := shingleSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for sh := range setA {
		if setB[sh] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func shingleSet(s string) map[string]bool {
	shingles := shingle(normalize(s), 3)
	out := make(map[string]bool, len(shingles))
	for _, sh := range shingles {
		out[sh] = true
	}
	return out
}
