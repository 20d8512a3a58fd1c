package memory

import (
	"hash/fnv"
	"math"
	"strings"
)

// Dimension is the fixed embedding width, per spec.md §3.
const Dimension = 384

// Embedder turns text into a fixed-dimension vector. The real embedding
// model is an excluded external collaborator (spec.md §1 Non-goals); this
// interface is what every caller in this repository depends on.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder is a deterministic bag-of-trigrams hashing embedder. It is
// not semantically meaningful beyond rewarding shared substrings, and
// exists as the zero-config stand-in named in SPEC_FULL.md §5.5 — tests
// and any deployment without a configured real embedding model use it.
type HashEmbedder struct{}

// Embed implements Embedder by hashing character trigrams of the
// lowercased input into buckets and L2-normalizing the result, so cosine
// similarity between embeddings reflects shared trigram content.
func (HashEmbedder) Embed(text string) []float32 {
	v := make([]float32, Dimension)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return v
	}
	runes := []rune(text)
	if len(runes) < 3 {
		runes = append(runes, make([]rune, 3-len(runes))...)
	}
	for i := 0; i+3 <= len(runes); i++ {
		trigram := string(runes[i : i+3])
		h := fnv.New32a()
		_, _ = h.Write([]byte(trigram))
		bucket := h.Sum32() % uint32(Dimension)
		v[bucket] += 1
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sumSquares float64
	for _, f := range v {
		sumSquares += float64(f) * float64(f)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, per spec.md §3/§4.5.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
