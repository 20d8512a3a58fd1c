package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_ProducesFixedDimension(t *testing.T) {
	v := HashEmbedder{}.Embed("hello world")
	require.Len(t, v, Dimension)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	a := HashEmbedder{}.Embed("same text")
	b := HashEmbedder{}.Embed("same text")
	assert.Equal(t, a, b)
}

func TestHashEmbedder_EmptyStringIsZeroVector(t *testing.T) {
	v := HashEmbedder{}.Embed("")
	for _, f := range v {
		assert.Zero(t, f)
	}
}

func TestCosineSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	v := HashEmbedder{}.Embed("I live in Freehold NJ")
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_RelatedTextScoresHigherThanUnrelated(t *testing.T) {
	e := HashEmbedder{}
	target := e.Embed("I live in Freehold NJ")
	related := e.Embed("where do I live")
	unrelated := e.Embed("my dog's name is Max")

	simRelated := CosineSimilarity(target, related)
	simUnrelated := CosineSimilarity(target, unrelated)
	assert.Greater(t, simRelated, simUnrelated)
}
