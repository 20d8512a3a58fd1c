package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlugify_LowercasesAndCollapsesPunctuation(t *testing.T) {
	assert.Equal(t, "morning-report", Slugify("Morning Report!!"))
}

func TestSlugify_TrimsEdgeHyphens(t *testing.T) {
	assert.Equal(t, "a-b", Slugify("--a--b--"))
}

func TestSlugify_TruncatesToFortyChars(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "abcdefghij "
	}
	got := Slugify(long)
	assert.LessOrEqual(t, len(got), maxSlugLen)
}

func TestHash6_IsSixHexDigitsAndDeterministic(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := Hash6("morning-report", at)
	h2 := Hash6("morning-report", at)
	assert.Len(t, h1, 6)
	assert.Equal(t, h1, h2)
}

func TestHash6_DiffersAcrossTimestamps(t *testing.T) {
	a := Hash6("slug", time.Unix(1, 0))
	b := Hash6("slug", time.Unix(2, 0))
	assert.NotEqual(t, a, b)
}

func TestUnitName_ComposesPrefixSlugHash(t *testing.T) {
	assert.Equal(t, "ashleyd-morning-report-abc123", UnitName("ashleyd", "morning-report", "abc123"))
}
