package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCutPrefix_MatchesCaseInsensitiveTokenWithTrailingArg(t *testing.T) {
	arg, ok := cutPrefix("/PLAN build a widget", "/plan")
	assert.True(t, ok)
	assert.Equal(t, "build a widget", arg)
}

func TestCutPrefix_RejectsTokenWithoutSeparatingSpace(t *testing.T) {
	_, ok := cutPrefix("/planner", "/plan")
	assert.False(t, ok)
}

func TestCutPrefix_BareTokenHasEmptyArg(t *testing.T) {
	arg, ok := cutPrefix("/plan", "/plan")
	assert.True(t, ok)
	assert.Equal(t, "", arg)
}

func TestCutPrefixAny_MatchesEitherToken(t *testing.T) {
	arg, ok := cutPrefixAny("/thinkdry optimize this", "/prompt", "/thinkdry")
	assert.True(t, ok)
	assert.Equal(t, "optimize this", arg)
}

func TestSplitAgentArg_RecognizesKnownAgentPrefix(t *testing.T) {
	agent, question := splitAgentArg("coder what is the build status")
	assert.Equal(t, "coder", agent)
	assert.Equal(t, "what is the build status", question)
}

func TestSplitAgentArg_DefaultsToPlannerWhenNoAgentToken(t *testing.T) {
	agent, question := splitAgentArg("what is the build status")
	assert.Equal(t, "planner", agent)
	assert.Equal(t, "what is the build status", question)
}

func TestPreview_TruncatesLongTextWithEllipsis(t *testing.T) {
	long := "this is a very long request that should be truncated for the acknowledgement"
	got := preview(long, 20)
	assert.Equal(t, "this is a very long…", got)
}

func TestPreview_ShortTextPassesThrough(t *testing.T) {
	assert.Equal(t, "short", preview("short", 20))
}

func TestHandlerResult_FormatsError(t *testing.T) {
	got := handlerResult("", assertErr{"boom"})
	assert.Equal(t, "Error: boom", got)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
