package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	agent, question, response string
	called                    bool
}

func (f *fakeNotifier) Notify(ctx context.Context, agent, question, response string) error {
	f.agent, f.question, f.response = agent, question, response
	f.called = true
	return nil
}

func testPipelines(t *testing.T, notifier OwnerNotifier) (*Pipelines, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		General: config.General{
			AskTimeout:   config.Duration{Duration: 2 * time.Second},
			ThinkTimeout: config.Duration{Duration: 2 * time.Second},
			AdhocTimeout: config.Duration{Duration: 2 * time.Second},
			AgentCLI:     "echo",
		},
		Agents: map[string]config.Agent{
			"planner": {Temperature: 0.25},
			"coder":   {Temperature: 0.18},
		},
		Paths: config.Paths{Workspace: dir},
	}
	return &Pipelines{
		Cfg:            cfg,
		Invoker:        NewInvoker("echo"),
		Notifier:       notifier,
		DispatchLogDir: dir,
		LessonsLogPath: filepath.Join(dir, "lessons.log"),
	}, dir
}

func TestTruncateForOwner_ShortPassesThrough(t *testing.T) {
	assert.Equal(t, "hello", truncateForOwner("hello"))
}

func TestTruncateForOwner_LongIsTruncated(t *testing.T) {
	long := make([]byte, truncateLimit+100)
	for i := range long {
		long[i] = 'a'
	}
	got := truncateForOwner(string(long))
	assert.True(t, len(got) < len(long))
	assert.Contains(t, got, truncateSuffix)
}

func TestExtractJSON_FindsOutermostBraces(t *testing.T) {
	in := "some preamble text {\"project\":\"x\",\"tasks\":[]} trailing notes"
	assert.Equal(t, `{"project":"x","tasks":[]}`, extractJSON(in))
}

func TestExtractJSON_NoBracesReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractJSON("no json here"))
}

func TestStripFences_RemovesBackticksAndQuotes(t *testing.T) {
	in := "```\n\"optimized prompt text\"\n```"
	assert.Equal(t, "optimized prompt text", stripFences(in))
}

func TestStripFences_PlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "plain text", stripFences("plain text"))
}

func TestAsk_DeliversTruncatedAnswerToOwner(t *testing.T) {
	notifier := &fakeNotifier{}
	p, _ := testPipelines(t, notifier)
	p.Ask(context.Background(), "planner", "what is the status")
	require.True(t, notifier.called)
	assert.Equal(t, "planner", notifier.agent)
	assert.Equal(t, "what is the status", notifier.question)
}

func TestAsk_DefaultsToPlannerWhenAgentEmpty(t *testing.T) {
	notifier := &fakeNotifier{}
	p, _ := testPipelines(t, notifier)
	p.Ask(context.Background(), "", "question")
	require.True(t, notifier.called)
	assert.Equal(t, "planner", notifier.agent)
}

func TestAdhoc_TargetsCoderAgent(t *testing.T) {
	notifier := &fakeNotifier{}
	p, _ := testPipelines(t, notifier)
	p.Adhoc(context.Background(), "run the thing")
	require.True(t, notifier.called)
	assert.Equal(t, "coder", notifier.agent)
}

func TestPromptDry_DeliversOptimizedTextWithoutDispatchingPlan(t *testing.T) {
	notifier := &fakeNotifier{}
	p, dir := testPipelines(t, notifier)
	p.PromptDry(context.Background(), "build a widget")
	require.True(t, notifier.called)

	_, err := os.Stat(filepath.Join(dir, "chat-router-planner.log"))
	assert.True(t, os.IsNotExist(err), "plan pipeline must not run for prompt-dry")
}

func TestPlan_NoAddTasksScriptIsSafeNoOp(t *testing.T) {
	p, _ := testPipelines(t, nil)
	p.Plan(context.Background(), "do a thing")
}

func TestLastLessons_ReturnsTailOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lessons.log")
	require.NoError(t, os.WriteFile(path, []byte("l1\nl2\nl3\n"), 0644))
	got := lastLessons(path, 2)
	assert.Equal(t, []string{"l2", "l3"}, got)
}

func TestLastLessons_MissingFileReturnsNil(t *testing.T) {
	assert.Nil(t, lastLessons("/nonexistent/path.log", 5))
}
