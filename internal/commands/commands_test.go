package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/dispatch"
	"github.com/nrlabs/ashleyd/internal/google"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
	"github.com/nrlabs/ashleyd/internal/sqladapter"
	"github.com/nrlabs/ashleyd/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPsql(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "psql")
	script := `#!/bin/sh
sql=""
id=""
while [ $# -gt 0 ]; do
  case "$1" in
    -c) sql="$2"; shift ;;
    -v) case "$2" in id=*) id="${2#id=}" ;; esac; shift ;;
  esac
  shift
done
case "$sql" in
  *"GROUP BY status"*)
    printf 'TODO\0372\nBLOCKED\0371\nIN_PROGRESS\0371\nREADY_FOR_TESTING\0371\nCOMPLETE\0375\n' ;;
  *"WHERE status = :'status' ORDER BY"*)
    printf '1\037Fix a\037BLOCKED\0375\037\037\037alpha\037\037\037\037needs review\0372024-01-01 00:00:00\037\n' ;;
  *"completed_at >="*)
    printf '4\n' ;;
  *"FROM autonomous_tasks WHERE id"*)
    if [ "$id" = "1" ]; then
      printf '1\037Fix a\037BLOCKED\0375\037\037coder\037alpha\037do the thing\037\037\037needs review\0372024-01-01 00:00:00\037\n'
    fi
    ;;
  *"SET status = :'status'"*)
    printf '1\n' ;;
  *"UPDATE autonomous_tasks SET solution"*)
    printf 'ok\n' ;;
  *"pending_questions"*"ORDER BY created_at ASC LIMIT 1"*)
    printf '9\037planner\0371\037what port?\037\037pending\0372024-01-01 00:00:00\037\n' ;;
  *"UPDATE pending_questions SET status = 'answered'"*)
    printf 'ok\n' ;;
  *"UPDATE pending_questions SET status = 'expired'"*)
    printf '' ;;
  *"pending_questions WHERE status != 'expired'"*)
    printf '9\037planner\0371\037what port?\037\037pending\0372024-01-01 00:00:00\037\n' ;;
  *"count(*) FROM pending_questions"*)
    printf '1\n' ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()
	bin := stubPsql(t)
	sql := sqladapter.New(config.Postgres{Database: "ashleyd"}).WithBinary(bin)
	workspace := t.TempDir()
	cfg := &config.Config{Paths: config.Paths{Workspace: workspace}}

	cfg.General.AskTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.General.AdhocTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.General.ThinkTimeout = config.Duration{Duration: 2 * time.Second}

	inv := dispatch.NewInvoker("echo")
	p := &dispatch.Pipelines{Cfg: cfg, Invoker: inv, DispatchLogDir: workspace}

	h := &Handlers{
		Cfg:        cfg,
		Tasks:      tasks.New(sql),
		Rendezvous: rendezvous.New(sql),
		Memory:     memory.New(sql, memory.HashEmbedder{}),
		Pipelines:  p,
		Google:     google.NopClient{},
	}
	return h, workspace
}

func TestTasks_FormatsFiveCounters(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Tasks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "2 TODO")
	assert.Contains(t, out, "1 BLOCKED")
	assert.Contains(t, out, "5 COMPLETE")
}

func TestBlockers_FormatsReasonOnSecondLine(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Blockers(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "#1 Fix a")
	assert.Contains(t, out, "needs review")
}

func TestUnblock_DefaultsToTODOAndReportsChange(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Unblock(context.Background(), "1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Task 1 set to TODO.", out)
}

func TestUnblock_AcceptsReadyAlias(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Unblock(context.Background(), "1", "ready", "")
	require.NoError(t, err)
	assert.Equal(t, "Task 1 set to READY_FOR_TESTING.", out)
}

func TestTask_NotFoundReportsClearly(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Task(context.Background(), "404")
	require.NoError(t, err)
	assert.Equal(t, "Task 404 not found.", out)
}

func TestAnswer_BindsOldestAndReportsQuestionID(t *testing.T) {
	h, _ := newTestHandlers(t)
	out, err := h.Answer(context.Background(), "8080")
	require.NoError(t, err)
	assert.Equal(t, "Answer recorded for question #9.", out)
}

func TestParseProjectNote_PipeSeparated(t *testing.T) {
	project, note, ok := ParseProjectNote("widget|shipped the thing", "")
	require.True(t, ok)
	assert.Equal(t, "widget", project)
	assert.Equal(t, "shipped the thing", note)
}

func TestParseProjectNote_ColonOnlyWhenProjectHasNoWhitespace(t *testing.T) {
	project, note, ok := ParseProjectNote("widget:shipped the thing", "")
	require.True(t, ok)
	assert.Equal(t, "widget", project)
	assert.Equal(t, "shipped the thing", note)

	_, _, ok = ParseProjectNote("my widget:shipped the thing", "")
	assert.False(t, ok)
}

func TestParseProjectNote_InfersFromLatestProject(t *testing.T) {
	project, note, ok := ParseProjectNote("shipped the thing", "widget")
	require.True(t, ok)
	assert.Equal(t, "widget", project)
	assert.Equal(t, "shipped the thing", note)
}

func TestNote_AppendsTimestampedLineToDatedFile(t *testing.T) {
	h, workspace := newTestHandlers(t)
	out, err := h.Note("buy milk")
	require.NoError(t, err)
	assert.Equal(t, "Note saved.", out)

	today := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(workspace, "notes", today+".md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "buy milk")
}

func TestLesson_AppendsToLessonsLog(t *testing.T) {
	h, workspace := newTestHandlers(t)
	out, err := h.Lesson(context.Background(), "always bind loopback")
	require.NoError(t, err)
	assert.Equal(t, "Lesson recorded.", out)

	data, err := os.ReadFile(filepath.Join(workspace, "agent-context", "lessons.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "always bind loopback")
}

func TestLink_FetchesTitleAndPersistsBookmark(t *testing.T) {
	h, _ := newTestHandlers(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Example Domain</title></head></html>"))
	}))
	defer srv.Close()

	out, err := h.Link(srv.URL, []string{"reference"})
	require.NoError(t, err)
	assert.Equal(t, "Saved: Example Domain", out)
}

func TestCountLessonsSince_CountsOnlyRecentTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lessons.log")
	old := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)
	content := "[" + old + "] stale lesson\n[" + recent + "] fresh lesson\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	n := countLessonsSince(path, time.Now().UTC().Add(-7*24*time.Hour))
	assert.Equal(t, 1, n)
}

func TestGmailUnread_UsesGoogleFacade(t *testing.T) {
	h, _ := newTestHandlers(t)
	h.Google = fakeGoogle{unread: 3}
	out, err := h.GmailUnread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3 unread email(s).", out)
}

type fakeGoogle struct {
	google.NopClient
	unread int
}

func (f fakeGoogle) CountUnread(context.Context) (int, error) { return f.unread, nil }
