package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrlabs/ashleyd/internal/chattransport"
	"github.com/nrlabs/ashleyd/internal/commands"
	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/dispatch"
	"github.com/nrlabs/ashleyd/internal/google"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
	"github.com/nrlabs/ashleyd/internal/sqladapter"
	"github.com/nrlabs/ashleyd/internal/tasks"
)

func stubPsql(t *testing.T, pendingCount string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "psql")
	script := `#!/bin/sh
sql=""
while [ $# -gt 0 ]; do
  case "$1" in
    -c) sql="$2"; shift ;;
  esac
  shift
done
case "$sql" in
  *"GROUP BY status"*)
    printf 'TODO\0371\n' ;;
  *"SELECT count(*) FROM pending_questions"*)
    printf '` + pendingCount + `\n' ;;
  *"pending_questions"*"ORDER BY created_at ASC LIMIT 1"*)
    printf '5\037planner\037\037what next?\037\037pending\0372024-01-01 00:00:00\037\n' ;;
  *"UPDATE pending_questions SET status = 'answered'"*)
    printf 'ok\n' ;;
  *"UPDATE pending_questions SET status = 'expired'"*)
    printf '' ;;
  *"pending_questions WHERE status != 'expired'"*)
    printf '' ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

type fakeChatClient struct {
	updates       []chattransport.Update
	sentMessages  []string
	reactions     int
	reactionErr   error
	getFilePath   string
	downloadBytes []byte
}

func (f *fakeChatClient) GetUpdates(context.Context, int64, int) ([]chattransport.Update, error) {
	return f.updates, nil
}

func (f *fakeChatClient) SendMessage(_ context.Context, _ int64, text string) error {
	f.sentMessages = append(f.sentMessages, text)
	return nil
}

func (f *fakeChatClient) SetMessageReaction(context.Context, int64, int64, string) error {
	f.reactions++
	return f.reactionErr
}

func (f *fakeChatClient) GetFile(context.Context, string) (string, error) {
	return f.getFilePath, nil
}

func (f *fakeChatClient) DownloadFile(context.Context, string) ([]byte, error) {
	return f.downloadBytes, nil
}

func newTestPoller(t *testing.T, pendingCount string, client Client, routerURL string) (*Poller, string) {
	t.Helper()
	sql := sqladapter.New(config.Postgres{Database: "ashleyd"}).WithBinary(stubPsql(t, pendingCount))
	workspace := t.TempDir()

	cfg := &config.Config{
		Paths: config.Paths{Workspace: workspace},
		Telegram: config.Telegram{
			ChatID:      "100",
			AllowFrom:   []string{"100", "200"},
			AckReaction: "\U0001F440",
		},
	}
	cfg.General.AskTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.General.AdhocTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.General.ThinkTimeout = config.Duration{Duration: 2 * time.Second}

	pipelines := &dispatch.Pipelines{Cfg: cfg, Invoker: dispatch.NewInvoker("echo"), DispatchLogDir: workspace}
	handlers := &commands.Handlers{
		Cfg:        cfg,
		Tasks:      tasks.New(sql),
		Rendezvous: rendezvous.New(sql),
		Memory:     memory.New(sql, memory.HashEmbedder{}),
		Pipelines:  pipelines,
		Google:     google.NopClient{},
	}

	p, err := New(cfg, client, handlers, handlers.Rendezvous, routerURL, zerolog.Nop())
	require.NoError(t, err)
	return p, workspace
}

func TestPollOnce_SkipsSenderNotOnAllowlist(t *testing.T) {
	client := &fakeChatClient{updates: []chattransport.Update{
		{UpdateID: 1, ChatID: 999, SenderID: 999, MessageID: 1, Text: "/help"},
	}}
	p, _ := newTestPoller(t, "0", client, "http://unused")

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Empty(t, client.sentMessages)
	assert.Zero(t, client.reactions)
}

func TestPollOnce_LocalCommandAnsweredInlineWithoutRouter(t *testing.T) {
	routerHit := false
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routerHit = true
	}))
	defer router.Close()

	client := &fakeChatClient{updates: []chattransport.Update{
		{UpdateID: 1, ChatID: 100, SenderID: 100, MessageID: 1, Text: "/help"},
	}}
	p, _ := newTestPoller(t, "0", client, router.URL)

	require.NoError(t, p.PollOnce(context.Background()))
	require.Len(t, client.sentMessages, 1)
	assert.Contains(t, client.sentMessages[0], "/tasks")
	assert.False(t, routerHit)
	assert.Equal(t, 1, client.reactions)
}

func TestPollOnce_NonSlashTextWithPendingQuestionsBindsAsAnswer(t *testing.T) {
	client := &fakeChatClient{updates: []chattransport.Update{
		{UpdateID: 1, ChatID: 100, SenderID: 100, MessageID: 1, Text: "use port 8080"},
	}}
	p, _ := newTestPoller(t, "1", client, "http://unused")

	require.NoError(t, p.PollOnce(context.Background()))
	require.Len(t, client.sentMessages, 1)
	assert.Contains(t, client.sentMessages[0], "#5")
}

func TestPollOnce_PlainTextWithNoPendingQuestionsForwardsToRouter(t *testing.T) {
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(routeResponse{Reply: "routed: " + req.Text})
	}))
	defer router.Close()

	client := &fakeChatClient{updates: []chattransport.Update{
		{UpdateID: 1, ChatID: 100, SenderID: 100, MessageID: 1, Text: "hello there"},
	}}
	p, _ := newTestPoller(t, "0", client, router.URL)

	require.NoError(t, p.PollOnce(context.Background()))
	require.Len(t, client.sentMessages, 1)
	assert.Equal(t, "routed: hello there", client.sentMessages[0])
}

func TestPollOnce_AdvancesAndPersistsOffsetPastEachUpdate(t *testing.T) {
	client := &fakeChatClient{updates: []chattransport.Update{
		{UpdateID: 41, ChatID: 100, SenderID: 100, MessageID: 1, Text: "/help"},
	}}
	p, workspace := newTestPoller(t, "0", client, "http://unused")

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Equal(t, int64(42), p.loadOffset())

	data, err := os.ReadFile(filepath.Join(workspace, ".telegram-offset"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))
}

func TestPollOnce_ReactionFailureDoesNotBlockReply(t *testing.T) {
	client := &fakeChatClient{
		updates:     []chattransport.Update{{UpdateID: 1, ChatID: 100, SenderID: 100, MessageID: 1, Text: "/help"}},
		reactionErr: assertError{"reaction down"},
	}
	p, _ := newTestPoller(t, "0", client, "http://unused")

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Len(t, client.sentMessages, 1)
}

func TestPollOnce_DownloadsAttachmentIntoInbox(t *testing.T) {
	client := &fakeChatClient{
		updates: []chattransport.Update{{
			UpdateID: 1, ChatID: 100, SenderID: 100, MessageID: 1,
			Document: &chattransport.Attachment{FileID: "f1", FileName: "notes.txt"},
		}},
		getFilePath:   "documents/f1.txt",
		downloadBytes: []byte("hello world"),
	}
	p, workspace := newTestPoller(t, "0", client, "http://unused")

	require.NoError(t, p.PollOnce(context.Background()))

	entries, err := os.ReadDir(filepath.Join(workspace, "inbox"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "_notes.txt")
}

func TestNew_RejectsNonNumericChatID(t *testing.T) {
	cfg := &config.Config{Telegram: config.Telegram{ChatID: "not-a-number"}}
	_, err := New(cfg, &fakeChatClient{}, &commands.Handlers{}, nil, "http://unused", zerolog.Nop())
	assert.Error(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
