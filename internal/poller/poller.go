// Package poller implements the channel poller named in spec.md §4.6: one
// getUpdates cycle per invocation, allowlist enforcement, a local-command
// shortlist that bypasses the HTTP router entirely, the implicit-answer
// path, attachment download, and offset persistence. Grounded on the
// teacher's internal/matrix/poller.go (Run ticking PollOnce, a
// cursor/offset kept across ticks, per-update routing, sender-own-message
// skip), re-targeted from polling many Matrix rooms to long-polling one
// Telegram-compatible chat.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nrlabs/ashleyd/internal/chattransport"
	"github.com/nrlabs/ashleyd/internal/commands"
	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
)

const defaultPollInterval = 30 * time.Second

// Client is the chat-transport surface the poller depends on.
type Client interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]chattransport.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
	GetFile(ctx context.Context, fileID string) (string, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Poller polls one Telegram-compatible chat and routes inbound messages.
type Poller struct {
	Cfg          *config.Config
	Client       Client
	Commands     *commands.Handlers
	Rendezvous   *rendezvous.Store
	RouterURL    string // base URL of the local HTTP router, e.g. http://127.0.0.1:18801
	HTTPClient   *http.Client
	PollInterval time.Duration
	Logger       zerolog.Logger

	ownerChatID int64
	allow       map[int64]struct{}
}

// New validates cfg.Telegram and returns a ready Poller.
func New(cfg *config.Config, client Client, h *commands.Handlers, rend *rendezvous.Store, routerURL string, logger zerolog.Logger) (*Poller, error) {
	ownerChatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("poller: invalid telegram chat_id %q: %w", cfg.Telegram.ChatID, err)
	}

	return &Poller{
		Cfg:          cfg,
		Client:       client,
		Commands:     h,
		Rendezvous:   rend,
		RouterURL:    strings.TrimRight(routerURL, "/"),
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: defaultPollInterval,
		Logger:       logger,
		ownerChatID:  ownerChatID,
		allow:        normalizeAllowlist(cfg.Telegram.AllowFrom),
	}, nil
}

func normalizeAllowlist(raw []string) map[int64]struct{} {
	if len(raw) == 0 {
		return nil
	}
	allow := make(map[int64]struct{}, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(entry), 10, 64)
		if err != nil {
			continue
		}
		allow[id] = struct{}{}
	}
	if len(allow) == 0 {
		return nil
	}
	return allow
}

// Run ticks PollOnce until ctx is cancelled, matching the teacher's
// poll-then-tick Run loop shape.
func (p *Poller) Run(ctx context.Context) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	p.Logger.Info().Dur("interval", interval).Msg("channel poller started")

	if err := p.PollOnce(ctx); err != nil {
		p.Logger.Warn().Err(err).Msg("poll cycle failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Logger.Info().Msg("channel poller stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.Logger.Warn().Err(err).Msg("poll cycle failed")
			}
		}
	}
}

// PollOnce executes one getUpdates cycle, per spec.md §4.6's loop body.
func (p *Poller) PollOnce(ctx context.Context) error {
	offset := p.loadOffset()

	updates, err := p.Client.GetUpdates(ctx, offset, 0)
	if err != nil {
		return fmt.Errorf("poller: getUpdates: %w", err)
	}

	for _, upd := range updates {
		if !p.isAllowed(upd.SenderID) {
			p.advanceOffset(upd.UpdateID)
			continue
		}

		p.handleUpdate(ctx, upd)
		p.advanceOffset(upd.UpdateID)
	}
	return nil
}

func (p *Poller) isAllowed(senderID int64) bool {
	if len(p.allow) > 0 {
		_, ok := p.allow[senderID]
		return ok
	}
	return senderID == p.ownerChatID
}

func (p *Poller) handleUpdate(ctx context.Context, upd chattransport.Update) {
	reply := p.route(ctx, upd)

	if err := p.Client.SetMessageReaction(ctx, upd.ChatID, upd.MessageID, p.Cfg.Telegram.AckReaction); err != nil {
		p.Logger.Warn().Err(err).Int64("message_id", upd.MessageID).Msg("reaction failed")
	}

	if strings.TrimSpace(reply) != "" {
		if err := p.Client.SendMessage(ctx, upd.ChatID, reply); err != nil {
			p.Logger.Error().Err(err).Int64("chat_id", upd.ChatID).Msg("send message failed")
		}
	}

	if attach := firstAttachment(upd); attach != nil {
		p.downloadAttachment(ctx, attach)
	}
}

// route implements spec.md §4.6 item 3's classification: local command,
// then implicit answer, then fall through to the HTTP router.
func (p *Poller) route(ctx context.Context, upd chattransport.Update) string {
	text := strings.TrimSpace(upd.Text)
	if text == "" {
		return ""
	}

	if reply, handled := p.dispatchLocalCommand(ctx, text); handled {
		return reply
	}

	if !strings.HasPrefix(text, "/") {
		if n, err := p.Rendezvous.Count(ctx); err == nil && n > 0 {
			out, err := p.Commands.Answer(ctx, text)
			if err != nil {
				return "Error: " + err.Error()
			}
			return out
		}
	}

	return p.forwardToRouter(ctx, text)
}

// dispatchLocalCommand is the fixed shortlist named in spec.md §4.6:
// help/blockers/todo/ready/inprogress/tasks/task/unblock/retry/digest/
// pending/answer, answered inline without an HTTP round trip.
func (p *Poller) dispatchLocalCommand(ctx context.Context, text string) (string, bool) {
	lower := strings.ToLower(text)
	switch {
	case lower == "/help":
		return p.Commands.Help(), true
	case lower == "/blockers":
		return result(p.Commands.Blockers(ctx)), true
	case lower == "/todo":
		return result(p.Commands.Todo(ctx)), true
	case lower == "/readyfortesting":
		return result(p.Commands.ReadyForTesting(ctx)), true
	case lower == "/inprogress":
		return result(p.Commands.InProgress(ctx)), true
	case lower == "/tasks":
		return result(p.Commands.Tasks(ctx)), true
	case strings.HasPrefix(lower, "/task "):
		return result(p.Commands.Task(ctx, strings.TrimSpace(text[len("/task "):]))), true
	case strings.HasPrefix(lower, "/unblock "):
		return result(p.dispatchUnblock(ctx, text[len("/unblock "):])), true
	case strings.HasPrefix(lower, "/retry "):
		return result(p.Commands.Retry(ctx, strings.TrimSpace(text[len("/retry "):]))), true
	case lower == "/digest" || lower == "/digest now":
		return result(p.Commands.Digest(ctx)), true
	case lower == "/pending":
		return result(p.Commands.Pending(ctx)), true
	case strings.HasPrefix(lower, "/answer "):
		return result(p.Commands.Answer(ctx, strings.TrimSpace(text[len("/answer "):]))), true
	}
	return "", false
}

func (p *Poller) dispatchUnblock(ctx context.Context, arg string) (string, error) {
	fields := strings.SplitN(strings.TrimSpace(arg), " ", 3)
	id := fields[0]
	status, note := "", ""
	if len(fields) > 1 {
		status = fields[1]
	}
	if len(fields) > 2 {
		note = fields[2]
	}
	return p.Commands.Unblock(ctx, id, status, note)
}

func result(out string, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

type routeRequest struct {
	Text string `json:"text"`
}

type routeResponse struct {
	Reply string `json:"reply"`
}

// forwardToRouter implements spec.md §4.6 item 3's fallback: any text not
// classified above is handed to the HTTP router's POST /route, which owns
// the full route_text ladder (including the conversation-memory
// fallthrough to the planner).
func (p *Poller) forwardToRouter(ctx context.Context, text string) string {
	body, _ := json.Marshal(routeRequest{Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.RouterURL+"/route", bytes.NewReader(body))
	if err != nil {
		return "Error: could not reach router"
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		p.Logger.Error().Err(err).Msg("router forward failed")
		return "Error: could not reach router"
	}
	defer resp.Body.Close()

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "Error: malformed router response"
	}
	return out.Reply
}

func firstAttachment(upd chattransport.Update) *chattransport.Attachment {
	switch {
	case upd.Document != nil:
		return upd.Document
	case upd.Photo != nil:
		return upd.Photo
	case upd.Voice != nil:
		return upd.Voice
	case upd.Video != nil:
		return upd.Video
	}
	return nil
}

// downloadAttachment implements spec.md §4.6 item 3's attachment handling:
// resolve the file path, download the binary, and write it into the
// inbox directory prefixed by a UTC timestamp.
func (p *Poller) downloadAttachment(ctx context.Context, attach *chattransport.Attachment) {
	filePath, err := p.Client.GetFile(ctx, attach.FileID)
	if err != nil {
		p.Logger.Warn().Err(err).Str("file_id", attach.FileID).Msg("getFile failed")
		return
	}

	data, err := p.Client.DownloadFile(ctx, filePath)
	if err != nil {
		p.Logger.Warn().Err(err).Str("file_path", filePath).Msg("download failed")
		return
	}

	name := attach.FileName
	if name == "" {
		name = filepath.Base(filePath)
	}
	if name == "" || name == "." {
		name = attach.FileID
	}

	dest := filepath.Join(p.Cfg.InboxDir(), time.Now().UTC().Format("20060102-150405")+"_"+name)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		p.Logger.Error().Err(err).Msg("inbox mkdir failed")
		return
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		p.Logger.Error().Err(err).Str("dest", dest).Msg("inbox write failed")
	}
}

// loadOffset reads the persisted update offset, per spec.md §6.7's
// .telegram-offset file. The poller is the file's sole reader/writer
// (spec.md §5's shared-resources note), so no locking is required.
func (p *Poller) loadOffset() int64 {
	data, err := os.ReadFile(p.Cfg.OffsetFilePath())
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// advanceOffset persists past updateID so the next getUpdates call does
// not redeliver it.
func (p *Poller) advanceOffset(updateID int64) {
	path := p.Cfg.OffsetFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		p.Logger.Error().Err(err).Msg("offset dir mkdir failed")
		return
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(updateID+1, 10)), 0644); err != nil {
		p.Logger.Error().Err(err).Msg("offset persist failed")
	}
}
