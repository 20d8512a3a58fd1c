// Package chattransport implements the Telegram-compatible chat transport
// named in spec.md §6.2: long-poll getUpdates, sendMessage,
// setMessageReaction with a text-reply fallback, and file download for
// attachments.
package chattransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Client is a Telegram bot API client.
type Client struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
}

// New returns a Client authenticated with botToken.
func New(botToken string) *Client {
	return &Client{botToken: botToken, apiBase: defaultAPIBase, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// WithAPIBase overrides the Telegram API base URL (tests point this at a
// local fake server).
func (c *Client) WithAPIBase(base string) *Client {
	c.apiBase = base
	return c
}

// Update is one normalized inbound update, per spec.md §4.6/§6.2.
type Update struct {
	UpdateID  int64
	ChatID    int64
	MessageID int64
	SenderID  int64
	Text      string
	Document  *Attachment
	Photo     *Attachment
	Voice     *Attachment
	Video     *Attachment
}

// Attachment references a file the transport can download via GetFile.
type Attachment struct {
	FileID   string
	FileName string
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return fmt.Errorf("chattransport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chattransport: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("chattransport: %s: decode response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("chattransport: %s: %s", method, apiResp.Description)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("chattransport: %s: decode result: %w", method, err)
		}
	}
	return nil
}

type rawUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	MessageID int64 `json:"message_id"`
	From      struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text     string        `json:"text"`
	Document *rawAttach    `json:"document"`
	Voice    *rawAttach    `json:"voice"`
	Video    *rawAttach    `json:"video"`
	Photo    []rawAttach   `json:"photo"`
}

type rawAttach struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// GetUpdates polls for new updates past offset, per spec.md §6.2/§4.6. The
// poller calls it once per tick of its own Run loop, with timeoutSec=0.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeoutSec))

	var raw []rawUpdate
	if err := c.call(ctx, "getUpdates", params, &raw); err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		if u.Message == nil {
			continue
		}
		up := Update{
			UpdateID:  u.UpdateID,
			ChatID:    u.Message.Chat.ID,
			MessageID: u.Message.MessageID,
			SenderID:  u.Message.From.ID,
			Text:      u.Message.Text,
		}
		if u.Message.Document != nil {
			up.Document = &Attachment{FileID: u.Message.Document.FileID, FileName: u.Message.Document.FileName}
		}
		if u.Message.Voice != nil {
			up.Voice = &Attachment{FileID: u.Message.Voice.FileID}
		}
		if u.Message.Video != nil {
			up.Video = &Attachment{FileID: u.Message.Video.FileID}
		}
		if len(u.Message.Photo) > 0 {
			largest := u.Message.Photo[len(u.Message.Photo)-1]
			up.Photo = &Attachment{FileID: largest.FileID}
		}
		updates = append(updates, up)
	}
	return updates, nil
}

// SendMessage sends a plain text message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	return c.call(ctx, "sendMessage", params, nil)
}

// SetMessageReaction attaches an emoji reaction to a message, falling
// back to a plain text acknowledgement if the reaction call fails, per
// spec.md §4.6/§6.2.
func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	reaction, _ := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	params.Set("reaction", string(reaction))

	if err := c.call(ctx, "setMessageReaction", params, nil); err != nil {
		return c.SendMessage(ctx, chatID, "✅")
	}
	return nil
}

type fileResult struct {
	FilePath string `json:"file_path"`
}

// GetFile resolves a file_id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (string, error) {
	params := url.Values{}
	params.Set("file_id", fileID)
	var res fileResult
	if err := c.call(ctx, "getFile", params, &res); err != nil {
		return "", err
	}
	return res.FilePath, nil
}

// DownloadFile retrieves the binary content at filePath (as returned by
// GetFile), per spec.md §6.2's file endpoint.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.botToken, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("chattransport: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chattransport: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chattransport: download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chattransport: read download body: %w", err)
	}
	return data, nil
}
