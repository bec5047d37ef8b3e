package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AndradeTK/ofertassertao/app/monitor"
)

// Listener pulls posts from monitored Telegram chats via getUpdates. It is
// one source among several for the monitor manager; the update offset acts
// as the fetch cursor.
type Listener struct {
	token    string
	baseURL  string
	client   *http.Client
	watched  map[int64]string // chat id -> source label, empty means accept all
	pollWait int              // long-poll timeout in seconds
}

var _ monitor.SourceClient = (*Listener)(nil)

func NewListener(token string, watched map[int64]string) *Listener {
	return &Listener{
		token:    token,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 45 * time.Second},
		watched:  watched,
		pollWait: 30,
	}
}

func (l *Listener) Name() string {
	return "telegram"
}

// Connect verifies the bot token against getMe.
func (l *Listener) Connect(ctx context.Context) error {
	return l.getMe(ctx)
}

func (l *Listener) Ping(ctx context.Context) error {
	return l.getMe(ctx)
}

func (l *Listener) getMe(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/bot%s/getMe", l.baseURL, l.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("getMe: %s (%d)", apiResp.Description, apiResp.ErrorCode)
	}

	return nil
}

type update struct {
	UpdateID    int64            `json:"update_id"`
	Message     *incomingMessage `json:"message"`
	ChannelPost *incomingMessage `json:"channel_post"`
}

type incomingMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Chat      struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"chat"`
	Photo []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// Fetch long-polls getUpdates from the given offset and normalizes channel
// posts and group messages from watched chats.
func (l *Listener) Fetch(ctx context.Context, sinceID int64) ([]monitor.Message, int64, error) {
	form := url.Values{}
	form.Set("timeout", strconv.Itoa(l.pollWait))
	form.Set("allowed_updates", `["message","channel_post"]`)
	if sinceID > 0 {
		form.Set("offset", strconv.FormatInt(sinceID, 10))
	}

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", l.baseURL, l.token, form.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, sinceID, fmt.Errorf("new request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, sinceID, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, sinceID, fmt.Errorf("read response: %w", err)
	}

	var updates updatesResponse
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, sinceID, fmt.Errorf("decode response: %w", err)
	}
	if !updates.OK {
		return nil, sinceID, fmt.Errorf("getUpdates: %s", updates.Description)
	}

	cursor := sinceID
	var messages []monitor.Message

	for _, upd := range updates.Result {
		if upd.UpdateID >= cursor {
			cursor = upd.UpdateID + 1
		}

		msg := upd.ChannelPost
		if msg == nil {
			msg = upd.Message
		}
		if msg == nil {
			continue
		}

		label, ok := l.sourceLabel(msg.Chat.ID, msg.Chat.Username)
		if !ok {
			continue
		}

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if text == "" && len(msg.Photo) == 0 {
			continue
		}

		imageRef := ""
		if len(msg.Photo) > 0 {
			// Sizes come smallest first; the last entry is the full photo.
			imageRef = msg.Photo[len(msg.Photo)-1].FileID
		}

		messages = append(messages, monitor.Message{
			SourceID: label,
			ID:       msg.MessageID,
			Text:     text,
			ImageRef: imageRef,
			At:       time.Unix(msg.Date, 0),
		})
	}

	return messages, cursor, nil
}

func (l *Listener) sourceLabel(chatID int64, username string) (string, bool) {
	if len(l.watched) == 0 {
		if username != "" {
			return "@" + username, true
		}
		return strconv.FormatInt(chatID, 10), true
	}

	label, ok := l.watched[chatID]
	return label, ok
}
