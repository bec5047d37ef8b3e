package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AndradeTK/ofertassertao/app/delivery"
)

const defaultBaseURL = "https://api.telegram.org"

// Sender posts formatted promotions through the Telegram Bot API. Photos may
// be local files (uploaded as multipart) or already-hosted references
// (file_id or URL, passed through as-is).
type Sender struct {
	token   string
	baseURL string
	client  *http.Client
}

var _ delivery.Sender = (*Sender)(nil)

func NewSender(token string) *Sender {
	return &Sender{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

type apiResponse struct {
	OK          bool                `json:"ok"`
	ErrorCode   int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *responseParameters `json:"parameters"`
}

// Send delivers a payload to a single chat/thread, using sendPhoto when an
// image is attached and sendMessage otherwise.
func (s *Sender) Send(ctx context.Context, dest delivery.Destination, payload delivery.Payload) error {
	if s.token == "" {
		return &delivery.ValidationError{Reason: "bot token not configured"}
	}

	if payload.ImageRef != "" {
		return s.sendPhoto(ctx, dest, payload)
	}
	return s.sendMessage(ctx, dest, payload)
}

func (s *Sender) sendMessage(ctx context.Context, dest delivery.Destination, payload delivery.Payload) error {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(dest.ChatID, 10))
	form.Set("text", payload.Caption)
	if dest.ThreadID > 0 {
		form.Set("message_thread_id", strconv.Itoa(dest.ThreadID))
	}
	if markup := buttonMarkup(payload.ButtonURL); markup != "" {
		form.Set("reply_markup", markup)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.methodURL("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.do(req)
}

func (s *Sender) sendPhoto(ctx context.Context, dest delivery.Destination, payload delivery.Payload) error {
	if isLocalFile(payload.ImageRef) {
		return s.uploadPhoto(ctx, dest, payload)
	}

	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(dest.ChatID, 10))
	form.Set("photo", payload.ImageRef)
	form.Set("caption", payload.Caption)
	if dest.ThreadID > 0 {
		form.Set("message_thread_id", strconv.Itoa(dest.ThreadID))
	}
	if markup := buttonMarkup(payload.ButtonURL); markup != "" {
		form.Set("reply_markup", markup)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.methodURL("sendPhoto"), strings.NewReader(form.Encode()))
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.do(req)
}

func (s *Sender) uploadPhoto(ctx context.Context, dest delivery.Destination, payload delivery.Payload) error {
	file, err := os.Open(payload.ImageRef)
	if err != nil {
		// A vanished temp file cannot be recovered by retrying.
		return &delivery.ValidationError{Reason: fmt.Sprintf("open image: %v", err)}
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("chat_id", strconv.FormatInt(dest.ChatID, 10))
	_ = writer.WriteField("caption", payload.Caption)
	if dest.ThreadID > 0 {
		_ = writer.WriteField("message_thread_id", strconv.Itoa(dest.ThreadID))
	}
	if markup := buttonMarkup(payload.ButtonURL); markup != "" {
		_ = writer.WriteField("reply_markup", markup)
	}

	part, err := writer.CreateFormFile("photo", filepath.Base(payload.ImageRef))
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("copy image: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("close multipart: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL("sendPhoto"), &body)
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return s.do(req)
}

// do executes the request and maps the Bot API response onto the delivery
// error taxonomy: 429 defers, other 4xx drop, everything else retries.
func (s *Sender) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return &delivery.TransientError{Err: fmt.Errorf("telegram response %s: %w", resp.Status, err)}
	}

	if apiResp.OK {
		return nil
	}

	switch {
	case apiResp.ErrorCode == http.StatusTooManyRequests:
		retryAfter := 30 * time.Second
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return &delivery.RateLimitedError{RetryAfter: retryAfter}
	case apiResp.ErrorCode >= 400 && apiResp.ErrorCode < 500:
		return &delivery.ValidationError{Reason: fmt.Sprintf("telegram: %s", apiResp.Description)}
	default:
		return &delivery.TransientError{Err: fmt.Errorf("telegram: %s (%d)", apiResp.Description, apiResp.ErrorCode)}
	}
}

func (s *Sender) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.token, method)
}

func buttonMarkup(buttonURL string) string {
	if buttonURL == "" {
		return ""
	}
	markup := map[string]any{
		"inline_keyboard": [][]map[string]string{
			{{"text": "🛒 Ver oferta", "url": buttonURL}},
		},
	}
	raw, err := json.Marshal(markup)
	if err != nil {
		return ""
	}
	return string(raw)
}

func isLocalFile(ref string) bool {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return false
	}
	info, err := os.Stat(ref)
	return err == nil && !info.IsDir()
}
