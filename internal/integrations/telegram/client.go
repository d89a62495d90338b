package telegram

import (
	"bytes"
	"context"
	"errors"
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

	"codes-bot/internal/pkg/json"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// Bot API downloads are capped at 20MB.
	maxDownloadBytes = 20 << 20
	maxResponseBytes = 4 << 20
)

// APIError is a failed Bot API call, either a non-2xx status or ok=false.
type APIError struct {
	StatusCode  int
	Method      string
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Telegram Bot API client covering what the bot uses.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the bot identified by token. The default
// HTTP timeout leaves room for 30s long polls.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: token must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) base() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	return base
}

func (c *Client) methodURL(method string) string {
	return c.base() + "/bot" + c.token + "/" + method
}

func (c *Client) fileURL(filePath string) string {
	return c.base() + "/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/")
}

// GetUpdates long-polls for messages after offset for up to timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	return call[[]Update](ctx, c, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	})
}

// GetFile resolves fileID to a downloadable file path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	if strings.TrimSpace(fileID) == "" {
		return File{}, errors.New("telegram: file id must not be empty")
	}
	f, err := call[File](ctx, c, "getFile", getFileRequest{FileID: fileID})
	if err != nil {
		return File{}, err
	}
	if f.FilePath == "" {
		return File{}, errors.New("telegram: getFile returned no file path")
	}
	return f, nil
}

// DownloadFile stores the file at filePath (from GetFile) in dst. A partial
// dst is removed on failure.
func (c *Client) DownloadFile(ctx context.Context, filePath, dst string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(filePath), nil)
	if err != nil {
		return fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.do(req, "download")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("telegram: create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("telegram: close %s: %w", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(res.Body, maxDownloadBytes+1))
	if err != nil {
		return fmt.Errorf("telegram: download %s: %w", filePath, err)
	}
	if n > maxDownloadBytes {
		return fmt.Errorf("telegram: download %s: file exceeds %d bytes", filePath, maxDownloadBytes)
	}
	return nil
}

// FetchFile resolves fileID and downloads it to dst.
func (c *Client) FetchFile(ctx context.Context, fileID, dst string) error {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	return c.DownloadFile(ctx, f.FilePath, dst)
}

// SendMessage posts text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := call[Message](ctx, c, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text})
	return err
}

// ReplyMessage posts text to chatID as a reply to messageID. The message is
// still sent if the original was deleted.
func (c *Client) ReplyMessage(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := call[Message](ctx, c, "sendMessage", sendMessageRequest{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: replyTo(messageID),
	})
	return err
}

// SendDocument uploads the file at path as filename with an optional caption,
// replying to messageID when it is non-zero.
func (c *Client) SendDocument(ctx context.Context, chatID, messageID int64, path, filename, caption string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("telegram: read %s: %w", path, err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		fields["caption"] = caption
	}
	if rp := replyTo(messageID); rp != nil {
		raw, err := json.MarshalString(rp)
		if err != nil {
			return fmt.Errorf("telegram: marshal reply parameters: %w", err)
		}
		fields["reply_parameters"] = raw
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("telegram: write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("telegram: create document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("telegram: write document part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("telegram: close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), &body)
	if err != nil {
		return fmt.Errorf("telegram: create sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	_, err = decode[Message](c, req, "sendDocument")
	return err
}

func replyTo(messageID int64) *replyParameters {
	if messageID == 0 {
		return nil
	}
	return &replyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}

func call[T any](ctx context.Context, c *Client, method string, payload any) (T, error) {
	var zero T
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("telegram: marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return decode[T](c, req, method)
}

func decode[T any](c *Client, req *http.Request, method string) (T, error) {
	var zero T
	res, err := c.do(req, method)
	if err != nil {
		return zero, err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return zero, fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var payload apiResponse[T]
	if err := json.Unmarshal(raw, &payload); err != nil {
		return zero, fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !payload.OK {
		return zero, apiError(method, res.StatusCode, payload.Description, payload.Parameters)
	}
	return payload.Result, nil
}

// do sends req and turns non-2xx answers into *APIError. Transport errors are
// stripped of the request URL because it embeds the bot token.
func (c *Client) do(req *http.Request, method string) (*http.Response, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer func() { _ = res.Body.Close() }()

	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var payload apiResponse[struct{}]
	if json.Unmarshal(buf, &payload) == nil && payload.Description != "" {
		return nil, apiError(method, res.StatusCode, payload.Description, payload.Parameters)
	}
	return nil, apiError(method, res.StatusCode, strings.TrimSpace(string(buf)), nil)
}

func apiError(method string, status int, description string, params *responseParameters) *APIError {
	e := &APIError{StatusCode: status, Method: method, Description: description}
	if params != nil && params.RetryAfter > 0 {
		e.RetryAfter = time.Duration(params.RetryAfter) * time.Second
	}
	return e
}
