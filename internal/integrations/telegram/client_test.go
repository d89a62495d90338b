package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codes-bot/internal/pkg/json"
)

const testToken = "123:secret"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(testToken, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")

	c, err := NewClient(testToken)
	require.NoError(t, err)
	require.Equal(t, "https://api.telegram.org/bot123:secret/getMe", c.methodURL("getMe"))
	require.Equal(t, "https://api.telegram.org/file/bot123:secret/documents/a.xlsx", c.fileURL("/documents/a.xlsx"))
}

func TestGetUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot"+testToken+"/getUpdates", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req getUpdatesRequest
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, int64(7), req.Offset)
		require.Equal(t, 30, req.Timeout)
		require.Equal(t, []string{"message"}, req.AllowedUpdates)

		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":11,"from":{"id":42,"is_bot":false,"first_name":"A"},
			"chat":{"id":-100123,"type":"group"},"date":1,
			"document":{"file_id":"F1","file_unique_id":"U1","file_name":"A1 codes.xlsx"}}},
			{"update_id":8,"message":{"message_id":12,"chat":{"id":42,"type":"private"},"date":2,"text":"/start"}}
		]}`)
	})

	updates, err := c.GetUpdates(context.Background(), 7, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, int64(42), updates[0].Message.From.ID)
	require.Equal(t, int64(-100123), updates[0].Message.Chat.ID)
	require.Equal(t, "A1 codes.xlsx", updates[0].Message.Document.FileName)
	require.Equal(t, "start", updates[1].Message.Command())
}

func TestMessageCommand(t *testing.T) {
	cases := map[string]string{
		"/start":           "start",
		"/start@codes_bot": "start",
		"/help me":         "help",
		"hello":            "",
		"/":                "",
		"":                 "",
	}
	for text, want := range cases {
		require.Equal(t, want, (&Message{Text: text}).Command(), "text=%q", text)
	}
	var nilMsg *Message
	require.Equal(t, "", nilMsg.Command())
}

func TestAPIError_FromOKFalse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`)
	})

	err := c.SendMessage(context.Background(), 1, "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode())
	require.Equal(t, "sendMessage", apiErr.Method)
	require.Equal(t, 5*time.Second, apiErr.RetryAfter)
	require.Contains(t, apiErr.Error(), "Too Many Requests")
}

func TestAPIError_PlainBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.GetFile(context.Background(), "F1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "bad gateway", apiErr.Description)
}

func TestTransportErrorDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(testToken, WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "secret")
}

func TestReplyMessage_SendsReplyParameters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, int64(42), req.ChatID)
		require.Equal(t, "❌ a.xlsx\nboom", req.Text)
		require.NotNil(t, req.ReplyParameters)
		require.Equal(t, int64(11), req.ReplyParameters.MessageID)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":12,"chat":{"id":42,"type":"private"},"date":1}}`)
	})

	require.NoError(t, c.ReplyMessage(context.Background(), 42, 11, "❌ a.xlsx\nboom"))
}

func TestGetFileAndDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot" + testToken + "/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"F1","file_path":"documents/file_1.xlsx"}}`)
		case "/file/bot" + testToken + "/documents/file_1.xlsx":
			_, _ = io.WriteString(w, "xlsx-bytes")
		default:
			http.NotFound(w, r)
		}
	})

	f, err := c.GetFile(context.Background(), "F1")
	require.NoError(t, err)
	require.Equal(t, "documents/file_1.xlsx", f.FilePath)

	dst := filepath.Join(t.TempDir(), "in.xlsx")
	require.NoError(t, c.DownloadFile(context.Background(), f.FilePath, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "xlsx-bytes", string(got))

	missing := filepath.Join(t.TempDir(), "missing.xlsx")
	require.Error(t, c.DownloadFile(context.Background(), "documents/nope.xlsx", missing))
	_, statErr := os.Stat(missing)
	require.True(t, os.IsNotExist(statErr))
}

func TestFetchFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot" + testToken + "/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"F1","file_path":"documents/f.xlsx"}}`)
		case "/file/bot" + testToken + "/documents/f.xlsx":
			_, _ = io.WriteString(w, "payload")
		default:
			http.NotFound(w, r)
		}
	})

	dst := filepath.Join(t.TempDir(), "f.xlsx")
	require.NoError(t, c.FetchFile(context.Background(), "F1", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestGetFile_EmptyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"F1"}}`)
	})
	_, err := c.GetFile(context.Background(), "F1")
	require.ErrorContains(t, err, "no file path")

	_, err = c.GetFile(context.Background(), " ")
	require.Error(t, err)
}

func TestSendDocument_Multipart(t *testing.T) {
	src := filepath.Join(t.TempDir(), "abc_codes_A1.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("result"), 0o600))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot"+testToken+"/sendDocument", r.URL.Path)
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, "42", r.FormValue("chat_id"))
		require.Equal(t, "✅ A1 codes.xlsx\nArticle: A1", r.FormValue("caption"))
		require.JSONEq(t, `{"message_id":11,"allow_sending_without_reply":true}`, r.FormValue("reply_parameters"))

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		require.Equal(t, "codes_A1.xlsx", header.Filename)
		body, _ := io.ReadAll(file)
		require.Equal(t, "result", string(body))

		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":13,"chat":{"id":42,"type":"private"},"date":1}}`)
	})

	err := c.SendDocument(context.Background(), 42, 11, src, "codes_A1.xlsx", "✅ A1 codes.xlsx\nArticle: A1")
	require.NoError(t, err)
}

func TestSendDocument_MissingFile(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	err := c.SendDocument(context.Background(), 42, 0, filepath.Join(t.TempDir(), "gone.xlsx"), "", "")
	require.Error(t, err)
}
