package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nuclight.org/miniapp-chat/pkg/history"
)

// Client talks to the assistant backend: it sends user text and gets back a
// reply with synthesized speech, and it fetches conversation history.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	timeout    time.Duration
}

func NewClient(baseURL string, httpClient HTTPClient, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Send posts a user message and returns the assistant reply. initData is the
// signed Telegram session proof and may be empty.
func (c *Client) Send(ctx context.Context, userID, text, initData string) (*SendResponse, error) {
	query := url.Values{"message": {text}}
	endpoint := c.messagesURL(userID) + "?" + query.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, initData)

	body, err := c.doJSON(req, OpSend)
	if err != nil {
		return nil, err
	}

	var reply *SendResponse
	if err = json.Unmarshal(body, &reply); err != nil {
		return nil, formatErr(OpSend, fmt.Errorf("decoding reply: %w", err))
	}

	if reply == nil {
		return nil, formatErr(OpSend, errors.New("empty reply"))
	}

	return reply, nil
}

// History fetches the raw history entries of a user. A 204 response is an
// empty history.
func (c *Client) History(ctx context.Context, userID, initData string) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, initData)

	body, err := c.doJSON(req, OpHistory)
	if err != nil {
		return nil, err
	}

	if body == nil {
		return []any{}, nil
	}

	payload, err := history.Decode(body)
	if err != nil {
		return nil, formatErr(OpHistory, err)
	}

	items, ok := history.Items(payload)
	if !ok {
		return nil, formatErr(OpHistory, errors.New("history is neither a list nor a history/items wrapper"))
	}

	return items, nil
}

// Transcribe uploads recorded speech and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err = io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copying audio: %w", err)
	}
	if err = form.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioEndpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, "")
	req.Header.Set("Content-Type", form.FormDataContentType())

	body, err := c.doJSON(req, OpTranscribe)
	if err != nil {
		return "", err
	}

	var text string
	if err = json.Unmarshal(body, &text); err == nil {
		return text, nil
	}

	var obj transcription
	if err = json.Unmarshal(body, &obj); err != nil {
		return "", formatErr(OpTranscribe, fmt.Errorf("decoding transcription: %w", err))
	}

	return obj.Text, nil
}

func (c *Client) messagesURL(userID string) string {
	return c.baseURL + messagesEndpoint + url.PathEscape(userID)
}

func (c *Client) setHeaders(req *http.Request, initData string) {
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(headerNgrokSkip, "1")
	if initData != "" {
		req.Header.Set(headerInitData, initData)
	}
}

// doJSON performs the request and returns the JSON body of a 2xx response.
// The body is nil for 204 No Content.
func (c *Client) doJSON(req *http.Request, op string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(op, fmt.Errorf("doing request: %w", err))
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classify(op, fmt.Errorf("reading response body: %w", err))
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, transportErr(op, res.StatusCode, fmt.Errorf("%s: %s", http.StatusText(res.StatusCode), snippet(body)))
	}

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	ct := res.Header.Get("Content-Type")
	if !strings.Contains(ct, contentTypeJSON) {
		if ct == "" {
			ct = "unknown"
		}
		return nil, formatErr(op, fmt.Errorf("expected JSON, got %s: %s", ct, snippet(body)))
	}

	return body, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return timeoutErr(op, err)
	}

	return transportErr(op, 0, err)
}

func snippet(body []byte) string {
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet]
	}
	return string(body)
}
