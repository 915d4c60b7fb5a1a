package assistant

import (
	"net/http"
	"time"
)

// HTTPClient is the part of *http.Client the Client uses.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// SendResponse is the reply of the send endpoint.
type SendResponse struct {
	Message     string `json:"message"`
	AudioBase64 string `json:"audio_base64"`
}

// transcription is the object form of the transcribe endpoint reply.
type transcription struct {
	Text string `json:"text"`
}

// DefaultTimeout bounds send and history requests. Speech synthesis on the
// backend routinely takes tens of seconds.
const DefaultTimeout = 120 * time.Second

const (
	headerInitData   = "X-Telegram-Init-Data"
	headerNgrokSkip  = "ngrok-skip-browser-warning"
	contentTypeJSON  = "application/json"
	maxBodySnippet   = 160
	messagesEndpoint = "/api/messages/"
	audioEndpoint    = "/api/audio"
)
