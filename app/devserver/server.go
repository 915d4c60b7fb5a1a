// Package devserver is an in-memory stand-in for the assistant backend. It
// keeps history in the same tuple shape the real backend returns:
// [text, "human"] for user turns and [text, "ai", audio_base64] for replies.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nuclight.org/miniapp-chat/pkg/logger"
)

const maxUploadSize = 10 << 20

type Server struct {
	Log logger.Logger

	// Reply builds the assistant answer for a user message.
	Reply func(text string) string

	// Speech renders the answer to base64 audio.
	Speech func(text string) string

	// Transcribe turns an uploaded recording into text.
	Transcribe func(audio []byte) string

	mu        sync.Mutex
	histories map[string][][]any
}

func New(log logger.Logger) *Server {
	return &Server{
		Log:        log,
		Reply:      echoReply,
		Speech:     func(string) string { return SilentWAVBase64(100) },
		Transcribe: func(audio []byte) string { return fmt.Sprintf("%d bytes of speech", len(audio)) },
		histories:  make(map[string][][]any),
	}
}

// Router wires the backend routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/messages/{userID}", s.handleSend)
		api.Get("/messages/{userID}", s.handleHistory)
		api.Post("/audio", s.handleTranscribe)
	})

	return r
}

// Seed appends raw history entries for a user.
func (s *Server) Seed(userID string, items ...[]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[userID] = append(s.histories[userID], items...)
}

// History returns a copy of the stored entries of a user.
func (s *Server) History(userID string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.histories[userID]...)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	text := r.URL.Query().Get("message")
	if text == "" {
		respondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	answer := s.Reply(text)
	audio := s.Speech(answer)

	s.Seed(userID, []any{text, "human"}, []any{answer, "ai", audio})
	s.Log.Debug("message answered", "user_id", userID, "has_init_data", r.Header.Get("X-Telegram-Init-Data") != "")

	respondJSON(w, http.StatusOK, map[string]string{
		"message":      answer,
		"audio_base64": audio,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items := s.History(chi.URLParam(r, "userID"))
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	audio, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reading upload failed")
		return
	}

	respondJSON(w, http.StatusOK, s.Transcribe(audio))
}

func echoReply(text string) string {
	return "You said: " + text
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
