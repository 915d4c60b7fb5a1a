package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"nuclight.org/miniapp-chat/pkg/assistant"
	e "nuclight.org/miniapp-chat/pkg/entities"
	"nuclight.org/miniapp-chat/pkg/history"
	"nuclight.org/miniapp-chat/pkg/logger"
)

var ErrEmptyMessage = errors.New("message is empty")

// Session is the client side of one Mini App conversation. It owns the
// in-memory log of the active user, keeps it persisted through the cache and
// reconciles it with the history kept by the backend.
//
// Until an identity is known the log lives under the anonymous key. The first
// Identify call moves it to the identified user.
type Session struct {
	// Log is a logger
	Log logger.Logger

	// Backend is the assistant backend
	Backend Backend

	// Cache persists session logs
	Cache LogCache

	// Player plays reply audio, optional
	Player AudioPlayer

	// Normalizer turns raw history into messages
	Normalizer *history.Normalizer

	// NewID generates ids for locally created messages
	NewID history.IDFunc

	mu       sync.Mutex
	identity e.Identity
	messages []e.Message
}

func NewSession(log logger.Logger, backend Backend, cache LogCache, player AudioPlayer) *Session {
	return &Session{
		Log:        log,
		Backend:    backend,
		Cache:      cache,
		Player:     player,
		Normalizer: history.NewNormalizer(),
		NewID:      uuid.NewString,
		messages:   []e.Message{},
	}
}

// Open loads the persisted log of the current user.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.Cache.Read(ctx, s.identity.Key())
	if !ok {
		s.messages = []e.Message{}
		return
	}

	s.messages = list
	s.Log.Debug("session log loaded", "user_key", s.identity.Key(), "messages", len(list))
}

// Identify switches the session to id. Leaving the anonymous state migrates
// the anonymous log to the identified user exactly once.
func (s *Session) Identify(ctx context.Context, id e.Identity) {
	if id.IsAnonymous() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.ID == id.ID {
		s.identity = id
		return
	}

	wasAnon := s.identity.IsAnonymous()
	var migrateErr error
	if wasAnon {
		migrateErr = s.Cache.MigrateAnonTo(ctx, id.Key())
	}

	s.identity = id
	log := s.Log.With("user_key", id.Key())

	list, ok := s.Cache.Read(ctx, id.Key())
	switch {
	case wasAnon && migrateErr != nil:
		// the anonymous log stays in storage, the in-memory copy is
		// appended after the stored entries of the user
		log.Warn("anonymous log not migrated, merging in memory", "error", migrateErr)
		s.messages = history.Canonicalize(append(slices.Clip(list), s.messages...))
	case ok:
		s.messages = history.Canonicalize(list)
	case wasAnon:
		s.messages = history.Canonicalize(s.messages)
	default:
		s.messages = []e.Message{}
	}

	log.Info("session identified", "name", id.Name, "messages", len(s.messages))
	s.persist(ctx)
}

// Refresh fetches the backend history and merges it into the log. On failure
// the log is left untouched.
func (s *Session) Refresh(ctx context.Context) error {
	id := s.Identity()

	items, err := s.Backend.History(ctx, id.Key(), id.InitData)
	if err != nil {
		return err
	}

	fetched := s.Normalizer.NormalizeItems(items)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.Key() != id.Key() {
		// identity changed while fetching, the history belongs to someone else
		return nil
	}

	var confirmed, pending []e.Message
	for _, m := range s.messages {
		if m.Pending {
			pending = append(pending, m)
		} else {
			confirmed = append(confirmed, m)
		}
	}

	merged := history.Canonicalize(append(fetched, confirmed...))
	s.messages = append(merged, pending...)

	s.Log.Debug("history refreshed", "user_key", id.Key(), "fetched", len(fetched), "messages", len(s.messages))
	s.persist(ctx)

	return nil
}

// Send appends text as a pending user message, asks the backend for a reply
// and appends it. If the backend fails the pending message is withdrawn.
func (s *Session) Send(ctx context.Context, text string) (e.Message, error) {
	if strings.TrimSpace(text) == "" {
		return e.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	id := s.identity
	userMsg := e.Message{
		ID:      s.NewID(),
		Role:    e.RoleUser,
		Content: text,
		Name:    id.Name,
		Avatar:  id.Avatar,
		Pending: true,
	}
	s.messages = append(s.messages, userMsg)
	s.persist(ctx)
	s.mu.Unlock()

	res, err := s.Backend.Send(ctx, id.Key(), text, id.InitData)

	s.mu.Lock()
	if err != nil {
		s.messages = slices.DeleteFunc(s.messages, func(m e.Message) bool { return m.ID == userMsg.ID })
		s.persist(ctx)
		s.mu.Unlock()
		return e.Message{}, err
	}

	if i := slices.IndexFunc(s.messages, func(m e.Message) bool { return m.ID == userMsg.ID }); i >= 0 {
		s.messages[i].Pending = false
	}

	reply := e.Message{
		ID:      s.NewID(),
		Role:    e.RoleAssistant,
		Content: res.Message,
	}
	if res.AudioBase64 != "" {
		reply.AudioBase64 = res.AudioBase64
		reply.AudioMime = e.MimeWAV
	}
	s.messages = append(s.messages, reply)
	s.persist(ctx)
	s.mu.Unlock()

	if reply.HasAudio() && s.Player != nil {
		if _, err = s.Player.Play(ctx, reply.AudioBase64, reply.AudioMime); err != nil {
			s.Log.Warn("playing reply audio", "error", err)
		}
	}

	return reply, nil
}

// Messages returns a copy of the current log.
func (s *Session) Messages() []e.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Session) Identity() e.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// persist must be called with mu held. Cache failures are soft and already
// logged by the cache.
func (s *Session) persist(ctx context.Context) {
	_ = s.Cache.Save(ctx, s.identity.Key(), s.messages)
}

// Backend is the assistant backend a Session talks to, see assistant.Client.
type Backend interface {
	Send(ctx context.Context, userID, text, initData string) (*assistant.SendResponse, error)
	History(ctx context.Context, userID, initData string) ([]any, error)
}

// LogCache persists session logs per user key, see storage.Cache. Write
// failures are soft and may be ignored.
type LogCache interface {
	Save(ctx context.Context, userKey string, list []e.Message) error
	Read(ctx context.Context, userKey string) ([]e.Message, bool)
	MigrateAnonTo(ctx context.Context, userKey string) error
}

// AudioPlayer plays a base64 audio payload and returns where it was stored.
type AudioPlayer interface {
	Play(ctx context.Context, b64, mimeType string) (string, error)
}
