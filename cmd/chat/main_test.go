package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuclight.org/miniapp-chat/app/chat"
	"nuclight.org/miniapp-chat/app/devserver"
	"nuclight.org/miniapp-chat/app/identity"
	"nuclight.org/miniapp-chat/app/storage"
	"nuclight.org/miniapp-chat/pkg/assistant"
	"nuclight.org/miniapp-chat/pkg/audio"
	"nuclight.org/miniapp-chat/pkg/logger"
)

const annInitData = "user=%7B%22id%22%3A42%2C%22first_name%22%3A%22Ann%22%7D"

func newTestREPL(t *testing.T) (*repl, *devserver.Server, *bytes.Buffer) {
	t.Helper()

	backend := devserver.New(logger.Discard())
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)

	log := logger.Discard()
	client := assistant.NewClient(srv.URL, srv.Client(), 5*time.Second)
	sink := &audio.FileSink{Dir: t.TempDir()}
	session := chat.NewSession(log, client, storage.NewCache(log, storage.NewMemory()), sink)
	session.Open(context.Background())

	out := &bytes.Buffer{}

	return &repl{
		log:       log,
		session:   session,
		source:    &identity.InitDataSource{},
		client:    client,
		out:       out,
		waitFor:   50 * time.Millisecond,
		pollEvery: 10 * time.Millisecond,
	}, backend, out
}

func TestREPLConversation(t *testing.T) {
	r, backend, out := newTestREPL(t)
	ctx := context.Background()

	input := strings.Join([]string{
		"hello",
		"/login " + annInitData,
		"again",
		"/quit",
		"never sent",
	}, "\n")

	r.identify(ctx)
	r.run(ctx, strings.NewReader(input))

	assert.Contains(t, out.String(), "assistant: You said: hello [audio]")
	assert.Contains(t, out.String(), "assistant: You said: again [audio]")

	assert.Len(t, backend.History("anon"), 2)
	assert.Len(t, backend.History("42"), 2)

	msgs := r.session.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Ann", msgs[2].Name)
	assert.Equal(t, "42", r.session.Identity().ID)
}

func TestREPLLoginRejected(t *testing.T) {
	r, _, out := newTestREPL(t)

	assert.True(t, r.handle(context.Background(), "/login user=%7B%7D"))
	assert.Contains(t, out.String(), "login failed")
	assert.True(t, r.session.Identity().IsAnonymous())
}

func TestREPLTranscribe(t *testing.T) {
	r, _, out := newTestREPL(t)

	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, devserver.SilentWAV(10), 0644))

	assert.True(t, r.handle(context.Background(), "/transcribe "+path))
	assert.Contains(t, out.String(), "recognized: ")
	assert.Contains(t, out.String(), "assistant: You said: ")

	out.Reset()
	assert.True(t, r.handle(context.Background(), "/transcribe"))
	assert.Contains(t, out.String(), "file path is required")
}
