// Package audio decodes inline speech payloads and hands them to something
// that can play them.
package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Decode decodes a base64 payload. A data-URL prefix
// ("data:audio/wav;base64,") is stripped first.
func Decode(b64 string) ([]byte, error) {
	if i := strings.LastIndexByte(b64, ','); i >= 0 {
		b64 = b64[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 audio: %w", err)
	}

	return data, nil
}

// Extension returns the file extension for an audio mime type.
func Extension(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	switch strings.TrimSpace(strings.ToLower(mimeType)) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mp4", "audio/aac":
		return ".m4a"
	default:
		return ".bin"
	}
}

// FileSink writes decoded audio into Dir. When Command is set it is run with
// the written file path as its last argument, e.g. "aplay -q" or "afplay".
type FileSink struct {
	Dir     string
	Command string

	seq atomic.Int64
}

// Play decodes the payload, stores it and starts the player command if any.
// The player is not stopped when ctx ends, replies play to completion.
func (s *FileSink) Play(ctx context.Context, b64, mimeType string) (string, error) {
	data, err := Decode(b64)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("reply-%d-%d%s", time.Now().UnixMilli(), s.seq.Add(1), Extension(mimeType))
	path, err := s.Write(name, data)
	if err != nil {
		return "", err
	}

	args := strings.Fields(s.Command)
	if len(args) == 0 {
		return path, nil
	}

	if err = ctx.Err(); err != nil {
		return path, err
	}

	cmd := exec.Command(args[0], append(args[1:], path)...)
	if err = cmd.Start(); err != nil {
		return path, fmt.Errorf("starting player: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return path, nil
}

// Write stores data under name inside Dir and returns the full path.
func (s *FileSink) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating audio directory: %w", err)
	}

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}

	return path, nil
}
