// Package history turns loosely shaped history payloads returned by the
// assistant backend into a canonical, deduplicated and ordered message log.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	e "nuclight.org/miniapp-chat/pkg/entities"
)

// IDFunc generates identifiers for messages that arrive without one.
type IDFunc func() string

// Normalizer converts raw history entries into canonical messages.
//
// A history entry is either a tuple ([content, role] or [content, role, audio])
// or an object with message fields. Anything else is dropped.
type Normalizer struct {
	NewID IDFunc
}

func NewNormalizer() *Normalizer {
	return &Normalizer{NewID: uuid.NewString}
}

// Items extracts the entry list from a decoded history payload. The payload
// is either the list itself or an object carrying it under "history" or
// "items". The second return value is false for any other shape.
func Items(payload any) ([]any, bool) {
	switch v := payload.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, key := range []string{"history", "items"} {
			if items, ok := v[key].([]any); ok {
				return items, true
			}
		}
	}

	return nil, false
}

// Decode parses a JSON history payload into generic values.
func Decode(data []byte) (any, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding history payload: %w", err)
	}
	return payload, nil
}

// Normalize normalizes a decoded payload. Unsupported top-level shapes
// produce an empty log.
func (n *Normalizer) Normalize(payload any) []e.Message {
	items, ok := Items(payload)
	if !ok {
		return []e.Message{}
	}
	return n.NormalizeItems(items)
}

// NormalizeJSON decodes data and normalizes it.
func (n *Normalizer) NormalizeJSON(data []byte) ([]e.Message, error) {
	payload, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return n.Normalize(payload), nil
}

// NormalizeItems converts every recognized entry, keeping their relative order.
func (n *Normalizer) NormalizeItems(items []any) []e.Message {
	out := make([]e.Message, 0, len(items))

	for _, item := range items {
		switch rec := classify(item).(type) {
		case tupleRecord:
			out = append(out, n.fromTuple(rec))
		case objectRecord:
			out = append(out, n.fromObject(rec))
		case unrecognizedRecord:
			continue
		}
	}

	return out
}

// record is the shape of a single history entry, decided once by classify.
type record interface {
	isRecord()
}

type tupleRecord struct {
	content any
	role    any
	audio   any
}

type objectRecord map[string]any

type unrecognizedRecord struct{}

func (tupleRecord) isRecord()        {}
func (objectRecord) isRecord()       {}
func (unrecognizedRecord) isRecord() {}

func classify(item any) record {
	switch v := item.(type) {
	case []any:
		if len(v) < 2 || len(v) > 3 {
			return unrecognizedRecord{}
		}
		rec := tupleRecord{content: v[0], role: v[1]}
		if len(v) == 3 {
			rec.audio = v[2]
		}
		return rec
	case map[string]any:
		return objectRecord(v)
	default:
		return unrecognizedRecord{}
	}
}

func (n *Normalizer) fromTuple(rec tupleRecord) e.Message {
	msg := e.Message{
		ID:      n.NewID(),
		Role:    mapRole(rec.role),
		Content: toString(rec.content),
	}

	switch audio := rec.audio.(type) {
	case string:
		if strings.TrimSpace(audio) != "" {
			msg.AudioBase64 = audio
			msg.AudioMime = e.MimeWAV
		}
	case map[string]any:
		msg.AudioBase64, msg.AudioMime = audioFields(audio)
	}

	return msg
}

func (n *Normalizer) fromObject(rec objectRecord) e.Message {
	msg := e.Message{
		ID:        toString(rec["id"]),
		Role:      mapRole(rec["role"]),
		Content:   toString(rec["content"]),
		CreatedAt: toString(rec["created_at"]),
		Name:      toString(rec["name"]),
		Avatar:    toString(rec["avatar"]),
	}
	if msg.ID == "" {
		msg.ID = n.NewID()
	}

	msg.AudioBase64, msg.AudioMime = audioFields(rec)

	return msg
}

// audioFields reads inline audio from "audio_base64" (or its alias "audio")
// and "audio_mime". Audio without a mime type is assumed to be WAV.
func audioFields(fields map[string]any) (string, string) {
	audio := toString(coalesce(fields, "audio_base64", "audio"))
	mime := toString(fields["audio_mime"])

	if audio == "" {
		return "", mime
	}
	if mime == "" {
		mime = e.MimeWAV
	}

	return audio, mime
}

func mapRole(v any) e.Role {
	if v == nil {
		return e.RoleAssistant
	}
	return e.MapRole(toString(v))
}

// coalesce returns the first present, non-null value among keys.
func coalesce(fields map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := fields[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// toString coerces a decoded JSON value to text. Null becomes an empty
// string, nested values are rendered back as compact JSON.
func toString(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		b, _ := json.Marshal(v)
		return string(b)
	}

	s, err := cast.ToStringE(v)
	if err != nil {
		b, _ := json.Marshal(v)
		return string(b)
	}

	return s
}
