package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	e "nuclight.org/miniapp-chat/pkg/entities"
)

func sequentialIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestNormalizer() *Normalizer {
	return &Normalizer{NewID: sequentialIDs()}
}

func TestNormalizeTuple(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[["hi", "human"], ["hi", "ai", "QUJD"]]`))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, e.Message{ID: "id-1", Role: e.RoleUser, Content: "hi"}, got[0])
	assert.Equal(t, e.Message{
		ID:          "id-2",
		Role:        e.RoleAssistant,
		Content:     "hi",
		AudioBase64: "QUJD",
		AudioMime:   e.MimeWAV,
	}, got[1])
}

func TestNormalizeTupleAudioObject(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[
		["a", "ai", {"audio_base64": "AAA"}],
		["b", "ai", {"audio": "BBB", "audio_mime": "audio/mpeg"}],
		["c", "ai", {"audio_mime": "audio/ogg"}],
		["d", "ai", "   "],
		["e", "ai", 42]
	]`))
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, "AAA", got[0].AudioBase64)
	assert.Equal(t, e.MimeWAV, got[0].AudioMime)

	assert.Equal(t, "BBB", got[1].AudioBase64)
	assert.Equal(t, "audio/mpeg", got[1].AudioMime)

	assert.Empty(t, got[2].AudioBase64)
	assert.Equal(t, "audio/ogg", got[2].AudioMime)

	assert.False(t, got[3].HasAudio())
	assert.Empty(t, got[3].AudioMime)

	assert.False(t, got[4].HasAudio())
}

func TestNormalizeTupleCoercion(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[[null, null], [12.5, "user"], [true, 7]]`))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "", got[0].Content)
	assert.Equal(t, e.RoleAssistant, got[0].Role)
	assert.Equal(t, "12.5", got[1].Content)
	assert.Equal(t, e.RoleUser, got[1].Role)
	assert.Equal(t, "true", got[2].Content)
	assert.Equal(t, e.RoleAssistant, got[2].Role)
}

func TestNormalizeObject(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[
		{"role": "system", "content": "note"},
		{"id": "m-1", "role": "human", "content": "hello", "created_at": "2024-01-01T10:00:00Z",
		 "name": "Ann", "avatar": "https://t.me/a.jpg", "audio": "QUJD"},
		{"id": 17, "content": null, "audio_base64": "Q", "audio_mime": "audio/mpeg"},
		{"id": "", "role": "bogus"}
	]`))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, e.Message{ID: "id-1", Role: e.RoleSystem, Content: "note"}, got[0])

	assert.Equal(t, e.Message{
		ID:          "m-1",
		Role:        e.RoleUser,
		Content:     "hello",
		CreatedAt:   "2024-01-01T10:00:00Z",
		Name:        "Ann",
		Avatar:      "https://t.me/a.jpg",
		AudioBase64: "QUJD",
		AudioMime:   e.MimeWAV,
	}, got[1])

	assert.Equal(t, "17", got[2].ID)
	assert.Equal(t, e.RoleAssistant, got[2].Role)
	assert.Equal(t, "", got[2].Content)
	assert.Equal(t, "audio/mpeg", got[2].AudioMime)

	assert.Equal(t, "id-2", got[3].ID)
	assert.Equal(t, e.RoleAssistant, got[3].Role)
}

func TestNormalizeGeneratesIDsWithDefaultGenerator(t *testing.T) {
	got, err := NewNormalizer().NormalizeJSON([]byte(`[{"role": "system", "content": "note"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
}

func TestNormalizeDropsUnrecognizedEntries(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[
		null, 1, "text", true,
		["only-one"],
		["a", "human", null, "extra"],
		["kept", "human"],
		{"content": "kept too"}
	]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "kept", got[0].Content)
	assert.Equal(t, "kept too", got[1].Content)
}

func TestNormalizePayloadShapes(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		name    string
		payload string
		want    int
	}{
		{"bare array", `[["a","human"]]`, 1},
		{"history wrapper", `{"history": [["a","human"], ["b","ai"]]}`, 2},
		{"items wrapper", `{"items": [{"content": "a"}]}`, 1},
		{"history not array falls back to items", `{"history": "x", "items": [["a","ai"]]}`, 1},
		{"object without list", `{"messages": [["a","human"]]}`, 0},
		{"wrapped non array", `{"history": {"a": 1}}`, 0},
		{"null", `null`, 0},
		{"string", `"history"`, 0},
		{"number", `12`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := n.NormalizeJSON([]byte(tc.payload))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestNormalizeJSONInvalid(t *testing.T) {
	_, err := newTestNormalizer().NormalizeJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestNormalizeKeepsInputOrder(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.NormalizeJSON([]byte(`[
		{"content": "late", "created_at": "2024-01-02"},
		{"content": "early", "created_at": "2024-01-01"}
	]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late", got[0].Content)
	assert.Equal(t, "early", got[1].Content)
}
