package entities

// Message is a canonical chat log entry.
type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at,omitempty"`
	Name        string `json:"name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	AudioMime   string `json:"audio_mime,omitempty"`

	// Pending marks a message inserted before the backend confirmed it.
	// It is never persisted.
	Pending bool `json:"-"`
}

// MimeWAV is assumed for inline audio that comes without an explicit mime type.
const MimeWAV = "audio/wav"

// HasAudio reports whether the message carries inline audio.
func (m *Message) HasAudio() bool {
	return m.AudioBase64 != ""
}

func (m *Message) HasTimestamp() bool {
	return m.CreatedAt != ""
}
