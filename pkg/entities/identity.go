package entities

// AnonKey is the session log key used before a Telegram identity is known.
const AnonKey = "anon"

// Identity is the Telegram user the Mini App runs for.
type Identity struct {
	ID       string
	Name     string
	Avatar   string
	InitData string // signed init-data string forwarded to the backend
}

// Key returns the session log key of the identity.
func (i Identity) Key() string {
	if i.ID == "" {
		return AnonKey
	}
	return i.ID
}

func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}
