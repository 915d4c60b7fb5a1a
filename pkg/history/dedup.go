package history

import (
	e "nuclight.org/miniapp-chat/pkg/entities"
)

type fingerprint struct {
	role      e.Role
	content   string
	createdAt string
}

// Dedup drops messages whose (role, content, created_at) was already seen.
// The first occurrence wins. IDs and attached audio are not part of the
// fingerprint, so identical untimed messages with the same role collapse.
func Dedup(list []e.Message) []e.Message {
	seen := make(map[fingerprint]struct{}, len(list))
	out := make([]e.Message, 0, len(list))

	for _, m := range list {
		key := fingerprint{role: m.Role, content: m.Content, createdAt: m.CreatedAt}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}

	return out
}
