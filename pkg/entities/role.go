package entities

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MapRole maps a role label coming from the backend onto one of the three
// canonical roles. It accepts the langchain vocabulary ("human", "ai") as well
// as the canonical names. Anything else is treated as an assistant reply.
func MapRole(roleLike string) Role {
	switch roleLike {
	case "human":
		return RoleUser
	case "ai":
		return RoleAssistant
	case string(RoleUser), string(RoleAssistant), string(RoleSystem):
		return Role(roleLike)
	default:
		return RoleAssistant
	}
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}
