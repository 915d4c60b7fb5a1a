package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapRole(t *testing.T) {
	cases := map[string]Role{
		"human":     RoleUser,
		"ai":        RoleAssistant,
		"user":      RoleUser,
		"assistant": RoleAssistant,
		"system":    RoleSystem,
		"unknown":   RoleAssistant,
		"":          RoleAssistant,
		"42":        RoleAssistant,
		"Human":     RoleAssistant,
		" user":     RoleAssistant,
	}

	for in, want := range cases {
		got := MapRole(in)
		assert.Equal(t, want, got, "MapRole(%q)", in)
		assert.True(t, got.Valid(), "MapRole(%q) returned non canonical role %q", in, got)
	}
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, AnonKey, Identity{}.Key())
	assert.True(t, Identity{}.IsAnonymous())
	assert.Equal(t, "42", Identity{ID: "42"}.Key())
	assert.False(t, Identity{ID: "42"}.IsAnonymous())
}
