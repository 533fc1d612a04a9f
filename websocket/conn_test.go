package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"standhub/models"
)

func TestParseTeamRoom(t *testing.T) {
	scope, ok := parseTeamRoom("team_3_7")
	assert.True(t, ok)
	assert.Equal(t, models.RoomKey{CompanyID: "3", TeamID: "7"}, scope)

	// Team ids may themselves contain underscores
	scope, ok = parseTeamRoom("team_acme_proj_x")
	assert.True(t, ok)
	assert.Equal(t, models.RoomKey{CompanyID: "acme", TeamID: "proj_x"}, scope)

	_, ok = parseTeamRoom("company_3")
	assert.False(t, ok)

	_, ok = parseTeamRoom("team_orphan")
	assert.False(t, ok)
}

func TestUserNameFromEmail(t *testing.T) {
	assert.Equal(t, "alice", userName("alice@example.com"))
	assert.Equal(t, "not-an-email", userName("not-an-email"))
	assert.Equal(t, "@leading", userName("@leading"))
}
