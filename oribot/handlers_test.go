package oribot

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanBypassChannelGate(t *testing.T) {
	assert.True(t, canBypassChannelGate(discordgo.PermissionBanMembers))
	assert.True(t, canBypassChannelGate(
		discordgo.PermissionBanMembers|discordgo.PermissionSendMessages,
	))
	// The timeout bit alone is not enough.
	assert.False(t, canBypassChannelGate(discordgo.PermissionModerateMembers))
	assert.False(t, canBypassChannelGate(0))
}

func TestRecordAutomodMute(t *testing.T) {
	b := newTestBot(t)
	b.botUserID = "bot-user"

	duration := 10 * time.Minute
	punishment, outcome, err := b.recordAutomodMute(
		"user-1", "badword", duration,
	)
	require.NoError(t, err)
	require.Equal(t, PunishmentOK, outcome)

	assert.Equal(t, PunishmentMute, punishment.Type)
	assert.Equal(t, "bot-user", punishment.IssuerID)
	assert.Contains(t, punishment.Reason, "AutoMod keyword filter")
	assert.Contains(t, punishment.Reason, "badword")
	assert.False(t, punishment.CheckForExpiry)
	require.NotNil(t, punishment.Expiry)
	expected := time.Now().Add(duration).UnixMilli()
	assert.InDelta(
		t, expected, *punishment.Expiry, float64(time.Minute.Milliseconds()),
	)

	// A second trigger while the timeout is active doesn't stack a
	// second entry.
	_, outcome, err = b.recordAutomodMute("user-1", "badword", duration)
	require.NoError(t, err)
	assert.Equal(t, PunishmentAlreadyPunished, outcome)

	var count int64
	require.NoError(t, b.db.DB().Model(&Punishment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordAutomodMute_NoKeyword(t *testing.T) {
	b := newTestBot(t)
	b.botUserID = "bot-user"

	punishment, outcome, err := b.recordAutomodMute("user-1", "", time.Minute)
	require.NoError(t, err)
	require.Equal(t, PunishmentOK, outcome)
	assert.Equal(t, "AutoMod keyword filter", punishment.Reason)
}
