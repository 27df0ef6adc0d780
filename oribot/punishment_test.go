package oribot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuePunishment_MuteDurationOutOfRange(t *testing.T) {
	d := setupTestDB(t)
	tooLong := maxMuteDuration + time.Hour
	_, outcome, err := IssuePunishment(
		d, PunishmentMute, "spamming", "user-1", "mod-1", &tooLong,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentDurationOutOfRange, outcome)

	var count int64
	require.NoError(t, d.DB().Model(&Punishment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIssuePunishment_Mute(t *testing.T) {
	d := setupTestDB(t)
	duration := 2 * time.Hour
	p, outcome, err := IssuePunishment(
		d, PunishmentMute, "spamming", "user-1", "mod-1", &duration,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentOK, outcome)
	require.NotNil(t, p.Expiry)
	assert.False(t, p.CheckForExpiry)

	active, err := ActivePunishment(d.DB(), "user-1", PunishmentMute)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, p.ID, active.ID)
}

func TestIssuePunishment_SecondMuteRejected(t *testing.T) {
	d := setupTestDB(t)
	duration := 2 * time.Hour
	first, outcome, err := IssuePunishment(
		d, PunishmentMute, "spamming", "user-1", "mod-1", &duration,
	)
	require.NoError(t, err)
	require.Equal(t, PunishmentOK, outcome)

	// A second mute while the first is still active is rejected and
	// reports the existing entry.
	existing, outcome, err := IssuePunishment(
		d, PunishmentMute, "still spamming", "user-1", "mod-2", &duration,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentAlreadyPunished, outcome)
	assert.Equal(t, first.ID, existing.ID)

	var count int64
	require.NoError(t, d.DB().Model(&Punishment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestIssuePunishment_WarnGetsExpiry(t *testing.T) {
	d := setupTestDB(t)
	p, outcome, err := IssuePunishment(
		d, PunishmentWarn, "rude", "user-1", "mod-1", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentOK, outcome)
	require.NotNil(t, p.Expiry)

	expected := time.Now().Add(warnExpiry).UnixMilli()
	assert.InDelta(t, expected, *p.Expiry, float64(time.Minute.Milliseconds()))
}

func TestIssuePunishment_PermanentBanStaysActive(t *testing.T) {
	d := setupTestDB(t)
	p, outcome, err := IssuePunishment(
		d, PunishmentBan, "ban evasion", "user-1", "mod-1", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentOK, outcome)
	assert.Nil(t, p.Expiry)
	assert.False(t, p.CheckForExpiry)

	active, err := ActivePunishment(d.DB(), "user-1", PunishmentBan)
	require.NoError(t, err)
	require.NotNil(t, active)

	// A second ban on the same user is rejected.
	_, outcome, err = IssuePunishment(
		d, PunishmentBan, "again", "user-1", "mod-2", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentAlreadyPunished, outcome)
}

func TestIssuePunishment_TimedBanAwaitsReconciliation(t *testing.T) {
	d := setupTestDB(t)
	duration := 7 * 24 * time.Hour
	p, outcome, err := IssuePunishment(
		d, PunishmentBan, "cooling off", "user-1", "mod-1", &duration,
	)
	require.NoError(t, err)
	assert.Equal(t, PunishmentOK, outcome)
	require.NotNil(t, p.Expiry)
	assert.True(t, p.CheckForExpiry)
}

func TestReversePunishment(t *testing.T) {
	d := setupTestDB(t)
	duration := 24 * time.Hour
	_, _, err := IssuePunishment(
		d, PunishmentMute, "spamming", "user-1", "mod-1", &duration,
	)
	require.NoError(t, err)

	outcome, err := ReversePunishment(d, "user-1", PunishmentMute, "appealed")
	require.NoError(t, err)
	assert.Equal(t, PunishmentOK, outcome)

	// No longer active, but the history row survives with the reversal
	// reason folded in.
	active, err := ActivePunishment(d.DB(), "user-1", PunishmentMute)
	require.NoError(t, err)
	assert.Nil(t, active)

	var stored Punishment
	require.NoError(t, d.DB().First(&stored).Error)
	assert.Contains(t, stored.Reason, "spamming")
	assert.Contains(t, stored.Reason, "reversed: appealed")
	assert.False(t, stored.CheckForExpiry)
}

func TestReversePunishment_NotPunished(t *testing.T) {
	d := setupTestDB(t)
	outcome, err := ReversePunishment(d, "user-1", PunishmentBan, "nothing there")
	require.NoError(t, err)
	assert.Equal(t, PunishmentNotPunished, outcome)
}

func TestDeletePunishment(t *testing.T) {
	d := setupTestDB(t)
	p, _, err := IssuePunishment(
		d, PunishmentNote, "keep an eye on this one", "user-1", "mod-1", nil,
	)
	require.NoError(t, err)

	deleted, err := DeletePunishment(d, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = DeletePunishment(d, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteAllPunishments(t *testing.T) {
	d := setupTestDB(t)
	for i := 0; i < 3; i++ {
		_, _, err := IssuePunishment(
			d, PunishmentWarn, "warning", "user-1", "mod-1", nil,
		)
		require.NoError(t, err)
	}
	_, _, err := IssuePunishment(
		d, PunishmentWarn, "other user", "user-2", "mod-1", nil,
	)
	require.NoError(t, err)

	deleted, err := DeleteAllPunishments(d, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	var remaining []Punishment
	require.NoError(t, d.DB().Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "user-2", remaining[0].PunishedID)
}

func TestListPunishments_Paging(t *testing.T) {
	d := setupTestDB(t)
	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < 7; i++ {
		_, err := d.Create(&Punishment{
			Type:       PunishmentWarn,
			Reason:     "warning",
			IssuedAt:   base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			PunishedID: "user-1",
			IssuerID:   "mod-1",
		})
		require.NoError(t, err)
	}

	first, total, err := ListPunishments(d.DB(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.Len(t, first, punishmentsPerPage)

	second, _, err := ListPunishments(d.DB(), "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, second, 2)

	// Oldest first.
	assert.Less(t, first[0].IssuedAt, second[0].IssuedAt)

	empty, _, err := ListPunishments(d.DB(), "user-1", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCountModerationActions(t *testing.T) {
	d := setupTestDB(t)
	for i := 0; i < 3; i++ {
		_, _, err := IssuePunishment(
			d, PunishmentWarn, "warning", "user-1", "mod-busy", nil,
		)
		require.NoError(t, err)
	}
	_, _, err := IssuePunishment(
		d, PunishmentNote, "note", "user-2", "mod-quiet", nil,
	)
	require.NoError(t, err)

	counts, err := CountModerationActions(d.DB())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "mod-busy", counts[0].IssuerID)
	assert.Equal(t, int64(3), counts[0].Count)
	assert.Equal(t, "mod-quiet", counts[1].IssuerID)
	assert.Equal(t, int64(1), counts[1].Count)
}

func TestFormatPunishment(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	issued := time.Date(2025, time.May, 20, 15, 0, 0, 0, time.UTC)
	expiredAt := issued.Add(time.Hour).UnixMilli()

	line := formatPunishment(Punishment{
		ID:         42,
		Type:       PunishmentMute,
		Reason:     "spamming",
		IssuedAt:   issued.UnixMilli(),
		Expiry:     &expiredAt,
		PunishedID: "user-1",
		IssuerID:   "mod-1",
	}, now)
	assert.Contains(t, line, "`#42`")
	assert.Contains(t, line, "**Mute**")
	assert.Contains(t, line, "<@mod-1>")
	assert.Contains(t, line, "20-May-2025")
	assert.Contains(t, line, "spamming")
	assert.Contains(t, line, "(expired)")

	line = formatPunishment(Punishment{
		ID:         43,
		Type:       PunishmentNote,
		Reason:     "just a note",
		IssuedAt:   issued.UnixMilli(),
		PunishedID: "user-1",
		IssuerID:   "mod-1",
	}, now)
	assert.NotContains(t, line, "(expired)")
}
