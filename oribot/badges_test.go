package oribot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSeedBadges(t *testing.T) {
	d := setupTestDB(t)
	require.NoError(t, seedBadges(d))
	// Idempotent.
	require.NoError(t, seedBadges(d))

	var count int64
	require.NoError(t, d.DB().Model(&Badge{}).Count(&count).Error)
	assert.Equal(t, int64(len(defaultBadges)), count)

	badge, err := GetBadgeByName(d.DB(), badgePincushion)
	require.NoError(t, err)
	assert.Equal(t, badgePincushion, badge.Name)
	assert.NotZero(t, badge.Experience)
}

func TestGetBadgeByName_Missing(t *testing.T) {
	d := setupTestDB(t)
	_, err := GetBadgeByName(d.DB(), "NoSuchBadge")
	assert.Error(t, err)
}

func TestAddBadgeToUser_IncrementsCount(t *testing.T) {
	d := setupTestDB(t)
	require.NoError(t, seedBadges(d))
	badge, err := GetBadgeByName(d.DB(), badgeCreative)
	require.NoError(t, err)

	require.NoError(t, AddBadgeToUser(d, "user-1", badge))
	require.NoError(t, AddBadgeToUser(d, "user-1", badge))

	var ub UserBadge
	require.NoError(t, d.DB().Where(
		"user_id = ? AND badge_id = ?", "user-1", badge.ID,
	).First(&ub).Error)
	assert.Equal(t, 2, ub.Count)
}

func TestRemoveBadgeFromUser(t *testing.T) {
	d := setupTestDB(t)
	require.NoError(t, seedBadges(d))
	badge, err := GetBadgeByName(d.DB(), badgeCreative)
	require.NoError(t, err)

	require.NoError(t, AddBadgeToUser(d, "user-1", badge))
	require.NoError(t, AddBadgeToUser(d, "user-1", badge))

	require.NoError(t, RemoveBadgeFromUser(d, "user-1", badge))
	var ub UserBadge
	require.NoError(t, d.DB().Where(
		"user_id = ? AND badge_id = ?", "user-1", badge.ID,
	).First(&ub).Error)
	assert.Equal(t, 1, ub.Count)

	// The last copy deletes the row instead of zeroing it.
	require.NoError(t, RemoveBadgeFromUser(d, "user-1", badge))
	err = d.DB().Where(
		"user_id = ? AND badge_id = ?", "user-1", badge.ID,
	).First(&UserBadge{}).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// Revoking from a user who never had it is a no-op.
	require.NoError(t, RemoveBadgeFromUser(d, "user-2", badge))
}

func TestUserExperience(t *testing.T) {
	d := setupTestDB(t)
	require.NoError(t, seedBadges(d))

	user := NewUser("user-1", "spirit")
	_, err := d.Create(&user)
	require.NoError(t, err)

	creative, err := GetBadgeByName(d.DB(), badgeCreative)
	require.NoError(t, err)
	pincushion, err := GetBadgeByName(d.DB(), badgePincushion)
	require.NoError(t, err)

	require.NoError(t, AddBadgeToUser(d, user.ID, creative))
	require.NoError(t, AddBadgeToUser(d, user.ID, creative))
	require.NoError(t, AddBadgeToUser(d, user.ID, pincushion))
	require.NoError(t, AwardUniqueBadge(
		d, user.ID, UniqueBadgeApprovedIdea, "add a starboard", 100,
	))

	total, err := user.Experience(d.DB())
	require.NoError(t, err)
	expected := creative.Experience*2 + pincushion.Experience + 100
	assert.Equal(t, expected, total)
}
