package oribot

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Badge is a reusable achievement definition. Users hold badges through
// UserBadge rows carrying a repeat count.
type Badge struct {
	ID uint `json:"id" gorm:"primaryKey"`

	Name            string `json:"name" gorm:"uniqueIndex"`
	MiniDescription string `json:"mini_description"`
	Description     string `json:"description"`
	Emote           string `json:"emote"`
	Experience      int    `json:"experience"`
}

// Well-known badge names granted automatically by handlers.
const (
	badgeCreative   = "Creative"
	badgePincushion = "Pincushion"
)

// UserBadge links a user to an earned badge. Count is always at least
// one; the row is deleted, not zeroed, when the last copy is revoked.
type UserBadge struct {
	UserID  string `json:"user_id" gorm:"primaryKey"`
	BadgeID uint   `json:"badge_id" gorm:"primaryKey"`

	Badge Badge `json:"badge" gorm:"foreignKey:BadgeID"`
	Count int   `json:"count" gorm:"default:1"`
}

type UniqueBadgeType string

const (
	UniqueBadgeApprovedIdea UniqueBadgeType = "ApprovedIdea"
	UniqueBadgeEmojiCreator UniqueBadgeType = "EmojiCreator"
)

// UniqueBadge is a one-off achievement owned by exactly one user, with
// a freeform payload (e.g. the approved idea's text).
type UniqueBadge struct {
	ModelUnixTime
	ID uint `json:"id" gorm:"primaryKey"`

	Data       string          `json:"data"`
	BadgeType  UniqueBadgeType `json:"badge_type"`
	Experience int             `json:"experience"`

	UserID string `json:"user_id"`
}

// GetBadgeByName looks up a badge definition.
func GetBadgeByName(db *gorm.DB, name string) (*Badge, error) {
	var badge Badge
	if err := db.Where("name = ?", name).First(&badge).Error; err != nil {
		return nil, fmt.Errorf("error fetching badge %q: %w", name, err)
	}
	return &badge, nil
}

// AddBadgeToUser grants one copy of a badge, creating the association
// row or incrementing its count.
func AddBadgeToUser(writeDB DBI, userID string, badge *Badge) error {
	var ub UserBadge
	err := writeDB.DB().Where(
		"user_id = ? AND badge_id = ?", userID, badge.ID,
	).First(&ub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		ub = UserBadge{UserID: userID, BadgeID: badge.ID, Count: 1}
		_, err = writeDB.Create(&ub)
		return err
	case err != nil:
		return fmt.Errorf("error fetching user badge: %w", err)
	default:
		ub.Count++
		_, err = writeDB.Update(&ub, "count", ub.Count)
		return err
	}
}

// RemoveBadgeFromUser revokes one copy of a badge. When the count
// reaches zero the association row is deleted.
func RemoveBadgeFromUser(writeDB DBI, userID string, badge *Badge) error {
	var ub UserBadge
	err := writeDB.DB().Where(
		"user_id = ? AND badge_id = ?", userID, badge.ID,
	).First(&ub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error fetching user badge: %w", err)
	}

	ub.Count--
	if ub.Count <= 0 {
		_, err = writeDB.Delete(
			&UserBadge{},
			"user_id = ? AND badge_id = ?", userID, badge.ID,
		)
		return err
	}
	_, err = writeDB.Update(&ub, "count", ub.Count)
	return err
}

// AwardUniqueBadge records a one-off achievement for a user.
func AwardUniqueBadge(
	writeDB DBI,
	userID string,
	badgeType UniqueBadgeType,
	data string,
	experience int,
) error {
	ub := UniqueBadge{
		Data:       data,
		BadgeType:  badgeType,
		Experience: experience,
		UserID:     userID,
	}
	_, err := writeDB.Create(&ub)
	return err
}

// defaultBadges seeds the badge table on first run.
var defaultBadges = []Badge{
	{
		Name:            badgeCreative,
		MiniDescription: "Posted art in the art channel",
		Description:     "Earned by sharing an original creation in the art channel.",
		Emote:           "🎨",
		Experience:      10,
	},
	{
		Name:            badgePincushion,
		MiniDescription: "Had a post pinned to the starboard",
		Description:     "Earned when the community pins one of your posts to the starboard.",
		Emote:           emojiPin,
		Experience:      25,
	},
}

func seedBadges(writeDB DBI) error {
	for _, badge := range defaultBadges {
		var existing Badge
		err := writeDB.DB().Where("name = ?", badge.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, err = writeDB.Create(&badge); err != nil {
				return fmt.Errorf("error seeding badge %q: %w", badge.Name, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error checking badge %q: %w", badge.Name, err)
		}
	}
	return nil
}
