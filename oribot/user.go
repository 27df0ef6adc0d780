package oribot

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"
)

var columnUserID = "user_id"

// User is a guild member's persisted profile. Rows are created lazily
// the first time a user is referenced and never deleted.
type User struct {
	ModelUnixTime
	// Discord snowflake, assigned externally.
	ID string `json:"id" gorm:"primaryKey;type:string"`

	Username    string `json:"username"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Profile accent color as a raw RGB value.
	Color int `json:"color"`

	Badges       []UserBadge   `json:"badges" gorm:"foreignKey:UserID"`
	UniqueBadges []UniqueBadge `json:"unique_badges" gorm:"foreignKey:UserID"`

	Punishments       []Punishment `json:"-" gorm:"foreignKey:PunishedID"`
	PunishmentsIssued []Punishment `json:"-" gorm:"foreignKey:IssuerID"`
}

func NewUser(id string, username string) User {
	return User{ID: id, Username: username}
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
	)
}

// Experience sums the user's badge experience: repeatable badges count
// once per earned copy, unique badges contribute their own value.
func (u *User) Experience(db *gorm.DB) (int, error) {
	var badges []UserBadge
	if err := db.Preload("Badge").Where(
		"user_id = ?", u.ID,
	).Find(&badges).Error; err != nil {
		return 0, fmt.Errorf("error loading user badges: %w", err)
	}
	var uniques []UniqueBadge
	if err := db.Where("user_id = ?", u.ID).Find(&uniques).Error; err != nil {
		return 0, fmt.Errorf("error loading unique badges: %w", err)
	}

	total := 0
	for _, ub := range badges {
		total += ub.Badge.Experience * ub.Count
	}
	for _, ub := range uniques {
		total += ub.Experience
	}
	return total, nil
}

// userCache is a process-lifetime cache of User rows keyed by ID.
// Soft state: dropped entries are reloaded from the database.
type userCache struct {
	mu    sync.RWMutex
	users map[string]*User
}

func newUserCache() *userCache {
	return &userCache{users: map[string]*User{}}
}

func (c *userCache) Get(id string) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

func (c *userCache) Set(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
}

func (c *userCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = map[string]*User{}
}

// GetOrCreateUser returns the cached or persisted User with the given
// ID, creating the row on first reference.
func (b *OriBot) GetOrCreateUser(id string, username string) (*User, bool, error) {
	if u, ok := b.userCache.Get(id); ok {
		return u, false, nil
	}

	var user User
	err := b.db.DB().Where("id = ?", id).First(&user).Error
	switch {
	case err == nil:
		b.userCache.Set(&user)
		return &user, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = NewUser(id, username)
		if _, err = b.writeDB.Create(&user); err != nil {
			return nil, false, fmt.Errorf("error creating user: %w", err)
		}
		b.userCache.Set(&user)
		return &user, true, nil
	default:
		return nil, false, fmt.Errorf("error fetching user: %w", err)
	}
}
