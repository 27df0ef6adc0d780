package oribot

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Runtime config defaults, applied when the config row is first
// created.
const (
	DefaultPassiveEnabled     = true
	DefaultPassiveAnyChannel  = false
	DefaultCooldownEnabled    = true
	DefaultCooldownMs         = 60_000
	DefaultKuChance           = 0.05
	DefaultStatusIntervalHrs  = 1
	DefaultSweepIntervalHrs   = 12
	DefaultPinThreshold       = 5
	DefaultMinAccountAgeDays  = 7
	DefaultImageRoleDelayDays = 3
)

// RuntimeConfig is the hot-reloadable configuration row. There is
// exactly one row; every consumer reads through OriBot.RuntimeConfig()
// so a change between ticks takes effect without a restart.
type RuntimeConfig struct {
	ModelUnixTime
	ID uint `json:"id" gorm:"primaryKey"`

	Paused bool `json:"paused"`

	PassiveEnabled    bool    `json:"passive_enabled"`
	PassiveAnyChannel bool    `json:"passive_any_channel"`
	CooldownEnabled   bool    `json:"cooldown_enabled"`
	CooldownMs        int     `json:"cooldown_ms" validate:"omitempty,min=0"`
	KuChance          float64 `json:"ku_chance" validate:"omitempty,min=0,max=1"`
	ForceBirthday     bool    `json:"force_birthday"`

	StatusIntervalHours int `json:"status_interval_hours" validate:"omitempty,min=1"`
	SweepIntervalHours  int `json:"sweep_interval_hours" validate:"omitempty,min=1"`

	PinThreshold       int `json:"pin_threshold" validate:"omitempty,min=1"`
	MinAccountAgeDays  int `json:"min_account_age_days" validate:"omitempty,min=0"`
	ImageRoleDelayDays int `json:"image_role_delay_days" validate:"omitempty,min=0"`

	LogLevel         DBLogLevel `json:"log_level" gorm:"type:string"`
	DiscordLogLevel  DBLogLevel `json:"discord_log_level" gorm:"type:string"`
	DatabaseLogLevel DBLogLevel `json:"database_log_level" gorm:"type:string"`
	GenAILogLevel    DBLogLevel `json:"genai_log_level" gorm:"type:string"`
	APILogLevel      DBLogLevel `json:"api_log_level" gorm:"type:string"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

// DefaultRuntimeConfig returns the row inserted on first run.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		PassiveEnabled:      DefaultPassiveEnabled,
		PassiveAnyChannel:   DefaultPassiveAnyChannel,
		CooldownEnabled:     DefaultCooldownEnabled,
		CooldownMs:          DefaultCooldownMs,
		KuChance:            DefaultKuChance,
		StatusIntervalHours: DefaultStatusIntervalHrs,
		SweepIntervalHours:  DefaultSweepIntervalHrs,
		PinThreshold:        DefaultPinThreshold,
		MinAccountAgeDays:   DefaultMinAccountAgeDays,
		ImageRoleDelayDays:  DefaultImageRoleDelayDays,
		LogLevel:            DBLogLevelInfo,
		DiscordLogLevel:     DBLogLevelInfo,
		DatabaseLogLevel:    DBLogLevelWarn,
		GenAILogLevel:       DBLogLevelInfo,
		APILogLevel:         DBLogLevelInfo,
	}
}

// Cooldown returns the cooldown window as a duration.
func (c RuntimeConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (c RuntimeConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalHours) * time.Hour
}

func (c RuntimeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// RuntimeConfigUpdate is a partial update of the config row. Nil
// fields are untouched.
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	PassiveEnabled    *bool    `json:"passive_enabled,omitempty"`
	PassiveAnyChannel *bool    `json:"passive_any_channel,omitempty"`
	CooldownEnabled   *bool    `json:"cooldown_enabled,omitempty"`
	CooldownMs        *int     `json:"cooldown_ms,omitempty" validate:"omitempty,min=0"`
	KuChance          *float64 `json:"ku_chance,omitempty" validate:"omitempty,min=0,max=1"`
	ForceBirthday     *bool    `json:"force_birthday,omitempty"`

	StatusIntervalHours *int `json:"status_interval_hours,omitempty" validate:"omitempty,min=1"`
	SweepIntervalHours  *int `json:"sweep_interval_hours,omitempty" validate:"omitempty,min=1"`

	PinThreshold       *int `json:"pin_threshold,omitempty" validate:"omitempty,min=1"`
	MinAccountAgeDays  *int `json:"min_account_age_days,omitempty" validate:"omitempty,min=0"`
	ImageRoleDelayDays *int `json:"image_role_delay_days,omitempty" validate:"omitempty,min=0"`

	LogLevel         *DBLogLevel `json:"log_level,omitempty"`
	DiscordLogLevel  *DBLogLevel `json:"discord_log_level,omitempty"`
	DatabaseLogLevel *DBLogLevel `json:"database_log_level,omitempty"`
	GenAILogLevel    *DBLogLevel `json:"genai_log_level,omitempty"`
	APILogLevel      *DBLogLevel `json:"api_log_level,omitempty"`
}

// Apply copies the update's non-nil fields onto cfg.
func (u RuntimeConfigUpdate) Apply(cfg *RuntimeConfig) {
	if u.Paused != nil {
		cfg.Paused = *u.Paused
	}
	if u.PassiveEnabled != nil {
		cfg.PassiveEnabled = *u.PassiveEnabled
	}
	if u.PassiveAnyChannel != nil {
		cfg.PassiveAnyChannel = *u.PassiveAnyChannel
	}
	if u.CooldownEnabled != nil {
		cfg.CooldownEnabled = *u.CooldownEnabled
	}
	if u.CooldownMs != nil {
		cfg.CooldownMs = *u.CooldownMs
	}
	if u.KuChance != nil {
		cfg.KuChance = *u.KuChance
	}
	if u.ForceBirthday != nil {
		cfg.ForceBirthday = *u.ForceBirthday
	}
	if u.StatusIntervalHours != nil {
		cfg.StatusIntervalHours = *u.StatusIntervalHours
	}
	if u.SweepIntervalHours != nil {
		cfg.SweepIntervalHours = *u.SweepIntervalHours
	}
	if u.PinThreshold != nil {
		cfg.PinThreshold = *u.PinThreshold
	}
	if u.MinAccountAgeDays != nil {
		cfg.MinAccountAgeDays = *u.MinAccountAgeDays
	}
	if u.ImageRoleDelayDays != nil {
		cfg.ImageRoleDelayDays = *u.ImageRoleDelayDays
	}
	if u.LogLevel != nil {
		cfg.LogLevel = *u.LogLevel
	}
	if u.DiscordLogLevel != nil {
		cfg.DiscordLogLevel = *u.DiscordLogLevel
	}
	if u.DatabaseLogLevel != nil {
		cfg.DatabaseLogLevel = *u.DatabaseLogLevel
	}
	if u.GenAILogLevel != nil {
		cfg.GenAILogLevel = *u.GenAILogLevel
	}
	if u.APILogLevel != nil {
		cfg.APILogLevel = *u.APILogLevel
	}
}

// loadOrCreateRuntimeConfig fetches the config row, inserting the
// defaults on first run.
func loadOrCreateRuntimeConfig(writeDB DBI) (RuntimeConfig, error) {
	var cfg RuntimeConfig
	err := writeDB.DB().First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = DefaultRuntimeConfig()
		if _, err = writeDB.Create(&cfg); err != nil {
			return cfg, fmt.Errorf("error creating runtime config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("error loading runtime config: %w", err)
	}
	return cfg, nil
}
