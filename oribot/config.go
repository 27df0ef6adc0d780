package oribot

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

// DefaultDiscordIntents covers everything the handlers consume:
// messages and their content, reactions, members and bans.
var DefaultDiscordIntents = int(discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentGuildMembers |
	discordgo.IntentMessageContent)

const (
	DefaultDatabase              = "oribot.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultStartupTimeout        = 75 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultRuntimeConfigTTL      = 5 * time.Minute
	DefaultUserCacheTTL          = time.Hour

	DefaultGenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGenAIModel   = "gemini-pro"
	DefaultGenAITimeout = 30 * time.Second

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPISessionMaxAge = 6 * time.Hour
	DefaultReadTimeout      = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultIdleTimeout      = 30 * time.Second

	DefaultEnvPrefix      = "ORIBOT"
	EnvvarSetEnvPrefix    = "ORIBOT_SET_ENV_PREFIX"
	DefaultAwaitTimeout   = 15 * time.Second
	DefaultReporterRetry  = 15 * time.Minute
	DefaultStartupMessage = "I'm awake!"
	discordSafeMessageLen = 1990
)

var (
	DefaultLogLevel         = slog.LevelInfo
	DefaultDiscordLogLevel  = slog.LevelInfo
	DefaultDatabaseLogLevel = slog.LevelWarn
	DefaultGenAILogLevel    = slog.LevelInfo
	DefaultAPILogLevel      = slog.LevelInfo
)

// Config is the static bootstrap configuration, bound once at process
// start from flags/env (viper). Anything expected to change without a
// restart lives in RuntimeConfig instead.
type Config struct {
	// Database is the path to the SQLite database file.
	Database string `json:"database" yaml:"database" mapstructure:"database" validate:"required"`

	DatabaseSlowThreshold time.Duration `json:"database_slow_threshold" yaml:"database_slow_threshold" mapstructure:"database_slow_threshold"`

	LogLevel         *slog.LevelVar `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	DatabaseLogLevel *slog.LevelVar `json:"database_log_level" yaml:"database_log_level" mapstructure:"database_log_level"`

	Development bool `json:"development" yaml:"development" mapstructure:"development"`

	StartupTimeout  time.Duration `json:"startup_timeout" yaml:"startup_timeout" mapstructure:"startup_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// RuntimeConfigTTL is the interval at which the runtime config row
	// is re-read from the database.
	RuntimeConfigTTL time.Duration `json:"runtime_config_ttl" yaml:"runtime_config_ttl" mapstructure:"runtime_config_ttl"`
	UserCacheTTL     time.Duration `json:"user_cache_ttl" yaml:"user_cache_ttl" mapstructure:"user_cache_ttl"`

	Discord DiscordConfig `json:"discord" yaml:"discord" mapstructure:"discord"`
	GenAI   GenAIConfig   `json:"genai" yaml:"genai" mapstructure:"genai"`
	API     APIConfig     `json:"api" yaml:"api" mapstructure:"api"`
}

// DiscordConfig carries the gateway credentials and the guild wiring:
// which channels and roles the handlers act on.
type DiscordConfig struct {
	Token   string `json:"-" yaml:"token" mapstructure:"token" validate:"required" log:"REDACTED"`
	GuildID string `json:"guild_id" yaml:"guild_id" mapstructure:"guild_id" validate:"required"`

	CommandsChannelID  string `json:"commands_channel_id" yaml:"commands_channel_id" mapstructure:"commands_channel_id"`
	ArtChannelID       string `json:"art_channel_id" yaml:"art_channel_id" mapstructure:"art_channel_id"`
	StarboardChannelID string `json:"starboard_channel_id" yaml:"starboard_channel_id" mapstructure:"starboard_channel_id"`
	OpsChannelID       string `json:"ops_channel_id" yaml:"ops_channel_id" mapstructure:"ops_channel_id"`
	AutosChannelID     string `json:"autos_channel_id" yaml:"autos_channel_id" mapstructure:"autos_channel_id"`
	TicketChannelID    string `json:"ticket_channel_id" yaml:"ticket_channel_id" mapstructure:"ticket_channel_id"`

	ModRoleID    string `json:"mod_role_id" yaml:"mod_role_id" mapstructure:"mod_role_id"`
	MemberRoleID string `json:"member_role_id" yaml:"member_role_id" mapstructure:"member_role_id"`
	ImagesRoleID string `json:"images_role_id" yaml:"images_role_id" mapstructure:"images_role_id"`

	GatewayIntents    int            `json:"gateway_intents" yaml:"gateway_intents" mapstructure:"gateway_intents"`
	StartupMessage    string         `json:"startup_message" yaml:"startup_message" mapstructure:"startup_message"`
	LogLevel          *slog.LevelVar `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	DiscordgoLogLevel *slog.LevelVar `json:"discordgo_log_level" yaml:"discordgo_log_level" mapstructure:"discordgo_log_level"`
}

// GenAIConfig configures the generative collaborator. An empty token
// disables the generative path; the literal trigger tables take over.
type GenAIConfig struct {
	Token   string        `json:"-" yaml:"token" mapstructure:"token" log:"REDACTED"`
	Model   string        `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	LogLevel *slog.LevelVar `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Listen string `json:"listen" yaml:"listen" mapstructure:"listen" validate:"required"`
	// Secret signs the session cookie store.
	Secret string `json:"-" yaml:"secret" mapstructure:"secret" log:"REDACTED"`

	AdminUsername string `json:"admin_username" yaml:"admin_username" mapstructure:"admin_username"`
	// Argon2id encoded hash, as produced by `oribot hashpassword`.
	AdminPasswordHash string `json:"-" yaml:"admin_password_hash" mapstructure:"admin_password_hash" log:"REDACTED"`

	SessionMaxAge time.Duration `json:"session_max_age" yaml:"session_max_age" mapstructure:"session_max_age"`
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`

	LogLevel *slog.LevelVar `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

func levelVar(level slog.Level) *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(level)
	return lv
}

// DefaultConfig returns a Config with every default populated.
func DefaultConfig() *Config {
	return &Config{
		Database:              DefaultDatabase,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              levelVar(DefaultLogLevel),
		DatabaseLogLevel:      levelVar(DefaultDatabaseLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RuntimeConfigTTL:      DefaultRuntimeConfigTTL,
		UserCacheTTL:          DefaultUserCacheTTL,
		Discord: DiscordConfig{
			GatewayIntents:    DefaultDiscordIntents,
			StartupMessage:    DefaultStartupMessage,
			LogLevel:          levelVar(DefaultDiscordLogLevel),
			DiscordgoLogLevel: levelVar(DefaultDiscordLogLevel),
		},
		GenAI: GenAIConfig{
			Model:    DefaultGenAIModel,
			BaseURL:  DefaultGenAIBaseURL,
			Timeout:  DefaultGenAITimeout,
			LogLevel: levelVar(DefaultGenAILogLevel),
		},
		API: APIConfig{
			Listen:        DefaultAPIListen,
			SessionMaxAge: DefaultAPISessionMaxAge,
			ReadTimeout:   DefaultReadTimeout,
			WriteTimeout:  DefaultWriteTimeout,
			IdleTimeout:   DefaultIdleTimeout,
			LogLevel:      levelVar(DefaultAPILogLevel),
		},
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the static config's required fields.
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}
