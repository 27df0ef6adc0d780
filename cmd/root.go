package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/traso56/oribot/oribot"
)

var (
	cfg        = oribot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "oribot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", oribot.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		oribot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		oribot.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("development", false)

	viper.SetDefault("runtime_config_ttl", oribot.DefaultRuntimeConfigTTL)
	viper.SetDefault("user_cache_ttl", oribot.DefaultUserCacheTTL)

	viper.SetDefault("log_level", oribot.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", oribot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", oribot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.commands_channel_id", "")
	viper.SetDefault("discord.art_channel_id", "")
	viper.SetDefault("discord.starboard_channel_id", "")
	viper.SetDefault("discord.ops_channel_id", "")
	viper.SetDefault("discord.autos_channel_id", "")
	viper.SetDefault("discord.ticket_channel_id", "")
	viper.SetDefault("discord.mod_role_id", "")
	viper.SetDefault("discord.member_role_id", "")
	viper.SetDefault("discord.images_role_id", "")
	viper.SetDefault(
		"discord.log_level",
		oribot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		oribot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		oribot.DefaultDiscordIntents,
	)
	viper.SetDefault("discord.startup_message", oribot.DefaultStartupMessage)

	// Generative AI config
	viper.SetDefault("genai.token", "")
	viper.SetDefault("genai.model", oribot.DefaultGenAIModel)
	viper.SetDefault("genai.base_url", oribot.DefaultGenAIBaseURL)
	viper.SetDefault("genai.timeout", oribot.DefaultGenAITimeout)
	viper.SetDefault("genai.log_level", oribot.DefaultGenAILogLevel.String())

	// API config
	viper.SetDefault("api.listen", oribot.DefaultAPIListen)
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.admin_username", "")
	viper.SetDefault("api.admin_password_hash", "")
	viper.SetDefault("api.session_max_age", oribot.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", oribot.DefaultReadTimeout)
	viper.SetDefault("api.write_timeout", oribot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", oribot.DefaultIdleTimeout)
	viper.SetDefault("api.log_level", oribot.DefaultAPILogLevel.String())

	envPrefix := os.Getenv(oribot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = oribot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"genai.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
