package oribot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/traso56/oribot/oribot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// OriBot is the main application struct: it owns the database handles,
// the Discord session, the generative client, the operator API and the
// background loops, and coordinates their lifecycles.
type OriBot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db DBI

	// gorm.DB wrapper for write/update/delete operations, serialized
	// behind a mutex.
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	genai     *GenAI
	api       *API
	reporter  *ExceptionReporter
	passive   *PassiveResponses
	starboard *Starboard
	library   *ResponseLibrary

	userCache     *userCache
	tickets       *ticketMirror
	confirmations *confirmations

	// Bot user snowflake, populated after the gateway session opens.
	botUserID string

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	runMu      sync.Mutex
	signalStop chan struct{}
	startedAt  time.Time
}

// New creates and initializes an OriBot instance from the static
// config. Run must be called afterwards to start it.
func New(config *Config) (*OriBot, error) {
	b := &OriBot{
		config:        config,
		userCache:     newUserCache(),
		tickets:       newTicketMirror(),
		confirmations: newConfirmations(),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordgoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc := newDiscord(&config.Discord)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.bot = b
	b.discord = disc

	b.library = NewResponseLibrary()

	api, err := newAPI(b, &config.API)
	if err != nil {
		return nil, err
	}
	b.api = api

	return b, nil
}

// RuntimeConfig returns a copy of the current runtime configuration.
func (b *OriBot) RuntimeConfig() RuntimeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return *b.runtimeConfig
}

func (b *OriBot) setRuntimeConfig(cfg RuntimeConfig) {
	b.cfgMu.Lock()
	b.runtimeConfig = &cfg
	b.cfgMu.Unlock()
	b.applyLogLevels(cfg)
}

// applyLogLevels pushes the runtime config's log levels onto the live
// level vars so a change takes effect without a restart.
func (b *OriBot) applyLogLevels(cfg RuntimeConfig) {
	b.config.LogLevel.Set(cfg.LogLevel.Level())
	b.config.DatabaseLogLevel.Set(cfg.DatabaseLogLevel.Level())
	b.config.Discord.LogLevel.Set(cfg.DiscordLogLevel.Level())
	if b.config.GenAI.LogLevel != nil {
		b.config.GenAI.LogLevel.Set(cfg.GenAILogLevel.Level())
	}
	if b.config.API.LogLevel != nil {
		b.config.API.LogLevel.Set(cfg.APILogLevel.Level())
	}
}

// UpdateRuntimeConfig validates and persists a partial runtime config
// update, refreshing the in-memory snapshot.
func (b *OriBot) UpdateRuntimeConfig(update RuntimeConfigUpdate) (RuntimeConfig, error) {
	if err := structValidator.Struct(update); err != nil {
		return RuntimeConfig{}, err
	}

	b.cfgMu.Lock()
	cfg := *b.runtimeConfig
	update.Apply(&cfg)
	b.cfgMu.Unlock()

	if err := structValidator.Struct(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	if _, err := b.writeDB.Save(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("error saving runtime config: %w", err)
	}
	b.setRuntimeConfig(cfg)
	b.logger.Info("runtime config updated")
	return cfg, nil
}

// refreshRuntimeConfig re-reads the config row, picking up changes
// made outside this process.
func (b *OriBot) refreshRuntimeConfig(ctx context.Context) {
	var cfg RuntimeConfig
	if err := b.db.DB().First(&cfg).Error; err != nil {
		b.logger.ErrorContext(
			ctx, "error refreshing runtime config", tint.Err(err),
		)
		return
	}
	b.setRuntimeConfig(cfg)
}

// ValidateConfig checks the static config's required fields.
func (b *OriBot) ValidateConfig() error {
	return b.config.Validate()
}

func (b *OriBot) triggerShutdown() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// registerApplicationCommands pushes the slash command set to Discord.
func (b *OriBot) registerApplicationCommands() (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(b.botUserID, applicationCommands())
}

// initDatabase opens the SQLite database, runs migrations and seeds
// the reference rows.
func (b *OriBot) initDatabase(ctx context.Context) error {
	gormLogger := newGORMLogger(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.DatabaseLogLevel,
				AddSource: true,
			},
		),
		b.config.DatabaseSlowThreshold,
	)
	db, err := CreateDB(ctx, b.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	dbLogger := slog.New(b.logHandler)
	writeDB := NewDatabase(db, dbLogger)
	b.writeDB = writeDB
	b.db = writeDB

	if err = seedBadges(b.writeDB); err != nil {
		return err
	}

	cfg, err := loadOrCreateRuntimeConfig(b.writeDB)
	if err != nil {
		return err
	}
	b.setRuntimeConfig(cfg)
	return nil
}

// initDiscord opens the gateway session and wires everything that
// needs the bot's own user ID.
func (b *OriBot) initDiscord(ctx context.Context) error {
	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.reporter = NewExceptionReporter(
		session, b.config.Discord.OpsChannelID, b.logHandler,
	)
	b.registerGatewayHandlers(b.discord)

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	// The bot user is only known once the session is open; discordgo
	// populates session state from the Ready payload.
	me, err := b.discord.session.BotUser()
	if err != nil {
		return fmt.Errorf("error resolving bot user: %w", err)
	}
	b.botUserID = me.ID

	genai, err := NewGenAI(b.config.GenAI, b.botUserID, b.logHandler)
	if err != nil {
		return fmt.Errorf("error creating generative client: %w", err)
	}
	b.genai = genai

	var responder passiveResponder
	if genai != nil {
		responder = genai
	}
	b.passive = NewPassiveResponses(
		b.library,
		responder,
		b.RuntimeConfig,
		b.config.Discord.CommandsChannelID,
		b.logHandler,
	)
	b.starboard = NewStarboard(
		session,
		b.RuntimeConfig,
		b.awardBadge,
		b.config.Discord.ArtChannelID,
		b.config.Discord.StarboardChannelID,
		b.config.Discord.GuildID,
		b.botUserID,
		b.logHandler,
	)

	if _, err = b.registerApplicationCommands(); err != nil {
		return err
	}
	if err = b.rehydrateTickets(); err != nil {
		return err
	}
	b.logger.InfoContext(
		ctx,
		"discord ready",
		"open_tickets", b.tickets.Len(),
		columnUserID, b.botUserID,
	)
	return nil
}

// Run starts the bot and blocks until the context is cancelled or a
// shutdown is requested via the API.
func (b *OriBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	// the 'runtime' context, which triggers a graceful shutdown when
	// canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	if err := b.initDatabase(startCtx); err != nil {
		startCancel()
		return err
	}
	if err := b.initDiscord(startCtx); err != nil {
		startCancel()
		return err
	}
	startCancel()

	rec := newReconciler(
		b.db,
		b.writeDB,
		b.discord.session,
		b.tickets,
		b.RuntimeConfig,
		b.config.Discord.GuildID,
		b.config.Discord.ImagesRoleID,
		b.logHandler,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		httpErr := b.api.Serve(groupCtx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.ErrorContext(groupCtx, "error serving api", tint.Err(httpErr))
			return httpErr
		}
		return nil
	})
	group.Go(func() error {
		rec.runStatusRotation(groupCtx)
		return nil
	})
	group.Go(func() error {
		rec.runSweeps(groupCtx)
		return nil
	})
	group.Go(func() error {
		b.reporter.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		b.runRuntimeConfigRefresher(groupCtx)
		return nil
	})
	group.Go(func() error {
		b.runUserCacheRefresher(groupCtx)
		return nil
	})

	logger.InfoContext(ctx, "started", "version", Version)

	<-ctx.Done()
	return b.shutdown(group)
}

// runRuntimeConfigRefresher periodically re-reads the config row.
func (b *OriBot) runRuntimeConfigRefresher(ctx context.Context) {
	ticker := time.NewTicker(b.config.RuntimeConfigTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refreshRuntimeConfig(ctx)
		}
	}
}

// runUserCacheRefresher periodically drops the user cache so stale
// profile edits age out.
func (b *OriBot) runUserCacheRefresher(ctx context.Context) {
	ticker := time.NewTicker(b.config.UserCacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.userCache.Clear()
			b.logger.DebugContext(ctx, "cleared user cache")
		}
	}
}

// shutdown closes the gateway session and the API server, waiting for
// the background loops to finish.
func (b *OriBot) shutdown(group *errgroup.Group) error {
	b.logger.Warn("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), b.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error
	if b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	if err := b.api.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
	}
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := b.db.DB().DB(); err == nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", closeErr))
		}
	}
	b.logger.Warn("shutdown complete", "uptime", time.Since(b.startedAt))
	return errors.Join(errs...)
}
