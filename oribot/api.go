package oribot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	sessionVarName  = "oribot"
	sessionVarField = "username"

	apiPrefix               = "/api"
	apiPathLogin            = "/api/login"
	apiPathLogout           = "/api/logout"
	apiHealthCheck          = "/api/health"
	apiPathLoggedIn         = "/logged_in"
	apiPathConfig           = "/config"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathUsers            = "/users"
	apiPathQuit             = "/quit"
	apiPathRegisterCommands = "/register_commands"

	pprofPrefix = "/debug"
)

// API is the operator HTTP server: login-gated runtime config access
// and a few process controls.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	store      CookieStore
	// Rate limiter for login requests
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(b *OriBot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := newAPIHandlers(b)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	httpServer := &http.Server{
		Addr:         config.Listen,
		Handler:      r,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowCredentials = true
	if b.config.Development {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{"http://" + config.Listen}
	}

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		ginLoggingMiddleware(api.logger),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)

	if b.config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(api))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.GET(apiPathUsers, apiHandlers.getUsers)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.POST(apiPathRegisterCommands, apiHandlers.registerCommands)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, "tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	b      *OriBot
	logger *slog.Logger
	store  CookieStore
}

func newAPIHandlers(b *OriBot) *APIHandlers {
	logger := b.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := b.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if b.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(b.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{b: b, logger: logger, store: store}
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

func (h *APIHandlers) loginHandler(c *gin.Context) {
	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := h.b.config.API
	if cfg.AdminUsername == "" || cfg.AdminPasswordHash == "" {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "admin credentials not configured"},
		)
		return
	}
	if !h.b.api.loginRequestLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
		return
	}
	if login.Username != cfg.AdminUsername {
		h.logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := verifyPassword(cfg.AdminPasswordHash, login.Password)
	if err != nil {
		h.logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		h.logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	if err = session.Save(); err != nil {
		h.logger.Error("error saving session", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	h.logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{MaxAge: -1})
	if err := session.Save(); err != nil {
		h.logger.Error("error clearing session", tint.Err(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	c.JSON(http.StatusOK, loggedInResponse{Username: fmt.Sprint(username)})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.b.RuntimeConfig())
}

func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.b.UpdateRuntimeConfig(update)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("error updating runtime config", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Error updating config"},
		)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *APIHandlers) botPause(c *gin.Context) {
	paused := true
	_, err := h.b.UpdateRuntimeConfig(RuntimeConfigUpdate{Paused: &paused})
	if err != nil {
		h.logger.Error("error pausing bot", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error pausing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *APIHandlers) botResume(c *gin.Context) {
	paused := false
	_, err := h.b.UpdateRuntimeConfig(RuntimeConfigUpdate{Paused: &paused})
	if err != nil {
		h.logger.Error("error resuming bot", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error resuming"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *APIHandlers) getUsers(c *gin.Context) {
	var users []User
	if err := h.b.db.DB().Find(&users).Error; err != nil {
		h.logger.Error("error listing users", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Error listing users"},
		)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	h.logger.Warn("shutdown requested via API")
	c.JSON(http.StatusOK, gin.H{"message": "shutting down"})
	h.b.triggerShutdown()
}

func (h *APIHandlers) registerCommands(c *gin.Context) {
	created, err := h.b.registerApplicationCommands()
	if err != nil {
		h.logger.Error("error registering commands", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Error registering commands"},
		)
		return
	}
	names := make([]string, 0, len(created))
	for _, command := range created {
		names = append(names, command.Name)
	}
	c.JSON(http.StatusOK, gin.H{"registered": names})
}

// authMiddleware rejects requests without a valid admin session.
func authMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		username := session.Get(sessionVarField)
		if username == nil {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized, gin.H{"error": "Unauthorized"},
			)
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started),
			"client_ip", c.ClientIP(),
		)
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			logger.Error("request error", tint.Err(e))
		}
	}
}
