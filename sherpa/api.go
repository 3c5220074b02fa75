package sherpa

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiPathStatus           = "/status"
	apiPathPosts            = "/posts"
	apiPathDeletePost       = "/posts/:id"
	apiPathRefreshPost      = "/posts/:id/refresh"
	apiPathSessions         = "/sessions"
	apiPathClearLock        = "/locks/:user_id/clear"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathQuit             = "/quit"
)

const xRequestIDHeader = "X-Request-ID"

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// API is the admin/monitoring HTTP server. Everything under /api
// requires the configured bearer token; /healthz is public.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger

	handlers *APIHandlers
}

// APIHandlers holds the API route handlers.
type APIHandlers struct {
	bot    *Sherpa
	logger *slog.Logger
}

func newAPI(b *Sherpa, config *APIConfig) (*API, error) {
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		logger:         logger,
	}
	api.handlers = &APIHandlers{bot: b, logger: logger}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var e error
		tlsCfg, e = tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = false
		corsConfig.AllowOrigins = []string{"http://" + config.Listen}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config))

	protected.GET(apiPathStatus, api.handlers.getStatus)
	protected.GET(apiPathPosts, api.handlers.getPosts)
	protected.DELETE(apiPathDeletePost, api.handlers.deletePost)
	protected.POST(apiPathRefreshPost, api.handlers.refreshPost)
	protected.GET(apiPathSessions, api.handlers.getSessions)
	protected.POST(apiPathClearLock, api.handlers.clearLock)
	protected.POST(apiPathRegisterCommands, api.handlers.discordRegisterCommands)
	protected.POST(apiPathQuit, api.handlers.botQuit)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if e != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, e)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

// URL returns the base URL the server is listening on, once serving.
func (a *API) URL() string {
	if a.listener == nil {
		return ""
	}
	scheme := "http"
	if a.httpServer.TLSConfig != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, a.listener.Addr().String())
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// statusResponse is the payload for the status endpoint.
type statusResponse struct {
	Version          string         `json:"version"`
	StartedAt        string         `json:"started_at"`
	DiscordConnected bool           `json:"discord_connected"`
	ActivePosts      int            `json:"active_posts"`
	WizardSessions   int            `json:"wizard_sessions"`
	Interactions     int64          `json:"interactions"`
	PostsPublished   int64          `json:"posts_published"`
	PostsDeleted     int64          `json:"posts_deleted"`
	RequestCounts    map[string]int `json:"request_counts"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandlers) getStatus(c *gin.Context) {
	b := h.bot

	a := b.api
	a.requestMetricsMu.Lock()
	requestCounts := make(map[string]int, len(a.requestMetrics))
	for route, ct := range a.requestMetrics {
		requestCounts[route] = ct
	}
	a.requestMetricsMu.Unlock()

	c.JSON(
		http.StatusOK, statusResponse{
			Version:          Version,
			StartedAt:        b.startedAt.Format(time.RFC3339),
			DiscordConnected: b.discord.connected.Load(),
			ActivePosts:      b.posts.Len(),
			WizardSessions:   b.sessions.Len(),
			Interactions:     b.metricInteractions.Load(),
			PostsPublished:   b.metricPostsPublished.Load(),
			PostsDeleted:     b.metricPostsDeleted.Load(),
			RequestCounts:    requestCounts,
		},
	)
}

func (h *APIHandlers) getPosts(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.posts.Snapshot())
}

func (h *APIHandlers) getSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.sessions.Snapshot())
}

// deletePost removes a post by message ID, including its channel
// message, same as the host pressing the delete button.
func (h *APIHandlers) deletePost(c *gin.Context) {
	postID := c.Param("id")
	if err := h.bot.lfg.Delete(postID); errors.Is(err, ErrPostNotFound) {
		c.AbortWithStatusJSON(
			http.StatusNotFound,
			httpError{Error: "post not found"},
		)
		return
	}
	h.bot.metricPostsDeleted.Add(1)
	ginReplyMessage(c, fmt.Sprintf("deleted post %s", postID))
}

// refreshPost re-renders a post's channel message from its current
// record, repairing a message that drifted from the roster state.
func (h *APIHandlers) refreshPost(c *gin.Context) {
	postID := c.Param("id")
	post, ok := h.bot.posts.Get(postID)
	if !ok {
		c.AbortWithStatusJSON(
			http.StatusNotFound,
			httpError{Error: "post not found"},
		)
		return
	}
	if err := h.bot.lfg.RefreshMessage(post); err != nil {
		h.logger.Error("error refreshing post message", tint.Err(err))
		ginReplyError(c, "error refreshing post message")
		return
	}
	ginReplyMessage(c, fmt.Sprintf("refreshed post %s", postID))
}

// clearLock drops a user's active-post lock without deleting anything,
// the same escape hatch as the /lfgunlock command.
func (h *APIHandlers) clearLock(c *gin.Context) {
	userID := c.Param("user_id")
	if !h.bot.posts.ClearLock(userID) {
		c.AbortWithStatusJSON(
			http.StatusNotFound,
			httpError{Error: "no lock held for user"},
		)
		return
	}
	ginReplyMessage(c, fmt.Sprintf("cleared lock for user %s", userID))
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	commands, err := h.bot.RegisterSlashCommands()
	if err != nil {
		h.logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusOK, commands)
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	h.logger.Warn("quit requested via api")
	ginReplyMessage(c, "shutting down")
	go h.bot.Stop()
}

// authMiddleware requires `Authorization: Bearer <token>` matching the
// configured API token.
func authMiddleware(config *APIConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare(
			[]byte(token),
			[]byte(config.Token),
		) != 1 {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request and echoes it in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request-scoped logger from the gin
// context, creating and caching one with request details if absent.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	existing, ok := c.Get(string(loggerContextKey))
	if ok {
		if requestLogger, isLogger := existing.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}

	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path and duration,
// plus any errors attached to the gin context.
func ginLoggingMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, a.logger)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message, with HTTP
// status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with an error message, with HTTP
// status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
