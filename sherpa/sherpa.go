package sherpa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Build metadata, set via ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var defaultLogWriter io.Writer = os.Stdout

// Sherpa is the main bot instance. It wires together the Discord
// gateway connection, the wizard session store, the LFG post store and
// lifecycle manager, and the admin HTTP API.
type Sherpa struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	api       *API
	sessions  *SessionStore
	posts     *PostStore
	lfg       *LFGManager
	scheduler Scheduler

	startedAt time.Time

	// runMu prevents concurrent Run calls
	runMu sync.Mutex

	// signalStop is used to trigger a graceful shutdown, either from an
	// interrupt or the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady receives a signal when the bot has finished starting
	signalReady chan struct{}

	// eventShutdown receives a signal when shutdown has completed
	eventShutdown chan struct{}

	// wizardLimiters rate-limits `/lfg` per user
	wizardLimiters  map[string]*wizardLimiterEntry
	wizardLimiterMu sync.Mutex

	metricInteractions   atomic.Int64
	metricPostsPublished atomic.Int64
	metricPostsDeleted   atomic.Int64

	// getInteractionHandlerFunc returns the handler wrapping incoming
	// interactions. Overridden in tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a new Sherpa instance with the given configuration.
func New(config *Config) (*Sherpa, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Sherpa{
		config:         config,
		signalReady:    make(chan struct{}, 1),
		eventShutdown:  make(chan struct{}, 1),
		wizardLimiters: map[string]*wizardLimiterEntry{},
		scheduler:      NewScheduler(),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc := newDiscord(b.config.Discord)
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	b.discord = disc
	disc.bot = b

	b.sessions = NewSessionStore(
		b.config.SessionIdleTimeout,
		b.scheduler,
		b.logger.With(loggerNameKey, "sessions"),
	)
	b.posts = NewPostStore(b.logger.With(loggerNameKey, "posts"))
	b.lfg = newLFGManager(
		b.posts,
		nil, // set once the discord session exists
		b.scheduler,
		&b.config.Discord.Roles,
		b.config.ReminderLead,
		b.logger.With(loggerNameKey, "lfg"),
	)

	api, err := newAPI(b, config.API)
	errs = append(errs, err)
	b.api = api

	return b, errors.Join(errs...)
}

func (b *Sherpa) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands registers the bot's slash commands with Discord.
func (b *Sherpa) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(options...)
}

const (
	// wizardLimiterMaxIdle is how long an untouched per-user limiter is
	// kept before it's eligible for sweeping.
	wizardLimiterMaxIdle = time.Hour

	wizardLimiterSweepInterval = 10 * time.Minute
)

// wizardLimiterEntry pairs a user's rate limiter with the last time it
// was used, so long-idle entries can be swept.
type wizardLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// wizardLimiter returns the rate limiter governing how often the given
// user can start the LFG wizard.
func (b *Sherpa) wizardLimiter(userID string) *rate.Limiter {
	b.wizardLimiterMu.Lock()
	defer b.wizardLimiterMu.Unlock()

	entry := b.wizardLimiters[userID]
	if entry == nil {
		entry = &wizardLimiterEntry{
			limiter: rate.NewLimiter(
				rate.Every(DefaultWizardStartInterval),
				DefaultWizardStartBurst,
			),
		}
		b.wizardLimiters[userID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// sweepWizardLimiters drops limiter entries idle for at least maxIdle
// and returns the number removed.
func (b *Sherpa) sweepWizardLimiters(maxIdle time.Duration) int {
	b.wizardLimiterMu.Lock()
	defer b.wizardLimiterMu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for userID, entry := range b.wizardLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(b.wizardLimiters, userID)
			removed++
		}
	}
	return removed
}

// Run starts the bot and blocks until the given context is canceled, a
// stop signal arrives, or startup fails.
func (b *Sherpa) Run(ctx context.Context) error {
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

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// runtime context - cancellation triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			b.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			b.logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		httpErr := b.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			b.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	go func() {
		ticker := time.NewTicker(wizardLimiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := b.sweepWizardLimiters(wizardLimiterMaxIdle); removed > 0 {
					b.logger.DebugContext(
						ctx,
						"swept idle wizard limiters",
						"removed", removed,
					)
				}
			}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.discordInit(ctx, runtimeWG)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	b.signalReady <- struct{}{}
	b.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return b.shutdown(ctx, runtimeWG)
}

// discordInit creates the discord session, registers event handlers,
// opens the websocket connection, and registers the slash commands.
func (b *Sherpa) discordInit(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		b.discord.session = session
	}
	b.lfg.messenger = b.discord.session

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := b.getInteractionHandler(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := b.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if b.config.Discord.CustomStatus != "" {
		go func() {
			if statusErr := b.discord.updateCustomStatus(
				b.config.Discord.CustomStatus,
			); statusErr != nil {
				b.logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

func (b *Sherpa) getInteractionHandler(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) InteractionHandler {
	if b.getInteractionHandlerFunc != nil {
		return b.getInteractionHandlerFunc(ctx, i)
	}
	return GatewayHandler{
		session:     b.discord.session,
		interaction: i,
		logger: b.logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
		),
	}
}

// Stop triggers a graceful shutdown.
func (b *Sherpa) Stop() {
	if b.signalStop != nil {
		b.signalStop <- struct{}{}
	}
}

func (b *Sherpa) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	b.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	defer func() {
		if b.eventShutdown != nil {
			go func() {
				b.eventShutdown <- struct{}{}
			}()
		}
	}()

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer closeCancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait() // wait for in-flight interaction handlers
		doneCh <- struct{}{}
	}()

	select {
	case <-doneCh:
		//
	case <-closeCtx.Done():
		b.logger.Warn("in-flight interactions did not finish in time")
	}

	eg, egCtx := errgroup.WithContext(closeCtx)
	eg.Go(
		func() error {
			if b.discord.session == nil {
				return nil
			}
			b.logger.InfoContext(egCtx, "closing discord session")
			err := b.discord.session.Close()
			for _, h := range b.discord.discordgoRemoveHandlerFuncs {
				h()
			}
			b.logger.InfoContext(egCtx, "discord session closed")
			return err
		},
	)
	eg.Go(
		func() error {
			if b.api == nil || b.api.httpServer == nil {
				return nil
			}
			b.logger.InfoContext(egCtx, "stopping http server")
			err := b.api.httpServer.Shutdown(closeCtx)
			b.logger.InfoContext(egCtx, "http server stopped")
			return err
		},
	)

	err := eg.Wait()
	shutdownEnded := time.Now()
	b.logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_ended", shutdownEnded,
		"shutdown_duration", shutdownEnded.Sub(shutdownStart),
	)
	return err
}

// handleInteraction routes an incoming interaction to the appropriate
// command or component handler and sends the response.
func (b *Sherpa) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	defer b.handleRecover(ctx, handler)
	b.metricInteractions.Add(1)

	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}
	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		"user", structToSlogValue(discordUser),
	)

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		var rv *discordgo.InteractionResponse
		switch commandName := i.ApplicationCommandData().Name; commandName {
		case DiscordSlashCommandLFG:
			rv = b.interactionResponseToLFGCommand(ctx, i, discordUser)
		case DiscordSlashCommandUnlock:
			rv = b.interactionResponseToUnlockCommand(ctx, i)
		default:
			logger.WarnContext(
				ctx,
				"unknown command",
				"command_name", commandName,
			)
		}
		if rv != nil {
			if responseErr := handler.Respond(ctx, rv); responseErr != nil {
				logger.ErrorContext(
					ctx,
					"error responding to command interaction",
					tint.Err(responseErr),
				)
			}
		}
	case discordgo.InteractionMessageComponent:
		rv, e := b.interactionResponseToMessageComponent(ctx, i, discordUser)
		if e != nil {
			logger.ErrorContext(ctx, "error with component response", tint.Err(e))
			if rv == nil {
				rv = ephemeralResponse(DefaultDiscordErrorMessage)
			}
		}
		if rv != nil {
			if responseErr := handler.Respond(ctx, rv); responseErr != nil {
				logger.ErrorContext(
					ctx,
					"error responding to component interaction",
					tint.Err(responseErr),
				)
			}
		}
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type)
	}
}

// handleRecover responds with a generic error message if an interaction
// handler panics, so the user doesn't just see "This interaction failed".
func (b *Sherpa) handleRecover(ctx context.Context, handler InteractionHandler) {
	rc := recover()
	if rc == nil {
		return
	}
	b.logger.ErrorContext(
		ctx,
		"recovered from panic handling interaction",
		"panic", rc,
		"stack", string(debug.Stack()),
	)
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: DefaultDiscordErrorMessage,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// InteractionHandler abstracts responding to a Discord interaction, so
// command handlers can be exercised without a live gateway connection.
type InteractionHandler interface {
	// Respond sends the response to the interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received over the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
