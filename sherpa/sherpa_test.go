package sherpa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()

	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app_%s", t.Name())
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Token = "kl4hjsdfkl4hjklfdshjkl4seIUHSifhse"
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

// fakeTimer is one armed timer within a fakeScheduler.
type fakeTimer struct {
	when    time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// fakeScheduler implements Scheduler on a virtual clock. Timers only
// fire when the test calls advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) AfterFunc(
	delay time.Duration,
	fn func(),
) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := &fakeTimer{when: s.now + delay, fn: fn}
	s.timers = append(s.timers, timer)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if timer.stopped || timer.fired {
			return false
		}
		timer.stopped = true
		return true
	}
}

// advance moves the virtual clock forward, firing due timers in order.
// Callbacks run outside the scheduler lock, so they may arm new timers.
func (s *fakeScheduler) advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTimer
		for _, timer := range s.timers {
			if timer.stopped || timer.fired || timer.when > now {
				continue
			}
			if next == nil || timer.when < next.when {
				next = timer
			}
		}
		if next != nil {
			next.fired = true
		}
		s.mu.Unlock()

		if next == nil {
			return
		}
		next.fn()
	}
}

// pending returns the number of armed, unfired timers.
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct := 0
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			ct++
		}
	}
	return ct
}

type sentMessage struct {
	ChannelID string
	Content   string
	Data      *discordgo.MessageSend
}

type deletedMessage struct {
	ChannelID string
	MessageID string
}

// mockMessenger implements ChannelMessenger, recording every call and
// assigning sequential message IDs to sends.
type mockMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []*discordgo.MessageEdit
	deleted []deletedMessage

	sendErr   error
	editErr   error
	deleteErr error
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{}
}

func (m *mockMessenger) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.nextID++
	m.sent = append(
		m.sent,
		sentMessage{ChannelID: channelID, Content: message},
	)
	return &discordgo.Message{
		ID:        fmt.Sprintf("message_%d", m.nextID),
		ChannelID: channelID,
	}, nil
}

func (m *mockMessenger) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.nextID++
	m.sent = append(
		m.sent,
		sentMessage{ChannelID: channelID, Content: data.Content, Data: data},
	)
	return &discordgo.Message{
		ID:        fmt.Sprintf("message_%d", m.nextID),
		ChannelID: channelID,
	}, nil
}

func (m *mockMessenger) ChannelMessageEditComplex(
	edit *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, edit)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

func (m *mockMessenger) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(
		m.deleted,
		deletedMessage{ChannelID: channelID, MessageID: messageID},
	)
	return nil
}

func (m *mockMessenger) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]sentMessage, len(m.sent))
	copy(rv, m.sent)
	return rv
}

func (m *mockMessenger) deletedMessages() []deletedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]deletedMessage, len(m.deleted))
	copy(rv, m.deleted)
	return rv
}

// newTestBot creates a Sherpa instance backed by a fake scheduler and
// mock messenger, with no live Discord or HTTP connections.
func newTestBot(t testing.TB) (*Sherpa, *fakeScheduler, *mockMessenger) {
	t.Helper()

	cfg := DefaultTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)

	scheduler := newFakeScheduler()
	messenger := newMockMessenger()

	logger := slog.Default().With("test_name", t.Name())
	bot.scheduler = scheduler
	bot.sessions = NewSessionStore(
		cfg.SessionIdleTimeout,
		scheduler,
		logger,
	)
	bot.posts = NewPostStore(logger)
	bot.lfg = newLFGManager(
		bot.posts,
		messenger,
		scheduler,
		&cfg.Discord.Roles,
		cfg.ReminderLead,
		logger,
	)
	return bot, scheduler, messenger
}

func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         t.Name(),
		Username:   fmt.Sprintf("u_%s", t.Name()),
		GlobalName: fmt.Sprintf("g_%s", t.Name()),
	}
}

// newCommandInteraction creates an application command interaction, as
// it would arrive from a guild member.
func newCommandInteraction(
	t testing.TB,
	u *discordgo.User,
	commandName string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			ID:        fmt.Sprintf("interaction_%s", t.Name()),
			ChannelID: fmt.Sprintf("channel_%s", t.Name()),
			Member:    &discordgo.Member{User: u},
			Data: discordgo.ApplicationCommandInteractionData{
				CommandType: discordgo.ChatApplicationCommand,
				Name:        commandName,
				Options:     options,
			},
		},
	}
}

// newComponentInteraction creates a message component interaction for
// the given custom ID, optionally attached to a message.
func newComponentInteraction(
	t testing.TB,
	u *discordgo.User,
	customID string,
	message *discordgo.Message,
	values ...string,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			ID:        fmt.Sprintf("interaction_%s_%s", t.Name(), customID),
			ChannelID: fmt.Sprintf("channel_%s", t.Name()),
			Member:    &discordgo.Member{User: u},
			Message:   message,
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
				Values:   values,
			},
		},
	}
}

func newStubInteractionHandler(t testing.TB) stubInteractionHandler {
	t.Helper()
	return stubInteractionHandler{
		callRespond: make(chan *discordgo.InteractionResponse, 100),
		logger:      slog.Default().With("test_name", t.Name()),
	}
}

type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	callRespond chan *discordgo.InteractionResponse
}

func (s stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	return nil
}

func (s stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, bot.ValidateConfig())

	cfg.Discord.Token = ""
	assert.Error(t, bot.ValidateConfig())
}

func TestWizardLimiterPerUser(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	first := bot.wizardLimiter("user_a")
	second := bot.wizardLimiter("user_b")
	assert.NotSame(t, first, second)
	assert.Same(t, first, bot.wizardLimiter("user_a"))
}

func TestWizardLimiterSweep(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	bot.wizardLimiter("user_idle")
	bot.wizardLimiter("user_active")

	bot.wizardLimiterMu.Lock()
	bot.wizardLimiters["user_idle"].lastSeen = time.Now().
		Add(-2 * wizardLimiterMaxIdle)
	bot.wizardLimiterMu.Unlock()

	assert.Equal(t, 1, bot.sweepWizardLimiters(wizardLimiterMaxIdle))

	bot.wizardLimiterMu.Lock()
	defer bot.wizardLimiterMu.Unlock()
	assert.NotContains(t, bot.wizardLimiters, "user_idle")
	assert.Contains(t, bot.wizardLimiters, "user_active")
}

func TestHandleInteractionIgnoresBots(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	u := newDiscordUser(t)
	u.Bot = true
	i := newCommandInteraction(t, u, DiscordSlashCommandLFG)

	handler := newStubInteractionHandler(t)
	handler.interaction = i
	bot.handleInteraction(context.Background(), handler)

	select {
	case rv := <-handler.callRespond:
		t.Fatalf("expected no response, got: %#v", rv)
	default:
		//
	}
	assert.Zero(t, bot.sessions.Len())
}

func TestHandleInteractionPing(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	handler := newStubInteractionHandler(t)
	handler.interaction = &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionPing,
			User: newDiscordUser(t),
		},
	}
	bot.handleInteraction(context.Background(), handler)

	rv := <-handler.callRespond
	assert.Equal(t, discordgo.InteractionResponsePong, rv.Type)
}

// A component handler error with no response of its own still gets a
// generic ephemeral reply, instead of leaving the interaction hanging.
func TestHandleInteractionComponentErrorReply(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	u := newDiscordUser(t)
	i := newComponentInteraction(t, u, "lfg_bogus", nil)
	handler := newStubInteractionHandler(t)
	handler.interaction = i
	bot.handleInteraction(context.Background(), handler)

	rv := <-handler.callRespond
	require.NotNil(t, rv.Data)
	assert.Equal(t, DefaultDiscordErrorMessage, rv.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, rv.Data.Flags)
}

func TestHandleInteractionRecoversFromPanic(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	u := newDiscordUser(t)
	// a component interaction with no data payload panics on
	// MessageComponentData
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionMessageComponent,
			Member: &discordgo.Member{User: u},
		},
	}
	handler := newStubInteractionHandler(t)
	handler.interaction = i

	require.NotPanics(
		t, func() {
			bot.handleInteraction(context.Background(), handler)
		},
	)
	rv := <-handler.callRespond
	require.NotNil(t, rv.Data)
	assert.Equal(t, DefaultDiscordErrorMessage, rv.Data.Content)
}

func TestStatusMetrics(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	bot.metricInteractions.Add(3)
	bot.metricPostsPublished.Add(2)
	bot.metricPostsDeleted.Add(1)

	assert.Equal(t, int64(3), bot.metricInteractions.Load())
	assert.Equal(t, int64(2), bot.metricPostsPublished.Load())
	assert.Equal(t, int64(1), bot.metricPostsDeleted.Load())
}

var _ ChannelMessenger = (*mockMessenger)(nil)
var _ Scheduler = (*fakeScheduler)(nil)
