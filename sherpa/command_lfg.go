package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// User-facing wizard and roster messages.
const (
	messageSessionExpired  = "Session expired. Please use /lfg again."
	messageWizardCanceled  = "LFG creation canceled."
	messagePostGone        = "This LFG is no longer active."
	messageFireteamFull    = "That fireteam is already full."
	messageHostCannotLeave = "You're the host! Delete the post if you can't make it."
	messageDeleteForbidden = "Only the host (or an admin) can delete this post."
	messageRateLimited     = "You're starting LFGs too quickly. Give it a few seconds."
	messagePublishFailed   = "Something went wrong posting your LFG. Please try again."
)

func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// wizardPrompt builds an UpdateMessage response, editing the ephemeral
// wizard message in place with the next step's prompt.
func wizardPrompt(
	content string,
	components []discordgo.MessageComponent,
) *discordgo.InteractionResponse {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	}
}

// postGoneResponse rewrites a stale post message to its terminal state,
// dropping the embed and buttons so it can't be interacted with again.
func postGoneResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    messagePostGone,
			Embeds:     []*discordgo.MessageEmbed{},
			Components: []discordgo.MessageComponent{},
		},
	}
}

// interactionResponseToLFGCommand handles `/lfg`: it refuses if the user
// already has an active post, enforces the wizard-start rate limit, then
// creates a fresh wizard session and prompts for the activity type.
func (b *Sherpa) interactionResponseToLFGCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) *discordgo.InteractionResponse {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = b.logger
	}
	logger = logger.With(slog.String(columnUserID, user.ID))

	if postID, ok := b.posts.ActivePostID(user.ID); ok {
		content := "You already have an active LFG post."
		if post, found := b.posts.Get(postID); found {
			content = fmt.Sprintf(
				"You already have an active LFG post. Your active post is for: %s",
				post.ActivityName,
			)
		}
		logger.InfoContext(ctx, "refused wizard start, active post exists")
		return ephemeralResponse(content)
	}

	if !b.wizardLimiter(user.ID).Allow() {
		logger.WarnContext(ctx, "wizard start rate limited")
		return ephemeralResponse(messageRateLimited)
	}

	session := b.sessions.Create(user.ID, user.Username)
	logger.InfoContext(ctx, "started wizard session", "session", session)

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    "What type of activity are you looking to run?",
			Components: activityTypeComponents(),
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	}
}

// interactionResponseToMessageComponent routes button and select-menu
// interactions: wizard steps by custom ID prefix, roster buttons by the
// message the button is attached to.
func (b *Sherpa) interactionResponseToMessageComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) (*discordgo.InteractionResponse, error) {
	data := i.MessageComponentData()
	customID := data.CustomID

	switch {
	case customID == customIDJoin,
		customID == customIDInterested,
		customID == customIDDecline:
		return b.wizardRosterAction(ctx, i, user, customID)
	case customID == customIDDelete:
		return b.wizardDeletePost(ctx, i, user)
	case customID == customIDCancel:
		b.sessions.Delete(user.ID)
		return wizardPrompt(messageWizardCanceled, nil), nil
	case strings.HasPrefix(customID, customIDTypePrefix):
		return b.wizardSelectType(
			ctx,
			user,
			ActivityType(strings.TrimPrefix(customID, customIDTypePrefix)),
		)
	case customID == customIDRaidSelect:
		if len(data.Values) == 0 {
			return nil, fmt.Errorf("raid select interaction without values")
		}
		return b.wizardSelectRaid(ctx, user, data.Values[0])
	case customID == customIDNightfallSelect:
		if len(data.Values) == 0 {
			return nil, fmt.Errorf("nightfall select interaction without values")
		}
		return b.wizardSelectDifficulty(ctx, user, data.Values[0])
	case strings.HasPrefix(customID, customIDRaidDiffPrefix):
		difficulty := strings.TrimPrefix(customID, customIDRaidDiffPrefix)
		switch difficulty {
		case "normal":
			difficulty = "Normal"
		case "master":
			difficulty = "Master"
		default:
			return nil, fmt.Errorf("unknown raid difficulty %q", difficulty)
		}
		return b.wizardSelectDifficulty(ctx, user, difficulty)
	case strings.HasPrefix(customID, customIDPlayersPrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(customID, customIDPlayersPrefix))
		if err != nil {
			return nil, fmt.Errorf("bad player count custom ID %q: %w", customID, err)
		}
		return b.wizardSelectPlayerCount(ctx, user, n)
	case customID == customIDWhenNow:
		return b.wizardSelectTiming(ctx, user, TimingNow, 0)
	case customID == customIDWhenSchedule:
		return wizardPrompt(
			"When does the event start?",
			scheduleOffsetComponents(),
		), nil
	case strings.HasPrefix(customID, customIDStartInPrefix):
		label := strings.TrimPrefix(customID, customIDStartInPrefix)
		offset, ok := durationByLabel(ScheduleOptions, label)
		if !ok {
			return nil, fmt.Errorf("unknown schedule offset %q", label)
		}
		return b.wizardSelectTiming(ctx, user, TimingSchedule, offset)
	case strings.HasPrefix(customID, customIDDurationPrefix):
		label := strings.TrimPrefix(customID, customIDDurationPrefix)
		duration, ok := durationByLabel(DurationOptions, label)
		if !ok {
			return nil, fmt.Errorf("unknown duration %q", label)
		}
		return b.wizardPublish(ctx, i, user, duration)
	}

	return nil, fmt.Errorf("unknown component custom ID %q", customID)
}

func (b *Sherpa) wizardSelectType(
	ctx context.Context,
	user *discordgo.User,
	activityType ActivityType,
) (*discordgo.InteractionResponse, error) {
	activity, ok := Activities[activityType]
	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", activityType)
	}

	session, ok := b.sessions.Update(
		user.ID, func(s *WizardSession) {
			s.Type = activityType
			s.MaxFireteamSize = activity.MaxFireteamSize
			if activityType != ActivityRaid {
				s.ActivityName = activity.Name
			}
			if len(activity.Difficulties) == 1 && activity.Difficulties[0] == "N/A" {
				s.Difficulty = "N/A"
			}
		},
	)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}

	switch activityType {
	case ActivityRaid:
		return wizardPrompt("Which raid?", raidSelectComponents()), nil
	case ActivityNightfall:
		return wizardPrompt(
			"What difficulty?",
			nightfallDifficultyComponents(),
		), nil
	default:
		return wizardPrompt(
			"How many more players do you need?",
			playerCountComponents(session.MaxFireteamSize-1),
		), nil
	}
}

func (b *Sherpa) wizardSelectRaid(
	ctx context.Context,
	user *discordgo.User,
	raidName string,
) (*discordgo.InteractionResponse, error) {
	_, ok := b.sessions.Update(
		user.ID, func(s *WizardSession) {
			s.ActivityName = raidName
		},
	)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}
	return wizardPrompt("What difficulty?", raidDifficultyComponents()), nil
}

func (b *Sherpa) wizardSelectDifficulty(
	ctx context.Context,
	user *discordgo.User,
	difficulty string,
) (*discordgo.InteractionResponse, error) {
	session, ok := b.sessions.Update(
		user.ID, func(s *WizardSession) {
			s.Difficulty = difficulty
		},
	)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}
	return wizardPrompt(
		"How many more players do you need?",
		playerCountComponents(session.MaxFireteamSize-1),
	), nil
}

func (b *Sherpa) wizardSelectPlayerCount(
	ctx context.Context,
	user *discordgo.User,
	playersNeeded int,
) (*discordgo.InteractionResponse, error) {
	var invalid bool
	_, ok := b.sessions.Update(
		user.ID, func(s *WizardSession) {
			if playersNeeded < 1 || playersNeeded > s.MaxFireteamSize-1 {
				invalid = true
				return
			}
			s.PlayersNeeded = playersNeeded
		},
	)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}
	if invalid {
		return nil, fmt.Errorf("player count %d out of range", playersNeeded)
	}
	return wizardPrompt(
		"Is the event starting now, or later?",
		timingComponents(),
	), nil
}

func (b *Sherpa) wizardSelectTiming(
	ctx context.Context,
	user *discordgo.User,
	timing TimingMode,
	startIn time.Duration,
) (*discordgo.InteractionResponse, error) {
	_, ok := b.sessions.Update(
		user.ID, func(s *WizardSession) {
			s.Timing = timing
			s.StartIn = startIn
		},
	)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}
	return wizardPrompt(
		"How long should the post stay up?",
		durationComponents(),
	), nil
}

// wizardPublish is the terminal wizard step: the session is consumed and
// the post is published in the channel the wizard was started in. The
// session is destroyed whether publishing succeeds or not.
func (b *Sherpa) wizardPublish(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	duration time.Duration,
) (*discordgo.InteractionResponse, error) {
	logger, haveLogger := ContextLogger(ctx)
	if !haveLogger {
		logger = b.logger
	}
	logger = logger.With(slog.String(columnUserID, user.ID))

	session, ok := b.sessions.Get(user.ID)
	if !ok {
		return wizardPrompt(messageSessionExpired, nil), nil
	}
	snapshot := *session
	b.sessions.Delete(user.ID)

	post, err := b.lfg.Publish(ctx, &snapshot, duration, i.ChannelID)
	switch {
	case errors.Is(err, ErrDuplicatePost):
		content := "You already have an active LFG post."
		if activeID, found := b.posts.ActivePostID(user.ID); found {
			if active, haveRecord := b.posts.Get(activeID); haveRecord {
				content = fmt.Sprintf(
					"You already have an active LFG post. Your active post is for: %s",
					active.ActivityName,
				)
			}
		}
		return wizardPrompt(content, nil), nil
	case err != nil:
		logger.ErrorContext(ctx, "error publishing post", tint.Err(err))
		return wizardPrompt(messagePublishFailed, nil), nil
	}

	b.metricPostsPublished.Add(1)
	return wizardPrompt(
		fmt.Sprintf("LFG posted! Good luck in %s.", post.ActivityName),
		nil,
	), nil
}

// wizardRosterAction handles the Join/Interested/Decline buttons on a
// published post. Roster changes re-render the post message in place;
// no-ops and refusals get an ephemeral explanation instead, and a post
// whose record is gone has its message rewritten to the terminal state.
func (b *Sherpa) wizardRosterAction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	customID string,
) (*discordgo.InteractionResponse, error) {
	if i.Message == nil {
		return nil, fmt.Errorf("roster interaction without message")
	}
	postID := i.Message.ID

	var action RosterAction
	switch customID {
	case customIDJoin:
		action = RosterJoin
	case customIDInterested:
		action = RosterInterested
	case customIDDecline:
		action = RosterDecline
	}

	post, err := b.lfg.Apply(postID, user.ID, action)
	switch {
	case errors.Is(err, ErrPostNotFound):
		return postGoneResponse(), nil
	case errors.Is(err, ErrUnchanged):
		return ephemeralResponse(
			fmt.Sprintf("You're already marked as %q on this post.", action),
		), nil
	case errors.Is(err, ErrFireteamFull):
		return ephemeralResponse(messageFireteamFull), nil
	case errors.Is(err, ErrForbidden):
		return ephemeralResponse(messageHostCannotLeave), nil
	case err != nil:
		return nil, err
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{postEmbed(post)},
			Components: rosterComponents(),
		},
	}, nil
}

// wizardDeletePost handles the Delete button on a published post. Only
// the host or a server admin may delete.
func (b *Sherpa) wizardDeletePost(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) (*discordgo.InteractionResponse, error) {
	if i.Message == nil {
		return nil, fmt.Errorf("delete interaction without message")
	}
	postID := i.Message.ID

	post, ok := b.posts.Get(postID)
	if !ok {
		return postGoneResponse(), nil
	}
	if user.ID != post.HostID && !memberIsAdmin(i) {
		return ephemeralResponse(messageDeleteForbidden), nil
	}

	if err := b.lfg.Delete(postID); err != nil {
		// lost a race with expiry or another delete
		return postGoneResponse(), nil
	}
	b.metricPostsDeleted.Add(1)

	return ephemeralResponse(
		fmt.Sprintf("Deleted your LFG post for %s.", post.ActivityName),
	), nil
}
