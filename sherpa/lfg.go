package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// ErrSessionExpired indicates a wizard interaction arrived for a
	// session that no longer exists.
	ErrSessionExpired = errors.New("wizard session expired")

	// ErrDuplicatePost indicates the host already has an active post
	// (or one mid-publish).
	ErrDuplicatePost = errors.New("host already has an active post")

	// ErrPostNotFound indicates the referenced post record is gone.
	ErrPostNotFound = errors.New("post not found")

	// ErrForbidden indicates the caller may not perform the action on
	// this post.
	ErrForbidden = errors.New("not permitted")

	// ErrFireteamFull indicates a join was refused because the fireteam
	// is at capacity.
	ErrFireteamFull = errors.New("fireteam is full")

	// ErrUnchanged indicates a roster action that would not change the
	// roster (already in the target set).
	ErrUnchanged = errors.New("roster unchanged")
)

// RosterAction identifies one of the three roster buttons.
type RosterAction string

const (
	RosterJoin       RosterAction = "join"
	RosterInterested RosterAction = "interested"
	RosterDecline    RosterAction = "decline"
)

// reminderText is the message body sent ahead of a scheduled start.
const reminderText = "Reminder: The LFG event %q starts in 15 minutes."

// LFGManager owns the lifecycle of published posts: creating them from
// completed wizard sessions, applying roster changes, deleting them,
// and firing expiry/reminder timers.
//
// All state transitions happen under the PostStore's lock; Discord
// calls are made strictly outside of it.
type LFGManager struct {
	posts        *PostStore
	messenger    ChannelMessenger
	scheduler    Scheduler
	roles        *RoleConfig
	reminderLead time.Duration
	logger       *slog.Logger
}

func newLFGManager(
	posts *PostStore,
	messenger ChannelMessenger,
	scheduler Scheduler,
	roles *RoleConfig,
	reminderLead time.Duration,
	logger *slog.Logger,
) *LFGManager {
	if logger == nil {
		logger = slog.Default()
	}
	if reminderLead <= 0 {
		reminderLead = DefaultReminderLead
	}
	if roles == nil {
		roles = &RoleConfig{}
	}
	return &LFGManager{
		posts:        posts,
		messenger:    messenger,
		scheduler:    scheduler,
		roles:        roles,
		reminderLead: reminderLead,
		logger:       logger,
	}
}

// Publish turns a completed wizard session into a channel message and a
// tracked post. The host's active-post slot is reserved before any
// network call, so two concurrent publishes for the same host cannot
// both succeed.
func (m *LFGManager) Publish(
	ctx context.Context,
	session *WizardSession,
	duration time.Duration,
	channelID string,
) (*Post, error) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = m.logger
	}
	logger = logger.With(
		slog.String(columnUserID, session.UserID),
		slog.String("channel_id", channelID),
	)

	if !session.ReadyToPublish() {
		return nil, fmt.Errorf("session not ready to publish: %+v", session)
	}
	if !m.posts.Reserve(session.UserID) {
		logger.Warn("publish refused, host already has an active post")
		return nil, ErrDuplicatePost
	}

	now := time.Now()
	post := &Post{
		ChannelID:     channelID,
		Type:          session.Type,
		ActivityName:  session.ActivityName,
		Difficulty:    session.Difficulty,
		HostID:        session.UserID,
		HostName:      session.Username,
		PlayersNeeded: session.PlayersNeeded,
		Members:       []string{session.UserID},
		CreatedAt:     now,
		ExpiresAt:     now.Add(duration),
	}
	if session.Timing == TimingSchedule {
		post.StartAt = now.Add(session.StartIn)
	}

	content := fmt.Sprintf("%s is looking for a fireteam!", session.Username)
	if roleMention := m.roles.Mention(session.Type); roleMention != "" {
		content = roleMention + " " + content
	}

	msg, err := m.messenger.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Content:    content,
			Embeds:     []*discordgo.MessageEmbed{postEmbed(post)},
			Components: rosterComponents(),
		},
	)
	if err != nil {
		m.posts.Release(session.UserID)
		logger.Error("error sending post message", tint.Err(err))
		return nil, fmt.Errorf("error sending post message: %w", err)
	}

	post.ID = msg.ID
	m.posts.Create(post)

	postID := post.ID
	m.scheduler.AfterFunc(
		duration, func() {
			if err := m.Expire(postID); err != nil {
				m.logger.Warn(
					"error expiring post",
					slog.String(columnPostID, postID),
					tint.Err(err),
				)
			}
		},
	)
	if session.Timing == TimingSchedule {
		if lead := session.StartIn - m.reminderLead; lead > 0 {
			m.scheduler.AfterFunc(
				lead, func() {
					m.Remind(postID)
				},
			)
		}
	}

	logger.Info("published post", "post", post)
	created, _ := m.posts.Get(postID)
	return created, nil
}

// Apply performs a roster transition for the given user. The three
// roster sets stay pairwise disjoint: moving into one set removes the
// user from the other two. Join enforces capacity; re-selecting the
// set the user is already in returns ErrUnchanged.
func (m *LFGManager) Apply(
	postID string,
	userID string,
	action RosterAction,
) (*Post, error) {
	var applyErr error
	post, ok := m.posts.Mutate(
		postID, func(p *Post) {
			switch action {
			case RosterJoin:
				if slices.Contains(p.Members, userID) {
					applyErr = ErrUnchanged
					return
				}
				if p.Full() {
					applyErr = ErrFireteamFull
					return
				}
				p.Interested = removeID(p.Interested, userID)
				p.Declined = removeID(p.Declined, userID)
				p.Members = append(p.Members, userID)
			case RosterInterested:
				if slices.Contains(p.Interested, userID) {
					applyErr = ErrUnchanged
					return
				}
				if userID == p.HostID {
					applyErr = ErrForbidden
					return
				}
				p.Members = removeID(p.Members, userID)
				p.Declined = removeID(p.Declined, userID)
				p.Interested = append(p.Interested, userID)
			case RosterDecline:
				if slices.Contains(p.Declined, userID) {
					applyErr = ErrUnchanged
					return
				}
				if userID == p.HostID {
					applyErr = ErrForbidden
					return
				}
				p.Members = removeID(p.Members, userID)
				p.Interested = removeID(p.Interested, userID)
				p.Declined = append(p.Declined, userID)
			}
		},
	)
	if !ok {
		return nil, ErrPostNotFound
	}
	if applyErr != nil {
		return post, applyErr
	}

	m.logger.Info(
		"applied roster action",
		slog.String(columnPostID, postID),
		slog.String(columnUserID, userID),
		slog.String("action", string(action)),
	)
	return post, nil
}

// Delete forgets the post record, releasing the host's active-post
// slot, then removes the channel message. The record is authoritative:
// a failed message delete is logged and the post is still gone, so the
// only error is ErrPostNotFound. Callers enforce permissions.
func (m *LFGManager) Delete(postID string) error {
	post, ok := m.posts.Delete(postID)
	if !ok {
		return ErrPostNotFound
	}

	err := m.messenger.ChannelMessageDelete(post.ChannelID, post.ID)
	if err != nil && !isUnknownMessage(err) {
		m.logger.Error(
			"error deleting post message, record removed anyway",
			slog.String(columnPostID, postID),
			tint.Err(err),
		)
	}

	m.logger.Info("deleted post", slog.String(columnPostID, postID))
	return nil
}

// Expire is the timer callback for a post reaching the end of its
// lifetime. A post already deleted is a no-op.
func (m *LFGManager) Expire(postID string) error {
	err := m.Delete(postID)
	if errors.Is(err, ErrPostNotFound) {
		return nil
	}
	return err
}

// Remind notifies everyone on the roster (members and interested,
// deduplicated) that a scheduled post starts soon. A post deleted
// before the timer fires is a no-op.
func (m *LFGManager) Remind(postID string) {
	post, ok := m.posts.Get(postID)
	if !ok {
		return
	}

	recipients := post.Members
	for _, id := range post.Interested {
		if !slices.Contains(recipients, id) {
			recipients = append(recipients, id)
		}
	}

	content := fmt.Sprintf(reminderText, post.ActivityName)
	if len(recipients) > 0 {
		content = mentionList(recipients) + "\n" + content
	}
	if _, err := m.messenger.ChannelMessageSend(post.ChannelID, content); err != nil {
		m.logger.Error(
			"error sending reminder",
			slog.String(columnPostID, postID),
			tint.Err(err),
		)
		return
	}
	m.logger.Info("sent reminder", slog.String(columnPostID, postID))
}

// RefreshMessage re-renders a post's channel message after a roster
// change.
func (m *LFGManager) RefreshMessage(post *Post) error {
	components := rosterComponents()
	_, err := m.messenger.ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         post.ID,
			Channel:    post.ChannelID,
			Embeds:     &[]*discordgo.MessageEmbed{postEmbed(post)},
			Components: &components,
		},
	)
	if err != nil {
		return fmt.Errorf("error editing post message: %w", err)
	}
	return nil
}

func removeID(ids []string, userID string) []string {
	return slices.DeleteFunc(
		ids, func(id string) bool {
			return id == userID
		},
	)
}

// isUnknownMessage reports whether err is Discord's "Unknown Message"
// REST error, returned when the message was already deleted.
func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownMessage
	}
	return false
}
