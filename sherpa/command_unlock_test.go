package sherpa

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnlockInteraction(
	t testing.TB,
	admin *discordgo.User,
	targetID string,
) *discordgo.InteractionCreate {
	t.Helper()
	i := newCommandInteraction(
		t,
		admin,
		DiscordSlashCommandUnlock,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  unlockCommandUserOption,
			Type:  discordgo.ApplicationCommandOptionUser,
			Value: targetID,
		},
	)
	i.Member.Permissions = discordgo.PermissionAdministrator
	return i
}

func TestUnlockRequiresAdmin(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	u := newDiscordUser(t)
	i := newUnlockInteraction(t, u, "target_1")
	i.Member.Permissions = 0

	rv := bot.interactionResponseToUnlockCommand(context.Background(), i)
	require.NotNil(t, rv)
	assert.Contains(t, rv.Data.Content, "don't have permission")
}

func TestUnlockNoActiveLock(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	admin := newDiscordUser(t)
	i := newUnlockInteraction(t, admin, "target_1")

	rv := bot.interactionResponseToUnlockCommand(context.Background(), i)
	require.NotNil(t, rv)
	assert.Contains(t, rv.Data.Content, "doesn't have an active LFG lock")
}

// Clearing a lock frees the host to publish again while leaving the
// existing post record (and its message) intact.
func TestUnlockClearsLock(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	host := newDiscordUser(t)
	post, _ := publishTestPost(t, bot, host)
	require.True(t, bot.posts.HasActivePost(host.ID))

	admin := &discordgo.User{ID: "admin_1"}
	i := newUnlockInteraction(t, admin, host.ID)
	rv := bot.interactionResponseToUnlockCommand(context.Background(), i)
	require.NotNil(t, rv)
	assert.Contains(t, rv.Data.Content, "Cleared the LFG lock")
	assert.Contains(t, rv.Data.Content, mention(host.ID))

	assert.False(t, bot.posts.HasActivePost(host.ID))
	_, ok := bot.posts.Get(post.ID)
	assert.True(t, ok, "post record survives an unlock")
}
