package sherpa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// unlockCommandUserOption is the name of the `/lfgunlock` user option.
const unlockCommandUserOption = "user"

// interactionResponseToUnlockCommand handles `/lfgunlock`, the admin
// escape hatch for a stuck active-post lock. It clears the lock without
// touching any post record, so a live post message keeps working.
func (b *Sherpa) interactionResponseToUnlockCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) *discordgo.InteractionResponse {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = b.logger
	}

	if !memberIsAdmin(i) {
		logger.WarnContext(ctx, "non-admin attempted unlock")
		return ephemeralResponse("You don't have permission to do that.")
	}

	var targetID string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == unlockCommandUserOption {
			targetID = opt.UserValue(nil).ID
		}
	}
	if targetID == "" {
		logger.ErrorContext(ctx, "unlock command missing user option")
		return ephemeralResponse(DefaultDiscordErrorMessage)
	}

	logger = logger.With(slog.String(columnUserID, targetID))
	if !b.posts.ClearLock(targetID) {
		logger.InfoContext(ctx, "no lock to clear")
		return ephemeralResponse(
			fmt.Sprintf("%s doesn't have an active LFG lock.", mention(targetID)),
		)
	}

	logger.InfoContext(ctx, "cleared active-post lock")
	return ephemeralResponse(
		fmt.Sprintf("Cleared the LFG lock for %s.", mention(targetID)),
	)
}
