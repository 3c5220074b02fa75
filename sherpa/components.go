package sherpa

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// discordMaxButtonsPerActionRow defines the maximum number of
	// buttons allowed per action row in Discord interactions.
	discordMaxButtonsPerActionRow = 5

	// embedColor is the blurple used for LFG post embeds.
	embedColor = 0x5865f2
)

// Component custom IDs. Wizard steps and roster buttons are all routed
// on these; the prefixed IDs carry their payload after the prefix.
const (
	customIDCancel          = "lfg_cancel"
	customIDTypePrefix      = "lfg_type_"
	customIDRaidSelect      = "lfg_raid_select"
	customIDNightfallSelect = "lfg_nightfall_select"
	customIDRaidDiffPrefix  = "lfg_raid_diff_"
	customIDPlayersPrefix   = "lfg_players_"
	customIDWhenNow         = "lfg_when_now"
	customIDWhenSchedule    = "lfg_when_schedule"
	customIDStartInPrefix   = "lfg_startin_"
	customIDDurationPrefix  = "lfg_duration_"

	customIDJoin       = "lfg_join"
	customIDInterested = "lfg_interested"
	customIDDecline    = "lfg_decline"
	customIDDelete     = "lfg_delete"
)

func newButton(id string, label string, style discordgo.ButtonStyle) discordgo.Button {
	return discordgo.Button{
		CustomID: id,
		Label:    label,
		Style:    style,
	}
}

// activityTypeComponents is the first wizard prompt: one button per
// activity type, plus a cancel row.
func activityTypeComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				newButton(customIDTypePrefix+string(ActivityRaid), "Raid", discordgo.PrimaryButton),
				newButton(customIDTypePrefix+string(ActivityNightfall), "Nightfall", discordgo.PrimaryButton),
				newButton(customIDTypePrefix+string(ActivityTrials), "Trials", discordgo.PrimaryButton),
				newButton(customIDTypePrefix+string(ActivityCrucible), "Crucible", discordgo.PrimaryButton),
				newButton(customIDTypePrefix+string(ActivityOther), "Other", discordgo.SecondaryButton),
			},
		},
		cancelRow(),
	}
}

func cancelRow() discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			newButton(customIDCancel, "Cancel", discordgo.DangerButton),
		},
	}
}

// raidSelectComponents is the raid picker select menu.
func raidSelectComponents() []discordgo.MessageComponent {
	raids := Activities[ActivityRaid].Options
	options := make([]discordgo.SelectMenuOption, 0, len(raids))
	for _, raid := range raids {
		options = append(
			options, discordgo.SelectMenuOption{
				Label: raid,
				Value: raid,
			},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    customIDRaidSelect,
					Placeholder: "Choose a raid",
					Options:     options,
				},
			},
		},
		cancelRow(),
	}
}

// nightfallDifficultyComponents is the nightfall difficulty select menu.
func nightfallDifficultyComponents() []discordgo.MessageComponent {
	difficulties := Activities[ActivityNightfall].Difficulties
	options := make([]discordgo.SelectMenuOption, 0, len(difficulties))
	for _, diff := range difficulties {
		options = append(
			options, discordgo.SelectMenuOption{
				Label: diff,
				Value: diff,
			},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    customIDNightfallSelect,
					Placeholder: "Choose difficulty",
					Options:     options,
				},
			},
		},
		cancelRow(),
	}
}

// raidDifficultyComponents offers Normal/Master for raids.
func raidDifficultyComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				newButton(customIDRaidDiffPrefix+"normal", "Normal", discordgo.PrimaryButton),
				newButton(customIDRaidDiffPrefix+"master", "Master", discordgo.SecondaryButton),
			},
		},
		cancelRow(),
	}
}

// playerCountComponents offers one button per possible "players needed"
// value, 1 through maxNeeded, chunked to discord's per-row button limit.
func playerCountComponents(maxNeeded int) []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, maxNeeded)
	for n := 1; n <= maxNeeded; n++ {
		buttons = append(
			buttons,
			newButton(
				customIDPlayersPrefix+strconv.Itoa(n),
				strconv.Itoa(n),
				discordgo.PrimaryButton,
			),
		)
	}

	var components []discordgo.MessageComponent
	for _, row := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		components = append(components, discordgo.ActionsRow{Components: row})
	}
	return append(components, cancelRow())
}

// timingComponents asks whether to post now or schedule.
func timingComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				newButton(customIDWhenNow, "Post Now", discordgo.SuccessButton),
				newButton(customIDWhenSchedule, "Schedule", discordgo.PrimaryButton),
			},
		},
		cancelRow(),
	}
}

// scheduleOffsetComponents offers the "starts in" offsets.
func scheduleOffsetComponents() []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(ScheduleOptions))
	for _, opt := range ScheduleOptions {
		buttons = append(
			buttons,
			newButton(customIDStartInPrefix+opt.Label, opt.Label, discordgo.PrimaryButton),
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
		cancelRow(),
	}
}

// durationComponents offers the post lifetimes.
func durationComponents() []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(DurationOptions))
	for _, opt := range DurationOptions {
		buttons = append(
			buttons,
			newButton(customIDDurationPrefix+opt.Label, opt.Label, discordgo.PrimaryButton),
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
		cancelRow(),
	}
}

// rosterComponents is the button row attached to every published post.
func rosterComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				newButton(customIDJoin, "✅ Join", discordgo.SuccessButton),
				newButton(customIDInterested, "❔ Interested", discordgo.PrimaryButton),
				newButton(customIDDecline, "❌ Decline", discordgo.DangerButton),
				newButton(customIDDelete, "🗑️ Delete", discordgo.SecondaryButton),
			},
		},
	}
}

// rosterFieldValue renders one roster column as newline-separated
// mentions, or "None".
func rosterFieldValue(userIDs []string) string {
	if len(userIDs) == 0 {
		return "None"
	}
	mentions := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		mentions = append(mentions, mention(id))
	}
	return strings.Join(mentions, "\n")
}

// postEmbed renders a post's current state as an embed.
func postEmbed(p *Post) *discordgo.MessageEmbed {
	description := fmt.Sprintf(
		"**Host:** %s\n**Type:** %s\n**Difficulty:** %s\n**Slots:** %d/%d",
		p.HostName,
		p.ActivityName,
		p.Difficulty,
		len(p.Members),
		p.Capacity(),
	)
	if !p.StartAt.IsZero() {
		description += fmt.Sprintf(
			"\n**Starts:** <t:%d:R>",
			p.StartAt.Unix(),
		)
	}

	return &discordgo.MessageEmbed{
		Title:       "LFG - " + p.ActivityName,
		Description: description,
		Color:       embedColor,
		Timestamp:   p.CreatedAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Joined", Value: rosterFieldValue(p.Members)},
			{Name: "Interested", Value: rosterFieldValue(p.Interested)},
			{Name: "Declined", Value: rosterFieldValue(p.Declined)},
		},
	}
}
