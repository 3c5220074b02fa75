package sherpa

import "time"

// ActivityType identifies one of the top-level activity categories a
// user can pick in the first step of the LFG wizard.
type ActivityType string

const (
	ActivityRaid      ActivityType = "raid"
	ActivityNightfall ActivityType = "nightfall"
	ActivityTrials    ActivityType = "trials"
	ActivityCrucible  ActivityType = "crucible"
	ActivityOther     ActivityType = "other"
)

func (a ActivityType) String() string {
	return string(a)
}

// Activity describes a category of activity: its display name, the
// specific options within it (raids only), the selectable difficulties,
// and the maximum fireteam size including the host.
type Activity struct {
	Name string

	// Options lists specific activities within the category, shown in
	// a select menu. Only raids have these.
	Options []string

	// Difficulties selectable for the category. "N/A" means the wizard
	// skips the difficulty step entirely.
	Difficulties []string

	// MaxFireteamSize is the size of a full fireteam, host included.
	MaxFireteamSize int
}

// Activities is the static activity catalog. The wizard's prompts, player
// count bounds and difficulty menus are all derived from it.
var Activities = map[ActivityType]Activity{
	ActivityRaid: {
		Name: "Raid",
		Options: []string{
			"Salvation's Edge",
			"Crota's End",
			"Root of Nightmares",
			"Vow of the Disciple",
			"King's Fall",
			"Vault of Glass",
			"Deep Stone Crypt",
			"Garden of Salvation",
			"Last Wish",
		},
		Difficulties:    []string{"Normal", "Master"},
		MaxFireteamSize: 6,
	},
	ActivityNightfall: {
		Name:            "Nightfall",
		Difficulties:    []string{"Hero", "Legend", "Master", "Grandmaster"},
		MaxFireteamSize: 3,
	},
	ActivityTrials: {
		Name:            "Trials",
		Difficulties:    []string{"N/A"},
		MaxFireteamSize: 3,
	},
	ActivityCrucible: {
		Name:            "Crucible",
		Difficulties:    []string{"N/A"},
		MaxFireteamSize: 6,
	},
	ActivityOther: {
		Name:            "Other",
		Difficulties:    []string{"N/A"},
		MaxFireteamSize: 6,
	},
}

// TimeOption pairs a button label with the duration it represents.
type TimeOption struct {
	Label string
	Value time.Duration
}

var (
	// ScheduleOptions are the selectable "event starts in" offsets.
	ScheduleOptions = []TimeOption{
		{Label: "1h", Value: time.Hour},
		{Label: "2h", Value: 2 * time.Hour},
		{Label: "3h", Value: 3 * time.Hour},
		{Label: "4h", Value: 4 * time.Hour},
		{Label: "5h", Value: 5 * time.Hour},
	}

	// DurationOptions are the selectable post lifetimes.
	DurationOptions = []TimeOption{
		{Label: "30m", Value: 30 * time.Minute},
		{Label: "1h", Value: time.Hour},
		{Label: "2h", Value: 2 * time.Hour},
		{Label: "3h", Value: 3 * time.Hour},
	}
)

// durationByLabel returns the duration for a known option label, or
// false for labels that were never offered (a stale or forged custom ID).
func durationByLabel(options []TimeOption, label string) (time.Duration, bool) {
	for _, opt := range options {
		if opt.Label == label {
			return opt.Value, true
		}
	}
	return 0, false
}
