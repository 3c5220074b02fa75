// Package sherpa implements a Discord bot for organizing Destiny 2
// fireteams via "Looking For Group" (LFG) posts.
//
// Users start a guided, ephemeral wizard with the /lfg slash command,
// stepping through activity type, activity, difficulty, player count,
// timing and duration via buttons and select menus. Completing the wizard
// publishes an LFG post to the channel: an embed with a live roster and
// Join/Interested/Decline/Delete buttons.
//
// Key components of the package include:
//
//   - Sherpa: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles the gateway session and slash command registration.
//   - SessionStore: Tracks in-progress wizard sessions, with idle expiry.
//   - PostStore: Tracks published posts and the one-active-post-per-host lock.
//   - LFGManager: Publishes posts and manages roster changes, expiry and
//     reminders.
//   - API: A small authenticated HTTP API for monitoring and admin actions.
//
// The bot supports two commands:
//
//   - /lfg: Starts the LFG creation wizard.
//   - /lfgunlock: (admin) Clears a user's active-post lock.
//
// All state is process-memory-resident: posts and sessions do not survive
// a restart. Each published post carries a finite lifetime, after which it
// is deleted automatically; scheduled posts ping their roster fifteen
// minutes before start.
package sherpa
