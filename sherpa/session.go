package sherpa

import (
	"log/slog"
	"sync"
	"time"
)

// TimingMode indicates whether an LFG post is for right now, or
// scheduled for a future start.
type TimingMode string

const (
	TimingNow      TimingMode = "now"
	TimingSchedule TimingMode = "schedule"
)

// WizardSession is the in-progress state of one user's /lfg wizard.
// It's created when the wizard starts, mutated in place at each step,
// and destroyed on completion, cancellation or idle expiry. A user has
// at most one session; starting a new wizard discards the old one.
type WizardSession struct {
	// UserID is the wizard owner's Discord user ID.
	UserID string `json:"user_id"`

	// Username is the owner's display name, shown as the host on the
	// published post.
	Username string `json:"username"`

	Type         ActivityType `json:"type"`
	ActivityName string       `json:"activity_name"`
	Difficulty   string       `json:"difficulty"`

	// MaxFireteamSize is the fireteam cap for the chosen activity,
	// host included.
	MaxFireteamSize int `json:"max_fireteam_size"`

	// PlayersNeeded is how many players the host is looking for,
	// excluding themselves. Zero means the step hasn't happened yet.
	PlayersNeeded int `json:"players_needed"`

	Timing TimingMode `json:"timing,omitempty"`

	// StartIn is the offset until the event starts, for scheduled
	// posts. Zero for TimingNow.
	StartIn time.Duration `json:"start_in,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// generation distinguishes this session from any session created
	// later for the same user, so a stale idle-expiry timer never
	// deletes a newer session.
	generation uint64
}

// ReadyToPublish reports whether every field the terminal wizard step
// depends on has been set.
func (s *WizardSession) ReadyToPublish() bool {
	if s.ActivityName == "" || s.Difficulty == "" {
		return false
	}
	if s.PlayersNeeded < 1 {
		return false
	}
	switch s.Timing {
	case TimingNow:
		return true
	case TimingSchedule:
		return s.StartIn > 0
	default:
		return false
	}
}

func (s *WizardSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnUserID, s.UserID),
		slog.String("type", string(s.Type)),
		slog.String("activity", s.ActivityName),
		slog.String("difficulty", s.Difficulty),
		slog.Int("players_needed", s.PlayersNeeded),
		slog.String("timing", string(s.Timing)),
		slog.Duration("start_in", s.StartIn),
	)
}

// SessionStore owns all WizardSession records, keyed by user ID.
// Sessions left idle past the configured timeout are discarded by a
// timer armed at creation.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*WizardSession
	idleTimeout time.Duration
	scheduler   Scheduler
	logger      *slog.Logger
	generation  uint64
}

// NewSessionStore creates a SessionStore whose sessions expire after
// idleTimeout unless completed or replaced first.
func NewSessionStore(
	idleTimeout time.Duration,
	scheduler Scheduler,
	logger *slog.Logger,
) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions:    map[string]*WizardSession{},
		idleTimeout: idleTimeout,
		scheduler:   scheduler,
		logger:      logger.With(loggerNameKey, "sessions"),
	}
}

// Create starts a new wizard session for the given user, replacing any
// existing one, and arms the idle-expiry timer.
func (s *SessionStore) Create(userID string, username string) *WizardSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	session := &WizardSession{
		UserID:     userID,
		Username:   username,
		CreatedAt:  time.Now(),
		generation: s.generation,
	}
	s.sessions[userID] = session

	gen := session.generation
	s.scheduler.AfterFunc(
		s.idleTimeout, func() {
			s.expire(userID, gen)
		},
	)

	return session
}

// expire removes the user's session if it's still the one the timer was
// armed for. Sessions completed (deleted) or replaced in the meantime
// are left alone.
func (s *SessionStore) expire(userID string, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok || session.generation != generation {
		return
	}
	delete(s.sessions, userID)
	s.logger.Info("wizard session expired", columnUserID, userID)
}

// Get returns the user's session, if any.
func (s *SessionStore) Get(userID string) (*WizardSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	return session, ok
}

// Update applies fn to the user's session under the store lock. It
// returns false, without side effects, if no session exists - callers
// must treat that as "expired, restart the wizard."
func (s *SessionStore) Update(
	userID string,
	fn func(*WizardSession),
) (*WizardSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	fn(session)
	return session, true
}

// Delete removes the user's session. Idempotent.
func (s *SessionStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
}

// Len returns the number of in-progress wizard sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Snapshot returns copies of all in-progress sessions, for the API.
func (s *SessionStore) Snapshot() []WizardSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]WizardSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session)
	}
	return sessions
}
