package sherpa

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Post is a published LFG post and its roster. Members, interested and
// declined are pairwise disjoint, ordered by arrival; the host is always
// the first member and only leaves the roster when the post is deleted.
type Post struct {
	// ID is the Discord message ID of the rendered post.
	ID string `json:"id"`

	// ChannelID is the channel the post was sent to, needed to edit or
	// delete the rendering later.
	ChannelID string `json:"channel_id"`

	Type         ActivityType `json:"type"`
	ActivityName string       `json:"activity_name"`
	Difficulty   string       `json:"difficulty"`

	HostID   string `json:"host_id"`
	HostName string `json:"host_name"`

	// PlayersNeeded is the number of open slots beyond the host, so a
	// full fireteam has PlayersNeeded+1 members.
	PlayersNeeded int `json:"players_needed"`

	Members    []string `json:"members"`
	Interested []string `json:"interested"`
	Declined   []string `json:"declined"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// StartAt is when the event begins, for scheduled posts.
	StartAt time.Time `json:"start_at,omitempty"`
}

// Capacity is the full fireteam size, host included.
func (p *Post) Capacity() int {
	return p.PlayersNeeded + 1
}

// Full reports whether the fireteam has no open slots.
func (p *Post) Full() bool {
	return len(p.Members) >= p.Capacity()
}

// clone returns a deep copy, so snapshots handed out of the store can't
// be mutated behind its back.
func (p *Post) clone() *Post {
	c := *p
	c.Members = slices.Clone(p.Members)
	c.Interested = slices.Clone(p.Interested)
	c.Declined = slices.Clone(p.Declined)
	return &c
}

func (p *Post) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnPostID, p.ID),
		slog.String("activity", p.ActivityName),
		slog.String("difficulty", p.Difficulty),
		slog.String("host_id", p.HostID),
		slog.Int("members", len(p.Members)),
		slog.Int("capacity", p.Capacity()),
	)
}

// PostStore owns all Post records, keyed by message ID, along with the
// one-active-post-per-host lock. The lock map is deliberately separate
// from the post map: Reserve claims a host's slot before the post (or
// even its message ID) exists, and ClearLock can release a slot without
// touching the post record.
type PostStore struct {
	mu    sync.Mutex
	posts map[string]*Post

	// activeByHost maps a host's user ID to their active post's message
	// ID. An empty value is a reservation: the publish is in flight and
	// the message ID isn't known yet.
	activeByHost map[string]string

	logger *slog.Logger
}

// NewPostStore returns an empty PostStore.
func NewPostStore(logger *slog.Logger) *PostStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostStore{
		posts:        map[string]*Post{},
		activeByHost: map[string]string{},
		logger:       logger.With(loggerNameKey, "posts"),
	}
}

// Reserve claims the host's active-post slot before anything has been
// sent to Discord. It returns false if the host already has an active
// post or reservation. Claiming the slot synchronously, before the
// network call that produces the message ID, is what closes the window
// where two publishes for the same host both observe "no active post".
func (s *PostStore) Reserve(hostID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByHost[hostID]; ok {
		return false
	}
	s.activeByHost[hostID] = ""
	return true
}

// Release drops the host's reservation, for a publish that failed after
// Reserve. It does not remove any registered post.
func (s *PostStore) Release(hostID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeByHost[hostID] == "" {
		delete(s.activeByHost, hostID)
	}
}

// Create registers a published post and points the host's active-post
// lock at it.
func (s *PostStore) Create(post *Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts[post.ID] = post
	s.activeByHost[post.HostID] = post.ID
}

// Get returns a snapshot of the post, if it exists.
func (s *PostStore) Get(id string) (*Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, false
	}
	return post.clone(), true
}

// Mutate applies fn to the post under the store lock and returns a
// snapshot of the result, or false if the post doesn't exist. fn must
// not block or call out to Discord.
func (s *PostStore) Mutate(id string, fn func(*Post)) (*Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, false
	}
	fn(post)
	return post.clone(), true
}

// Delete removes the post record and releases the host's lock, if the
// lock still points at this post. Idempotent on missing posts.
func (s *PostStore) Delete(id string) (*Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, false
	}
	delete(s.posts, id)
	if s.activeByHost[post.HostID] == id {
		delete(s.activeByHost, post.HostID)
	}
	return post, true
}

// HasActivePost reports whether the user currently holds the
// active-post lock, as host.
func (s *PostStore) HasActivePost(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.activeByHost[userID]
	return ok
}

// ActivePostID returns the message ID of the user's active post.
// The second return is false if they have none (or only an in-flight
// reservation).
func (s *PostStore) ActivePostID(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.activeByHost[userID]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ClearLock releases the user's active-post lock without deleting the
// underlying post record. This is the administrative escape hatch for a
// user whose lock was never released; the post, if it still exists,
// remains independently deletable. Returns false if the user held no
// lock.
func (s *PostStore) ClearLock(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByHost[userID]; !ok {
		return false
	}
	delete(s.activeByHost, userID)
	s.logger.Info("cleared active post lock", columnUserID, userID)
	return true
}

// Len returns the number of registered posts.
func (s *PostStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.posts)
}

// Snapshot returns copies of all registered posts, for the API.
func (s *PostStore) Snapshot() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := make([]Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, *post.clone())
	}
	return posts
}
