package sherpa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPost(t testing.TB) *Post {
	t.Helper()
	now := time.Now()
	return &Post{
		ID:            "message_1",
		ChannelID:     "channel_1",
		Type:          ActivityRaid,
		ActivityName:  "Last Wish",
		Difficulty:    "Normal",
		HostID:        "host_1",
		HostName:      "hostname",
		PlayersNeeded: 5,
		Members:       []string{"host_1"},
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
}

func TestPostCapacity(t *testing.T) {
	t.Parallel()
	post := newTestPost(t)
	assert.Equal(t, 6, post.Capacity())
	assert.False(t, post.Full())

	post.Members = []string{"host_1", "a", "b", "c", "d", "e"}
	assert.True(t, post.Full())
}

func TestPostStoreReserveAndCreate(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)

	require.True(t, store.Reserve("host_1"))
	assert.False(t, store.Reserve("host_1"), "second reserve must fail")
	assert.True(t, store.HasActivePost("host_1"))

	// mid-publish there's no post ID yet
	_, ok := store.ActivePostID("host_1")
	assert.False(t, ok)

	post := newTestPost(t)
	store.Create(post)

	postID, ok := store.ActivePostID("host_1")
	require.True(t, ok)
	assert.Equal(t, post.ID, postID)
	assert.Equal(t, 1, store.Len())
}

func TestPostStoreReleaseOnlyDropsReservations(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)

	require.True(t, store.Reserve("host_1"))
	store.Release("host_1")
	assert.False(t, store.HasActivePost("host_1"))

	// Release after Create must not drop the real post's lock
	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))
	store.Release("host_1")
	assert.True(t, store.HasActivePost("host_1"))
}

func TestPostStoreGetReturnsSnapshot(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)
	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))

	first, ok := store.Get("message_1")
	require.True(t, ok)
	first.Members = append(first.Members, "someone_else")

	second, ok := store.Get("message_1")
	require.True(t, ok)
	assert.Equal(t, []string{"host_1"}, second.Members)
}

func TestPostStoreMutate(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)
	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))

	updated, ok := store.Mutate(
		"message_1", func(p *Post) {
			p.Members = append(p.Members, "player_2")
		},
	)
	require.True(t, ok)
	assert.Equal(t, []string{"host_1", "player_2"}, updated.Members)

	_, ok = store.Mutate("missing", func(p *Post) {})
	assert.False(t, ok)
}

func TestPostStoreDeleteReleasesLock(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)
	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))

	deleted, ok := store.Delete("message_1")
	require.True(t, ok)
	assert.Equal(t, "message_1", deleted.ID)
	assert.False(t, store.HasActivePost("host_1"))
	assert.Zero(t, store.Len())

	_, ok = store.Delete("message_1")
	assert.False(t, ok)
}

// Deleting an old post must not release a lock that already points at a
// newer post.
func TestPostStoreDeleteKeepsNewerLock(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)

	require.True(t, store.Reserve("host_1"))
	first := newTestPost(t)
	store.Create(first)

	store.ClearLock("host_1")
	require.True(t, store.Reserve("host_1"))
	second := newTestPost(t)
	second.ID = "message_2"
	store.Create(second)

	_, ok := store.Delete(first.ID)
	require.True(t, ok)
	assert.True(t, store.HasActivePost("host_1"))

	postID, ok := store.ActivePostID("host_1")
	require.True(t, ok)
	assert.Equal(t, "message_2", postID)
}

func TestPostStoreClearLock(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)

	assert.False(t, store.ClearLock("host_1"), "no lock held")

	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))

	assert.True(t, store.ClearLock("host_1"))
	assert.False(t, store.HasActivePost("host_1"))

	// the post record itself survives
	_, ok := store.Get("message_1")
	assert.True(t, ok)
}

func TestPostStoreSnapshot(t *testing.T) {
	t.Parallel()
	store := NewPostStore(nil)
	require.True(t, store.Reserve("host_1"))
	store.Create(newTestPost(t))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "message_1", snapshot[0].ID)
}
