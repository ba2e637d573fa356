package distributor

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/model"
	"github.com/photocampus/feedengine/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSink struct {
	mu     sync.Mutex
	topics []string
	last   interface{}
}

func (s *recordingSink) Publish(topic string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	s.last = payload
	return nil
}

type countingStatsd struct {
	statsd.NoOpClient

	mu       sync.Mutex
	counters map[string]int64
}

func (c *countingStatsd) Incr(name string, tags []string, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = map[string]int64{}
	}
	c.counters[name]++
	return nil
}

func (c *countingStatsd) counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

type distributorFixture struct {
	db     *gorm.DB
	d      *Distributor
	cache  *feed.RedisPageCache
	sink   *recordingSink
	statsd *countingStatsd
	opts   feed.Options
}

func newDistributorFixture(t *testing.T, opts feed.Options) *distributorFixture {
	t.Helper()
	f := &distributorFixture{
		db:     utils.NewTestDB(t),
		sink:   &recordingSink{},
		statsd: &countingStatsd{},
		opts:   opts,
	}
	mr := miniredis.RunT(t)
	f.cache = feed.NewRedisPageCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	scorer := feed.NewScorer(opts, rand.New(rand.NewSource(3)))
	f.d = New(f.db, scorer, f.cache, f.sink, f.statsd, opts)
	return f
}

func (f *distributorFixture) entriesForPost(t *testing.T, postID string) []*model.FeedEntry {
	t.Helper()
	var entries []*model.FeedEntry
	require.NoError(t, f.db.Where("post_id = ?", postID).Order("user_id").Find(&entries).Error)
	return entries
}

func entryUserIDs(entries []*model.FeedEntry) []string {
	ids := []string{}
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids
}

func TestDistributePersonalPostToFollowersAndAuthor(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	followers := []*model.User{}
	for _, name := range []string{"f1", "f2", "f3"} {
		u := utils.TestCreateUser(t, f.db, name)
		utils.TestFollow(t, f.db, u, author)
		followers = append(followers, u)
	}
	// cached first page that must be dropped by the fan-out
	f.cache.Set(ctx, feed.PageKey(followers[0].Id, feed.AlgorithmMixed, 20), []byte("stale"), time.Hour)

	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.Equal(t, 4, result.Recipients)
	require.False(t, result.Celebrity)
	require.Zero(t, result.FailedBatches)

	entries := f.entriesForPost(t, post.Id)
	require.Len(t, entries, 4)
	for _, entry := range entries {
		// fresh personal post: recency close to 10 plus jitter, nothing else
		require.InDelta(t, 10.0, entry.Score, 2*f.opts.JitterMax)
		require.False(t, entry.Interacted)
	}

	_, ok := f.cache.Get(ctx, feed.PageKey(followers[0].Id, feed.AlgorithmMixed, 20))
	require.False(t, ok)
}

func TestDistributeUniversityPostToMembersAndAdmins(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	university := utils.TestCreateUniversity(t, f.db, "State U", false)
	author := utils.TestCreateUser(t, f.db, "author")
	member := utils.TestCreateUser(t, f.db, "member")
	admin := utils.TestCreateUser(t, f.db, "admin")
	bystander := utils.TestCreateUser(t, f.db, "bystander")
	utils.TestFollow(t, f.db, bystander, author)

	utils.TestJoinUniversity(t, f.db, member, university, nil)
	require.NoError(t, f.db.Create(&model.UniversityAdmin{UniversityID: university.Id, UserID: admin.Id}).Error)

	post := utils.TestCreateUniversityPost(t, f.db, author, university, nil, "campus news", time.Now())

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	// member, admin and author; followers are not an audience for
	// organization posts
	require.Equal(t, 3, result.Recipients)

	entries := f.entriesForPost(t, post.Id)
	require.ElementsMatch(t, []string{author.Id, member.Id, admin.Id}, entryUserIDs(entries))

	scores := map[string]float64{}
	for _, e := range entries {
		scores[e.UserID] = e.Score
	}
	// affiliated recipients carry the +5 organization bonus
	require.InDelta(t, 5.0, scores[member.Id]-scores[author.Id], 2*f.opts.JitterMax)
	require.InDelta(t, 5.0, scores[admin.Id]-scores[author.Id], 2*f.opts.JitterMax)
}

func TestPrivatePersonalPostStaysWithAuthor(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)

	post := utils.TestCreatePost(t, f.db, author, "secret", time.Now())
	utils.TestMarkPostPrivate(t, f.db, post)

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.Equal(t, 1, result.Recipients)
	require.Equal(t, []string{author.Id}, entryUserIDs(f.entriesForPost(t, post.Id)))
}

func TestFollowFanoutCanBeDisabled(t *testing.T) {
	opts := feed.DefaultOptions()
	opts.EnableFollowFanout = false
	f := newDistributorFixture(t, opts)
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)

	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	_, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.Equal(t, []string{author.Id}, entryUserIDs(f.entriesForPost(t, post.Id)))
}

func TestCelebrityPostPartialFanout(t *testing.T) {
	opts := feed.DefaultOptions()
	opts.CelebrityFollowerThreshold = 5
	opts.CelebrityFanoutCap = 3
	f := newDistributorFixture(t, opts)
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	followers := []*model.User{}
	for i := 0; i < 7; i++ {
		u := utils.TestCreateUser(t, f.db, "follower")
		utils.TestFollow(t, f.db, u, author)
		followers = append(followers, u)
	}

	// activity ranking: follower 0 has three old entries, 1 has two, 2 has
	// one, the rest are idle
	filler := utils.TestCreateUser(t, f.db, "filler")
	for i, n := range []int{3, 2, 1} {
		for j := 0; j < n; j++ {
			old := utils.TestCreatePost(t, f.db, filler, "old", time.Now().Add(-time.Hour))
			require.NoError(t, f.db.Create(&model.FeedEntry{
				Id: uuid.New().String(), UserID: followers[i].Id, PostID: old.Id, Score: 1,
			}).Error)
		}
	}

	post := utils.TestCreatePost(t, f.db, author, "announcement", time.Now())

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.True(t, result.Celebrity)
	// top three active followers plus the author
	require.Equal(t, 4, result.Recipients)

	var marker model.CelebrityPostCache
	require.NoError(t, f.db.First(&marker, "post_id = ?", post.Id).Error)
	require.Equal(t, author.Id, marker.AuthorID)

	entries := f.entriesForPost(t, post.Id)
	require.ElementsMatch(t,
		[]string{followers[0].Id, followers[1].Id, followers[2].Id, author.Id},
		entryUserIDs(entries))
}

func TestDistributePostIsIdempotent(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)
	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	_, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	first := f.entriesForPost(t, post.Id)

	_, err = f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	second := f.entriesForPost(t, post.Id)

	require.Len(t, second, len(first))
	// conflicting rows were left untouched, scores included
	require.Equal(t, first[0].Score, second[0].Score)
	require.Equal(t, first[0].Id, second[0].Id)
}

func TestBatchRetriesTransientFailures(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	failures := 2
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test_flaky_create", func(tx *gorm.DB) {
		if tx.Statement.Table == "feed_entries" && failures > 0 {
			failures--
			tx.AddError(errors.New("transient insert failure"))
		}
	}))

	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)
	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.Zero(t, result.FailedBatches)
	require.Len(t, f.entriesForPost(t, post.Id), 2)
	require.Zero(t, failures)
}

func TestBatchAbandonedAfterRetriesExhausted(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test_broken_create", func(tx *gorm.DB) {
		if tx.Statement.Table == "feed_entries" {
			tx.AddError(errors.New("storage unavailable"))
		}
	}))

	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)
	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	// fan-out never propagates batch failures to the caller
	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)
	require.Equal(t, result.Batches, result.FailedBatches)
	require.Greater(t, result.FailedBatches, 0)
	require.Empty(t, f.entriesForPost(t, post.Id))
	require.EqualValues(t, result.FailedBatches, f.statsd.counter("feed.distribution.batch_failure"))
}

func TestDistributionResultPublished(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())

	result, err := f.d.DistributePost(ctx, post.Id)
	require.NoError(t, err)

	require.Equal(t, []string{feed.TopicDistributionResult}, f.sink.topics)
	require.Equal(t, result, f.sink.last)
}

func TestDistributeUnknownPost(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())

	_, err := f.d.DistributePost(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrPostNotFound))
}

func TestHandleInteractionFlagsEntryAndDropsCache(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	ctx := context.Background()

	author := utils.TestCreateUser(t, f.db, "author")
	reader := utils.TestCreateUser(t, f.db, "reader")
	post := utils.TestCreatePost(t, f.db, author, "hello", time.Now())
	require.NoError(t, f.db.Create(&model.FeedEntry{
		Id: uuid.New().String(), UserID: reader.Id, PostID: post.Id, Score: 5,
	}).Error)

	f.cache.Set(ctx, feed.PageKey(reader.Id, feed.AlgorithmMixed, 20), []byte("stale"), time.Hour)

	require.NoError(t, f.d.HandleInteraction(ctx, reader.Id, post.Id, feed.InteractionLike))

	var entry model.FeedEntry
	require.NoError(t, f.db.First(&entry, "user_id = ? AND post_id = ?", reader.Id, post.Id).Error)
	require.True(t, entry.Interacted)
	require.False(t, entry.Viewed)

	require.NoError(t, f.d.HandleInteraction(ctx, reader.Id, post.Id, feed.InteractionView))
	require.NoError(t, f.db.First(&entry, "user_id = ? AND post_id = ?", reader.Id, post.Id).Error)
	require.True(t, entry.Viewed)

	_, ok := f.cache.Get(ctx, feed.PageKey(reader.Id, feed.AlgorithmMixed, 20))
	require.False(t, ok)

	require.Error(t, f.d.HandleInteraction(ctx, reader.Id, post.Id, "poke"))
}
