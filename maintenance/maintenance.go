// Package maintenance implements the scheduled repair jobs of the feed
// pipeline: rebuilding entries for users whose feeds have gone stale and
// pruning entries whose posts are past retention.
package maintenance

import (
	"context"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/google/uuid"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/model"
	Logger "github.com/photocampus/feedengine/utils/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ddogRebuildUsers   = "feed.maintenance.rebuild_users"
	ddogRebuildFailure = "feed.maintenance.rebuild_failure"
	ddogCleanupEntries = "feed.maintenance.cleanup_entries"
	ddogCleanupMarkers = "feed.maintenance.cleanup_markers"
)

/*

Maintainer repairs what the live pipeline misses.

RebuildUserFeed recomputes one user's entries from scratch: everything
fan-out would have delivered over the recency window, scored fresh. It
backfills batches the distributor abandoned and entries predating a
membership or follow change.

CleanupOldFeeds prunes entries and celebrity markers whose post has
aged out of the feed window for good. Reads tolerate rows disappearing
mid-page, both jobs are safe to run next to live traffic.
*/

type Maintainer struct {
	db     *gorm.DB
	scorer *feed.Scorer
	cache  feed.PageCache
	statsd statsd.ClientInterface
	opts   feed.Options
}

func New(db *gorm.DB, scorer *feed.Scorer, cache feed.PageCache, dd statsd.ClientInterface, opts feed.Options) *Maintainer {
	if cache == nil {
		cache = feed.NoopPageCache{}
	}
	if dd == nil {
		dd = &statsd.NoOpClient{}
	}
	return &Maintainer{db: db, scorer: scorer, cache: cache, statsd: dd, opts: opts}
}

// RebuildUserFeed drops and recreates the user's feed entries from the
// posts they are entitled to over the recency window. Returns the
// number of entries written.
func (m *Maintainer) RebuildUserFeed(ctx context.Context, userID string) (int, error) {
	now := time.Now()
	windowStart := now.Add(-m.opts.RecencyWindow)

	memberOrgs, err := m.memberOrgIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	orgIDs := make([]string, 0, len(memberOrgs))
	for id := range memberOrgs {
		orgIDs = append(orgIDs, id)
	}

	var followedIDs []string
	if m.opts.EnableFollowFanout {
		err := m.db.WithContext(ctx).Model(&model.Follow{}).
			Where("follower_id = ?", userID).
			Pluck("followee_id", &followedIDs).Error
		if err != nil {
			return 0, errors.Wrap(err, "fail to load followed authors")
		}
	}

	// the inverse of the distributor's audience resolution: own posts,
	// org posts of the user's organizations, public personal posts by
	// followed authors
	entitled := m.db.Where("author_id = ?", userID).
		Or("university_id IN ?", orgIDs).
		Or("company_id IN ?", orgIDs)
	if len(followedIDs) > 0 {
		entitled = entitled.Or(
			"(author_id IN ? AND is_private = ? AND university_id IS NULL AND company_id IS NULL)",
			followedIDs, false)
	}

	var posts []*model.Post
	err = m.db.WithContext(ctx).
		Where("created_at >= ?", windowStart).
		Where(entitled).
		Order("created_at DESC").
		Limit(m.opts.FetchLimit).
		Find(&posts).Error
	if err != nil {
		return 0, errors.Wrap(err, "fail to load entitled posts")
	}

	postIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		postIDs = append(postIDs, post.Id)
	}
	counts, err := m.engagementByPost(ctx, postIDs)
	if err != nil {
		return 0, err
	}
	interacted, err := m.interactedPostIDs(ctx, userID, postIDs)
	if err != nil {
		return 0, err
	}

	entries := make([]*model.FeedEntry, 0, len(posts))
	for _, post := range posts {
		entries = append(entries, &model.FeedEntry{
			Id:         uuid.New().String(),
			UserID:     userID,
			PostID:     post.Id,
			Score:      m.scorer.ScoreWithJitter(post, counts[post.Id], memberOrgs, now),
			Interacted: interacted[post.Id],
		})
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.FeedEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entries).Error
	})
	if err != nil {
		return 0, errors.Wrapf(err, "fail to rebuild feed for user %s", userID)
	}

	m.cache.InvalidateUser(ctx, userID)
	return len(entries), nil
}

// RebuildInactiveFeeds rebuilds the feeds of users whose last activity
// is older than the threshold, in id-ordered batches. A failed user is
// logged and skipped, the sweep keeps going. Returns the number of
// users rebuilt.
func (m *Maintainer) RebuildInactiveFeeds(ctx context.Context, inactivityThreshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-inactivityThreshold)

	rebuilt := 0
	lastID := ""
	for {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}

		var userIDs []string
		err := m.db.WithContext(ctx).Model(&model.User{}).
			Where("last_active_at < ? AND id > ?", cutoff, lastID).
			Order("id").
			Limit(m.opts.BatchSize).
			Pluck("id", &userIDs).Error
		if err != nil {
			return rebuilt, errors.Wrap(err, "fail to list inactive users")
		}
		if len(userIDs) == 0 {
			break
		}

		for _, userID := range userIDs {
			if _, err := m.RebuildUserFeed(ctx, userID); err != nil {
				m.statsd.Incr(ddogRebuildFailure, nil, 1)
				Logger.Log.Errorf("fail to rebuild feed for user %s: %v", userID, err)
				continue
			}
			rebuilt++
		}
		lastID = userIDs[len(userIDs)-1]
	}

	m.statsd.Count(ddogRebuildUsers, int64(rebuilt), nil, 1)
	return rebuilt, nil
}

// CleanupOldFeeds deletes feed entries and celebrity markers whose post
// is older than the retention period. Soft-deleted posts count by age
// like any other. Returns deleted entry and marker counts.
func (m *Maintainer) CleanupOldFeeds(ctx context.Context, retention time.Duration) (int64, int64, error) {
	cutoff := time.Now().Add(-retention)
	oldPosts := func() *gorm.DB {
		return m.db.Unscoped().Model(&model.Post{}).Select("id").Where("created_at < ?", cutoff)
	}

	entries := m.db.WithContext(ctx).
		Where("post_id IN (?)", oldPosts()).
		Delete(&model.FeedEntry{})
	if entries.Error != nil {
		return 0, 0, errors.Wrap(entries.Error, "fail to delete old feed entries")
	}

	markers := m.db.WithContext(ctx).
		Where("post_id IN (?)", oldPosts()).
		Delete(&model.CelebrityPostCache{})
	if markers.Error != nil {
		return entries.RowsAffected, 0, errors.Wrap(markers.Error, "fail to delete old celebrity markers")
	}

	m.statsd.Count(ddogCleanupEntries, entries.RowsAffected, nil, 1)
	m.statsd.Count(ddogCleanupMarkers, markers.RowsAffected, nil, 1)
	return entries.RowsAffected, markers.RowsAffected, nil
}

// memberOrgIDs is the union of the user's memberships and adminships,
// the same set the read path treats as visible.
func (m *Maintainer) memberOrgIDs(ctx context.Context, userID string) (map[string]bool, error) {
	orgs := make(map[string]bool)

	var memberships []*model.OrganizationMembership
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load memberships")
	}
	for _, membership := range memberships {
		if membership.UniversityID != nil {
			orgs[*membership.UniversityID] = true
		}
		if membership.CompanyID != nil {
			orgs[*membership.CompanyID] = true
		}
	}

	var universityAdmins []model.UniversityAdmin
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).Find(&universityAdmins).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load university adminships")
	}
	for _, admin := range universityAdmins {
		orgs[admin.UniversityID] = true
	}

	var companyAdmins []model.CompanyAdmin
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).Find(&companyAdmins).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load company adminships")
	}
	for _, admin := range companyAdmins {
		orgs[admin.CompanyID] = true
	}
	return orgs, nil
}

func (m *Maintainer) engagementByPost(ctx context.Context, postIDs []string) (map[string]feed.EngagementCounts, error) {
	counts := make(map[string]feed.EngagementCounts, len(postIDs))
	if len(postIDs) == 0 {
		return counts, nil
	}

	type countRow struct {
		PostID string
		N      int
	}
	grouped := func(table interface{}, name string) (map[string]int, error) {
		var rows []countRow
		err := m.db.WithContext(ctx).Model(table).
			Select("post_id, COUNT(*) AS n").
			Where("post_id IN ?", postIDs).
			Group("post_id").
			Find(&rows).Error
		if err != nil {
			return nil, errors.Wrapf(err, "fail to count %s", name)
		}
		out := make(map[string]int, len(rows))
		for _, row := range rows {
			out[row.PostID] = row.N
		}
		return out, nil
	}

	likes, err := grouped(&model.Like{}, "likes")
	if err != nil {
		return nil, err
	}
	comments, err := grouped(&model.Comment{}, "comments")
	if err != nil {
		return nil, err
	}
	shares, err := grouped(&model.Share{}, "shares")
	if err != nil {
		return nil, err
	}

	for _, postID := range postIDs {
		counts[postID] = feed.EngagementCounts{
			Likes:    likes[postID],
			Comments: comments[postID],
			Shares:   shares[postID],
		}
	}
	return counts, nil
}

// interactedPostIDs reports which of the posts the user has liked,
// commented on or shared.
func (m *Maintainer) interactedPostIDs(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	interacted := make(map[string]bool)
	if len(postIDs) == 0 {
		return interacted, nil
	}

	collect := func(table interface{}, userCond string) error {
		var ids []string
		err := m.db.WithContext(ctx).Model(table).
			Where(userCond, userID).
			Where("post_id IN ?", postIDs).
			Pluck("post_id", &ids).Error
		if err != nil {
			return errors.Wrap(err, "fail to load interacted posts")
		}
		for _, id := range ids {
			interacted[id] = true
		}
		return nil
	}

	if err := collect(&model.Like{}, "user_id = ?"); err != nil {
		return nil, err
	}
	if err := collect(&model.Comment{}, "author_id = ?"); err != nil {
		return nil, err
	}
	if err := collect(&model.Share{}, "user_id = ?"); err != nil {
		return nil, err
	}
	return interacted, nil
}
