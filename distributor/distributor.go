// Package distributor implements fan-out-on-write: turning a freshly
// created post into feed entries for everyone who should receive it.
package distributor

import (
	"context"
	"sort"
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

var ErrPostNotFound = errors.New("post not found")

const (
	retryBaseDelay = 200 * time.Millisecond

	ddogBatchFailure = "feed.distribution.batch_failure"
	ddogRecipients   = "feed.distribution.recipients"
	ddogCelebrity    = "feed.distribution.celebrity"
	ddogElapsed      = "feed.distribution.elapsed"
	ddogInteraction  = "feed.interaction.count"
)

/*

Distributor owns the write path of the feed pipeline.

DistributePost resolves the audience of a post, scores an entry per
recipient and upserts the entries in batches. Failures stay inside the
distributor: a broken batch is retried with exponential backoff, then
abandoned with a metric bump. The post-creation caller never sees an
error from fan-out, eventual consistency is the contract.

Everything is idempotent. Entries conflict on (user, post) and resolve
to DoNothing, celebrity markers conflict on post. Re-running a delivery
after a partial failure only fills the holes.
*/

type Distributor struct {
	db     *gorm.DB
	scorer *feed.Scorer
	cache  feed.PageCache
	sink   feed.EventSink
	statsd statsd.ClientInterface
	opts   feed.Options
}

func New(db *gorm.DB, scorer *feed.Scorer, cache feed.PageCache, sink feed.EventSink, dd statsd.ClientInterface, opts feed.Options) *Distributor {
	if cache == nil {
		cache = feed.NoopPageCache{}
	}
	if dd == nil {
		dd = &statsd.NoOpClient{}
	}
	return &Distributor{db: db, scorer: scorer, cache: cache, sink: sink, statsd: dd, opts: opts}
}

// DistributePost fans post entries out to the post's audience. Safe to
// call repeatedly for the same post.
func (d *Distributor) DistributePost(ctx context.Context, postID string) (*feed.DistributionResult, error) {
	start := time.Now()

	var post model.Post
	if err := d.db.WithContext(ctx).First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrPostNotFound, "id %q", postID)
		}
		return nil, errors.Wrap(err, "fail to load post for distribution")
	}

	audience, err := d.audience(ctx, &post)
	if err != nil {
		return nil, err
	}

	celebrity := len(audience) > d.opts.CelebrityFollowerThreshold
	recipients := audience
	if celebrity {
		if err := d.markCelebrityPost(ctx, &post); err != nil {
			return nil, err
		}
		d.statsd.Incr(ddogCelebrity, nil, 1)
		recipients, err = d.mostActive(ctx, audience, post.AuthorID)
		if err != nil {
			return nil, err
		}
	}

	counts, err := d.engagementCounts(ctx, post.Id)
	if err != nil {
		return nil, err
	}

	result := &feed.DistributionResult{PostID: post.Id, Recipients: len(recipients), Celebrity: celebrity}
	now := time.Now()
	for batchStart := 0; batchStart < len(recipients); batchStart += d.opts.BatchSize {
		end := batchStart + d.opts.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[batchStart:end]
		result.Batches++

		if err := d.applyBatchWithRetry(ctx, &post, batch, counts, now); err != nil {
			result.FailedBatches++
			d.statsd.Incr(ddogBatchFailure, nil, 1)
			Logger.Log.Errorf("abandon feed batch for post %s after %d attempts: %v", post.Id, d.opts.BatchRetries, err)
			continue
		}
		for _, userID := range batch {
			d.cache.InvalidateUser(ctx, userID)
		}
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	d.statsd.Count(ddogRecipients, int64(result.Recipients), nil, 1)
	d.statsd.Timing(ddogElapsed, time.Since(start), nil, 1)
	if d.sink != nil {
		if err := d.sink.Publish(feed.TopicDistributionResult, result); err != nil {
			Logger.Log.Warn("fail to publish distribution result: ", err)
		}
	}
	return result, nil
}

// HandleInteraction reflects an interaction onto the actor's own feed
// entry and drops their cached pages. Duplicates and interactions on
// posts without an entry are fine.
func (d *Distributor) HandleInteraction(ctx context.Context, userID, postID, kind string) error {
	column := ""
	switch kind {
	case feed.InteractionLike, feed.InteractionComment, feed.InteractionShare:
		column = "interacted"
	case feed.InteractionView:
		column = "viewed"
	case feed.InteractionUnlike:
		// engagement counters changed, only the cache needs refreshing
	default:
		return errors.Errorf("unknown interaction kind %q", kind)
	}

	if column != "" {
		err := d.db.WithContext(ctx).Model(&model.FeedEntry{}).
			Where("user_id = ? AND post_id = ?", userID, postID).
			UpdateColumn(column, true).Error
		if err != nil {
			return errors.Wrap(err, "fail to flag feed entry")
		}
	}

	d.cache.InvalidateUser(ctx, userID)
	d.statsd.Incr(ddogInteraction, []string{"kind:" + kind}, 1)
	return nil
}

// audience resolves the full recipient set before any celebrity capping,
// author included, sorted for deterministic batching.
func (d *Distributor) audience(ctx context.Context, post *model.Post) ([]string, error) {
	set := map[string]bool{post.AuthorID: true}

	switch {
	case post.UniversityID != nil:
		memberIDs, err := d.organizationRecipients(ctx, "university_id = ?", *post.UniversityID, &model.UniversityAdmin{})
		if err != nil {
			return nil, err
		}
		for _, id := range memberIDs {
			set[id] = true
		}
	case post.CompanyID != nil:
		memberIDs, err := d.organizationRecipients(ctx, "company_id = ?", *post.CompanyID, &model.CompanyAdmin{})
		if err != nil {
			return nil, err
		}
		for _, id := range memberIDs {
			set[id] = true
		}
	case post.IsPrivate:
		// a private personal post is the author's alone

	case d.opts.EnableFollowFanout:
		var followerIDs []string
		err := d.db.WithContext(ctx).Model(&model.Follow{}).
			Where("followee_id = ?", post.AuthorID).
			Pluck("follower_id", &followerIDs).Error
		if err != nil {
			return nil, errors.Wrap(err, "fail to load followers")
		}
		for _, id := range followerIDs {
			set[id] = true
		}
	}

	recipients := make([]string, 0, len(set))
	for id := range set {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)
	return recipients, nil
}

// organizationRecipients returns member ids plus admin ids for one
// organization. adminModel selects which join table to read.
func (d *Distributor) organizationRecipients(ctx context.Context, orgCond string, orgID string, adminModel interface{}) ([]string, error) {
	var memberIDs []string
	err := d.db.WithContext(ctx).Model(&model.OrganizationMembership{}).
		Where(orgCond, orgID).
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to load organization members")
	}

	var adminIDs []string
	err = d.db.WithContext(ctx).Model(adminModel).
		Where(orgCond, orgID).
		Pluck("user_id", &adminIDs).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to load organization admins")
	}
	return append(memberIDs, adminIDs...), nil
}

func (d *Distributor) markCelebrityPost(ctx context.Context, post *model.Post) error {
	marker := &model.CelebrityPostCache{
		Id:       uuid.New().String(),
		AuthorID: post.AuthorID,
		PostID:   post.Id,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(marker).Error
	return errors.Wrap(err, "fail to upsert celebrity post marker")
}

// mostActive picks the CelebrityFanoutCap recipients with the most feed
// entries, ties broken by user id, author always kept.
func (d *Distributor) mostActive(ctx context.Context, audience []string, authorID string) ([]string, error) {
	type activityRow struct {
		UserID string
		N      int
	}
	var rows []activityRow
	err := d.db.WithContext(ctx).Model(&model.FeedEntry{}).
		Select("user_id, COUNT(*) AS n").
		Where("user_id IN ?", audience).
		Group("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to rank recipients by activity")
	}

	activity := make(map[string]int, len(rows))
	for _, row := range rows {
		activity[row.UserID] = row.N
	}

	ranked := append([]string{}, audience...)
	sort.Slice(ranked, func(i, j int) bool {
		if activity[ranked[i]] != activity[ranked[j]] {
			return activity[ranked[i]] > activity[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > d.opts.CelebrityFanoutCap {
		ranked = ranked[:d.opts.CelebrityFanoutCap]
	}

	for _, id := range ranked {
		if id == authorID {
			return ranked, nil
		}
	}
	return append(ranked, authorID), nil
}

func (d *Distributor) applyBatchWithRetry(ctx context.Context, post *model.Post, batch []string, counts feed.EngagementCounts, now time.Time) error {
	var err error
	for attempt := 0; attempt < d.opts.BatchRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay << (attempt - 1))
		}
		if err = d.applyBatch(ctx, post, batch, counts, now); err == nil {
			return nil
		}
	}
	return err
}

// applyBatch writes one batch of scored entries in a single transaction.
func (d *Distributor) applyBatch(ctx context.Context, post *model.Post, batch []string, counts feed.EngagementCounts, now time.Time) error {
	affiliated, err := d.affiliatedRecipients(ctx, post, batch)
	if err != nil {
		return err
	}

	entries := make([]*model.FeedEntry, 0, len(batch))
	for _, userID := range batch {
		var memberOrgs map[string]bool
		if affiliated[userID] {
			memberOrgs = orgSet(post)
		}
		entries = append(entries, &model.FeedEntry{
			Id:     uuid.New().String(),
			UserID: userID,
			PostID: post.Id,
			Score:  d.scorer.ScoreWithJitter(post, counts, memberOrgs, now),
		})
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entries).Error
	})
}

// affiliatedRecipients reports which batch members belong to or
// administer the post's organization, for the affinity bonus.
func (d *Distributor) affiliatedRecipients(ctx context.Context, post *model.Post, batch []string) (map[string]bool, error) {
	affiliated := make(map[string]bool)
	if !post.IsOrganizationPost() {
		return affiliated, nil
	}

	orgCond, orgID, adminModel := "university_id = ?", "", interface{}(&model.UniversityAdmin{})
	if post.UniversityID != nil {
		orgID = *post.UniversityID
	} else {
		orgCond, orgID, adminModel = "company_id = ?", *post.CompanyID, &model.CompanyAdmin{}
	}

	var memberIDs []string
	err := d.db.WithContext(ctx).Model(&model.OrganizationMembership{}).
		Where(orgCond, orgID).
		Where("user_id IN ?", batch).
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to check batch memberships")
	}
	for _, id := range memberIDs {
		affiliated[id] = true
	}

	var adminIDs []string
	err = d.db.WithContext(ctx).Model(adminModel).
		Where(orgCond, orgID).
		Where("user_id IN ?", batch).
		Pluck("user_id", &adminIDs).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to check batch adminships")
	}
	for _, id := range adminIDs {
		affiliated[id] = true
	}
	return affiliated, nil
}

func (d *Distributor) engagementCounts(ctx context.Context, postID string) (feed.EngagementCounts, error) {
	counts := feed.EngagementCounts{}

	var n int64
	if err := d.db.WithContext(ctx).Model(&model.Like{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return counts, errors.Wrap(err, "fail to count likes")
	}
	counts.Likes = int(n)

	if err := d.db.WithContext(ctx).Model(&model.Comment{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return counts, errors.Wrap(err, "fail to count comments")
	}
	counts.Comments = int(n)

	if err := d.db.WithContext(ctx).Model(&model.Share{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return counts, errors.Wrap(err, "fail to count shares")
	}
	counts.Shares = int(n)
	return counts, nil
}

func orgSet(post *model.Post) map[string]bool {
	set := make(map[string]bool, 1)
	if post.UniversityID != nil {
		set[*post.UniversityID] = true
	}
	if post.CompanyID != nil {
		set[*post.CompanyID] = true
	}
	return set
}
