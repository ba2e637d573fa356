package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/photocampus/feedengine/model"
	"github.com/photocampus/feedengine/utils"
	Logger "github.com/photocampus/feedengine/utils/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrBadAlgorithm = errors.New("unsupported feed algorithm")
	ErrBadCursor    = errors.New("malformed feed cursor")
	ErrBadPage      = errors.New("page number must be positive")
)

const (
	// ContentPreviewRunes is how much post content a summary carries.
	ContentPreviewRunes = 100

	cursorPrefix = "feed:"
)

// PostSummary is the wire representation of one feed item.
type PostSummary struct {
	Id             string    `json:"id"`
	Title          string    `json:"title"`
	ContentPreview string    `json:"content_preview"`
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name"`
	UniversityID   *string   `json:"university_id,omitempty"`
	CompanyID      *string   `json:"company_id,omitempty"`
	DepartmentID   *string   `json:"department_id,omitempty"`
	IsPrivate      bool      `json:"is_private"`
	CreatedAt      time.Time `json:"created_at"`
	Score          float64   `json:"score"`
	LikeCount      int       `json:"like_count"`
	CommentCount   int       `json:"comment_count"`
	ShareCount     int       `json:"share_count"`
	Interacted     bool      `json:"interacted"`
}

// FeedPage is the offset-paginated REST shape.
type FeedPage struct {
	Results  []*PostSummary `json:"results"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasNext  bool           `json:"has_next"`
}

// FeedEdge and FeedConnection are the cursor-paginated GraphQL shape.
type FeedEdge struct {
	Cursor string
	Node   *PostSummary
}

type PageInfo struct {
	HasNextPage bool
	EndCursor   *string
}

type FeedConnection struct {
	Edges    []*FeedEdge
	PageInfo PageInfo
}

// cachedPage is what actually lands in redis. Both pagination interfaces
// render from it so they share cache entries.
type cachedPage struct {
	Results []*PostSummary `json:"results"`
	HasNext bool           `json:"has_next"`
}

// candidate is one post on its way through assembly.
type candidate struct {
	post        *model.Post
	counts      EngagementCounts
	score       float64
	storedScore bool
	interacted  bool
	orgMember   bool
	pinned      bool
}

/*

Assembler produces home feed pages.

The candidate set merges three sources:
 1. pushed feed entries written by the distributor
 2. celebrity posts pulled through their CelebrityPostCache markers
 3. posts the user recently interacted with, pinned at the top

Visibility and the 30-day window are re-checked at read time on every
candidate. Fan-out happened in the past, memberships and privacy may
have changed since.
*/

type Assembler struct {
	db     *gorm.DB
	cache  PageCache
	scorer *Scorer
	opts   Options
}

func NewAssembler(db *gorm.DB, cache PageCache, scorer *Scorer, opts Options) *Assembler {
	if cache == nil {
		cache = NoopPageCache{}
	}
	return &Assembler{db: db, cache: cache, scorer: scorer, opts: opts}
}

// EncodeCursor turns an absolute feed offset into an opaque cursor.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%d", cursorPrefix, offset)))
}

// DecodeCursor reverses EncodeCursor. Anything not produced by
// EncodeCursor comes back as ErrBadCursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	if !strings.HasPrefix(string(raw), cursorPrefix) {
		return 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || offset < 0 {
		return 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	return offset, nil
}

// HomeFeed returns one offset-paginated feed page. Page numbering starts
// at 1. A zero pageSize selects the default, oversized requests are
// clamped.
func (a *Assembler) HomeFeed(ctx context.Context, userID string, page, pageSize int, algorithm string, departmentID *string) (*FeedPage, error) {
	algorithm, err := a.sanitizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, errors.Wrapf(ErrBadPage, "got %d", page)
	}
	pageSize = a.sanitizePageSize(pageSize)

	offset := (page - 1) * pageSize
	result, err := a.fetchPage(ctx, userID, algorithm, departmentID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	return &FeedPage{
		Results:  result.Results,
		Page:     page,
		PageSize: pageSize,
		HasNext:  result.HasNext,
	}, nil
}

// HomeFeedConnection returns a cursor-paginated connection over the same
// feed. An empty after cursor starts from the top.
func (a *Assembler) HomeFeedConnection(ctx context.Context, userID string, first int, after *string, algorithm string, departmentID *string) (*FeedConnection, error) {
	algorithm, err := a.sanitizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	first = a.sanitizePageSize(first)

	offset := 0
	if after != nil && *after != "" {
		lastSeen, err := DecodeCursor(*after)
		if err != nil {
			return nil, err
		}
		offset = lastSeen + 1
	}

	result, err := a.fetchPage(ctx, userID, algorithm, departmentID, offset, first)
	if err != nil {
		return nil, err
	}

	connection := &FeedConnection{Edges: []*FeedEdge{}}
	for i, summary := range result.Results {
		connection.Edges = append(connection.Edges, &FeedEdge{
			Cursor: EncodeCursor(offset + i),
			Node:   summary,
		})
	}
	connection.PageInfo.HasNextPage = result.HasNext
	if n := len(connection.Edges); n > 0 {
		connection.PageInfo.EndCursor = &connection.Edges[n-1].Cursor
	}
	return connection, nil
}

// InvalidateUser drops the user's cached pages. Exposed for the
// distributor and the interaction path.
func (a *Assembler) InvalidateUser(ctx context.Context, userID string) {
	a.cache.InvalidateUser(ctx, userID)
}

// fetchPage runs the cache-or-assemble pipeline and slices out one page.
// Only the first page of an unfiltered feed is cached. A cache hit
// answers without touching storage at all, cache entries only ever exist
// for users that were real when the page was rendered.
func (a *Assembler) fetchPage(ctx context.Context, userID, algorithm string, departmentID *string, offset, size int) (*cachedPage, error) {
	cacheable := offset == 0 && departmentID == nil
	key := PageKey(userID, algorithm, size)
	if cacheable {
		if payload, ok := a.cache.Get(ctx, key); ok {
			var cached cachedPage
			if err := json.Unmarshal(payload, &cached); err == nil {
				return &cached, nil
			}
			Logger.Log.Warn("dropping undecodable cached feed page for user ", userID)
		}
	}

	if err := a.checkUserExists(ctx, userID); err != nil {
		return nil, err
	}

	candidates, err := a.assemble(ctx, userID, departmentID)
	if err != nil {
		return nil, err
	}
	a.order(candidates, algorithm)

	page := &cachedPage{Results: []*PostSummary{}, HasNext: len(candidates) > offset+size}
	for i := offset; i < len(candidates) && i < offset+size; i++ {
		page.Results = append(page.Results, a.summarize(candidates[i]))
	}

	if cacheable {
		if payload, err := json.Marshal(page); err == nil {
			a.cache.Set(ctx, key, payload, a.opts.CacheTTL)
		}
	}
	return page, nil
}

func (a *Assembler) sanitizeAlgorithm(algorithm string) (string, error) {
	if algorithm == "" {
		return AlgorithmMixed, nil
	}
	if !utils.ContainsString(Algorithms, algorithm) {
		return "", errors.Wrapf(ErrBadAlgorithm, "%q", algorithm)
	}
	return algorithm, nil
}

func (a *Assembler) sanitizePageSize(pageSize int) int {
	if pageSize <= 0 {
		return a.opts.DefaultPageSize
	}
	return utils.Min(pageSize, a.opts.MaxPageSize)
}

func (a *Assembler) checkUserExists(ctx context.Context, userID string) error {
	var count int64
	if err := a.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "fail to look up feed owner")
	}
	if count == 0 {
		return errors.Wrapf(ErrUnknownUser, "id %q", userID)
	}
	return nil
}

// assemble builds the deduplicated, visibility-checked candidate set.
func (a *Assembler) assemble(ctx context.Context, userID string, departmentID *string) ([]*candidate, error) {
	now := time.Now()
	windowStart := now.Add(-a.opts.RecencyWindow)

	visibleOrgs, err := a.visibleOrgIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := a.pushedEntries(ctx, userID, windowStart)
	if err != nil {
		return nil, err
	}
	celebrityPosts, err := a.celebrityPosts(ctx, userID, visibleOrgs, windowStart)
	if err != nil {
		return nil, err
	}
	interactedPosts, err := a.interactedPosts(ctx, userID, windowStart)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*candidate)
	ordered := []*candidate{}
	add := func(post *model.Post, stored *model.FeedEntry) *candidate {
		if post == nil || post.Id == "" {
			return nil
		}
		if existing, ok := byID[post.Id]; ok {
			return existing
		}
		if !a.visible(post, userID, visibleOrgs) {
			return nil
		}
		if departmentID != nil && post.UniversityID != nil && post.DepartmentID != nil && *post.DepartmentID != *departmentID {
			return nil
		}
		cand := &candidate{post: post, orgMember: a.orgRelevant(post, visibleOrgs)}
		if stored != nil {
			cand.score = stored.Score
			cand.storedScore = true
			cand.interacted = stored.Interacted
		}
		byID[post.Id] = cand
		ordered = append(ordered, cand)
		return cand
	}

	for _, entry := range entries {
		add(entry.Post, entry)
	}
	for _, post := range celebrityPosts {
		add(post, nil)
	}

	// The pinned block keeps interaction order for the cap, then renders
	// by post recency.
	pinnedCount := 0
	for _, post := range interactedPosts {
		if pinnedCount >= a.opts.InteractedBlockCap {
			break
		}
		cand := add(post, nil)
		if cand == nil {
			continue
		}
		cand.pinned = true
		cand.interacted = true
		pinnedCount++
	}

	if err := a.attachEngagement(ctx, ordered, visibleOrgs, now); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (a *Assembler) visible(post *model.Post, userID string, visibleOrgs map[string]bool) bool {
	if post.AuthorID == userID {
		return true
	}
	if !post.IsPrivate {
		return true
	}
	if post.UniversityID != nil {
		return visibleOrgs[*post.UniversityID]
	}
	if post.CompanyID != nil {
		return visibleOrgs[*post.CompanyID]
	}
	return false
}

func (a *Assembler) orgRelevant(post *model.Post, visibleOrgs map[string]bool) bool {
	if post.UniversityID != nil && visibleOrgs[*post.UniversityID] {
		return true
	}
	if post.CompanyID != nil && visibleOrgs[*post.CompanyID] {
		return true
	}
	return false
}

// visibleOrgIDs is the union of the user's memberships and adminships.
func (a *Assembler) visibleOrgIDs(ctx context.Context, userID string) (map[string]bool, error) {
	orgs := make(map[string]bool)

	var memberships []*model.OrganizationMembership
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load memberships")
	}
	for _, m := range memberships {
		if m.UniversityID != nil {
			orgs[*m.UniversityID] = true
		}
		if m.CompanyID != nil {
			orgs[*m.CompanyID] = true
		}
	}

	var universityAdmins []model.UniversityAdmin
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Find(&universityAdmins).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load university adminships")
	}
	for _, row := range universityAdmins {
		orgs[row.UniversityID] = true
	}

	var companyAdmins []model.CompanyAdmin
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Find(&companyAdmins).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load company adminships")
	}
	for _, row := range companyAdmins {
		orgs[row.CompanyID] = true
	}
	return orgs, nil
}

func (a *Assembler) pushedEntries(ctx context.Context, userID string, windowStart time.Time) ([]*model.FeedEntry, error) {
	var entries []*model.FeedEntry
	err := a.db.WithContext(ctx).
		Preload("Post").Preload("Post.Author").
		Joins("JOIN posts ON posts.id = feed_entries.post_id AND posts.deleted_at IS NULL").
		Where("feed_entries.user_id = ? AND posts.created_at >= ?", userID, windowStart).
		Order("posts.created_at DESC").
		Limit(a.opts.FetchLimit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to load pushed feed entries")
	}
	return entries, nil
}

// celebrityPosts pulls marker posts the user is entitled to: authors the
// user follows plus posts in the user's organizations.
func (a *Assembler) celebrityPosts(ctx context.Context, userID string, visibleOrgs map[string]bool, windowStart time.Time) ([]*model.Post, error) {
	var followed []*model.Post
	err := a.db.WithContext(ctx).
		Preload("Author").
		Joins("JOIN celebrity_post_caches ON celebrity_post_caches.post_id = posts.id").
		Joins("JOIN follows ON follows.followee_id = celebrity_post_caches.author_id AND follows.follower_id = ?", userID).
		Where("posts.created_at >= ?", windowStart).
		Order("posts.created_at DESC").
		Limit(a.opts.FetchLimit).
		Find(&followed).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to pull celebrity posts by follow")
	}

	if len(visibleOrgs) == 0 {
		return followed, nil
	}
	orgIDs := make([]string, 0, len(visibleOrgs))
	for id := range visibleOrgs {
		orgIDs = append(orgIDs, id)
	}
	sort.Strings(orgIDs)

	var orgPosts []*model.Post
	err = a.db.WithContext(ctx).
		Preload("Author").
		Joins("JOIN celebrity_post_caches ON celebrity_post_caches.post_id = posts.id").
		Where("posts.created_at >= ? AND (posts.university_id IN ? OR posts.company_id IN ?)", windowStart, orgIDs, orgIDs).
		Order("posts.created_at DESC").
		Limit(a.opts.FetchLimit).
		Find(&orgPosts).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to pull celebrity posts by organization")
	}
	return append(followed, orgPosts...), nil
}

// interactedPosts returns in-window posts the user liked, commented on or
// shared, most recent interaction first. The block cap is applied later,
// after visibility filtering.
func (a *Assembler) interactedPosts(ctx context.Context, userID string, windowStart time.Time) ([]*model.Post, error) {
	type interactionRow struct {
		PostID string
		LastAt time.Time
	}
	lastInteraction := make(map[string]time.Time)
	merge := func(rows []interactionRow) {
		for _, row := range rows {
			if existing, ok := lastInteraction[row.PostID]; !ok || row.LastAt.After(existing) {
				lastInteraction[row.PostID] = row.LastAt
			}
		}
	}

	var rows []interactionRow
	if err := a.db.WithContext(ctx).Model(&model.Like{}).
		Select("post_id, MAX(created_at) AS last_at").
		Where("user_id = ?", userID).Group("post_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load liked posts")
	}
	merge(rows)

	rows = nil
	if err := a.db.WithContext(ctx).Model(&model.Comment{}).
		Select("post_id, MAX(created_at) AS last_at").
		Where("author_id = ?", userID).Group("post_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load commented posts")
	}
	merge(rows)

	rows = nil
	if err := a.db.WithContext(ctx).Model(&model.Share{}).
		Select("post_id, MAX(created_at) AS last_at").
		Where("user_id = ?", userID).Group("post_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load shared posts")
	}
	merge(rows)

	if len(lastInteraction) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(lastInteraction))
	for id := range lastInteraction {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := lastInteraction[ids[i]], lastInteraction[ids[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] < ids[j]
	})
	if len(ids) > a.opts.FetchLimit {
		ids = ids[:a.opts.FetchLimit]
	}

	var posts []*model.Post
	if err := a.db.WithContext(ctx).
		Preload("Author").
		Where("id IN ? AND created_at >= ?", ids, windowStart).
		Find(&posts).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load interacted posts")
	}

	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	sort.Slice(posts, func(i, j int) bool { return rank[posts[i].Id] < rank[posts[j].Id] })
	return posts, nil
}

// attachEngagement batch-loads live interaction counters and fills in
// scores for candidates pulled without a stored entry.
func (a *Assembler) attachEngagement(ctx context.Context, candidates []*candidate, visibleOrgs map[string]bool, now time.Time) error {
	if len(candidates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		ids = append(ids, cand.post.Id)
	}

	type countRow struct {
		PostID string
		N      int
	}
	counts := make(map[string]*EngagementCounts, len(ids))
	for _, id := range ids {
		counts[id] = &EngagementCounts{}
	}

	var rows []countRow
	if err := a.db.WithContext(ctx).Model(&model.Like{}).
		Select("post_id, COUNT(*) AS n").Where("post_id IN ?", ids).Group("post_id").
		Find(&rows).Error; err != nil {
		return errors.Wrap(err, "fail to count likes")
	}
	for _, row := range rows {
		counts[row.PostID].Likes = row.N
	}

	rows = nil
	if err := a.db.WithContext(ctx).Model(&model.Comment{}).
		Select("post_id, COUNT(*) AS n").Where("post_id IN ?", ids).Group("post_id").
		Find(&rows).Error; err != nil {
		return errors.Wrap(err, "fail to count comments")
	}
	for _, row := range rows {
		counts[row.PostID].Comments = row.N
	}

	rows = nil
	if err := a.db.WithContext(ctx).Model(&model.Share{}).
		Select("post_id, COUNT(*) AS n").Where("post_id IN ?", ids).Group("post_id").
		Find(&rows).Error; err != nil {
		return errors.Wrap(err, "fail to count shares")
	}
	for _, row := range rows {
		counts[row.PostID].Shares = row.N
	}

	for _, cand := range candidates {
		cand.counts = *counts[cand.post.Id]
		if !cand.storedScore {
			// pulled or pinned without a stored entry, score on demand
			cand.score = a.scorer.Score(cand.post, cand.counts, visibleOrgs, now)
		}
	}
	return nil
}

// order sorts candidates in place: pinned block first by post recency,
// then the requested algorithm, post id breaking every remaining tie.
func (a *Assembler) order(candidates []*candidate, algorithm string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.pinned != cj.pinned {
			return ci.pinned
		}
		if ci.pinned && cj.pinned {
			return a.byCreatedThenID(ci, cj)
		}
		switch algorithm {
		case AlgorithmChronological:
			return a.byCreatedThenID(ci, cj)
		case AlgorithmEngagement:
			wi, wj := a.scorer.WeightedEngagement(ci.counts), a.scorer.WeightedEngagement(cj.counts)
			if wi != wj {
				return wi > wj
			}
			return a.byCreatedThenID(ci, cj)
		default: // AlgorithmMixed
			if !ci.post.CreatedAt.Equal(cj.post.CreatedAt) {
				return ci.post.CreatedAt.After(cj.post.CreatedAt)
			}
			wi, wj := a.scorer.WeightedEngagement(ci.counts), a.scorer.WeightedEngagement(cj.counts)
			if wi != wj {
				return wi > wj
			}
			if ci.orgMember != cj.orgMember {
				return ci.orgMember
			}
			return ci.post.Id < cj.post.Id
		}
	})
}

func (a *Assembler) byCreatedThenID(ci, cj *candidate) bool {
	if !ci.post.CreatedAt.Equal(cj.post.CreatedAt) {
		return ci.post.CreatedAt.After(cj.post.CreatedAt)
	}
	return ci.post.Id < cj.post.Id
}

func (a *Assembler) summarize(cand *candidate) *PostSummary {
	summary := &PostSummary{}
	if err := copier.Copy(summary, cand.post); err != nil {
		Logger.Log.Error("fail to copy post into summary: ", err)
	}
	summary.ContentPreview = utils.TruncateString(cand.post.Content, ContentPreviewRunes)
	if cand.post.Author != nil {
		summary.AuthorName = cand.post.Author.Name
	}
	summary.Score = cand.score
	summary.LikeCount = cand.counts.Likes
	summary.CommentCount = cand.counts.Comments
	summary.ShareCount = cand.counts.Shares
	summary.Interacted = cand.interacted
	return summary
}
