package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/model"
	"github.com/photocampus/feedengine/utils"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewPostInput mirrors the NewPostInput GraphQL input object.
type NewPostInput struct {
	Title        string
	Content      string
	UniversityID *graphql.ID
	CompanyID    *graphql.ID
	DepartmentID *graphql.ID
	IsPrivate    *bool
	Location     *string
	EventName    *string
}

// Argument structs are named so the REST routes can call the same
// resolver entry points.
type CreatePostArgs struct {
	Input NewPostInput
}

type PostIDArgs struct {
	PostID graphql.ID
}

type CommentPostArgs struct {
	PostID  graphql.ID
	Content string
}

type SharePostArgs struct {
	PostID     graphql.ID
	SharedWith *string
}

// CreatePost persists a post for the caller and kicks off feed
// distribution by publishing the post-created event.
func (r *RootResolver) CreatePost(ctx context.Context, args CreatePostArgs) (*postSummaryResolver, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	input := args.Input
	if input.Title == "" || input.Content == "" {
		return nil, errors.Wrap(ErrEmptyField, "title and content are required")
	}
	if input.UniversityID != nil && input.CompanyID != nil {
		return nil, errors.New("a post belongs to at most one organization")
	}

	var author model.User
	if err := r.DB.WithContext(ctx).First(&author, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, errors.Wrap(err, "fail to load author")
	}

	post := &model.Post{
		Id:           uuid.New().String(),
		AuthorID:     author.Id,
		Title:        input.Title,
		Content:      input.Content,
		UniversityID: optionalString(input.UniversityID),
		CompanyID:    optionalString(input.CompanyID),
		DepartmentID: optionalString(input.DepartmentID),
	}
	if input.IsPrivate != nil {
		post.IsPrivate = *input.IsPrivate
	}
	if input.Location != nil {
		post.Location = *input.Location
	}
	if input.EventName != nil {
		post.EventName = *input.EventName
	}
	if err := r.DB.WithContext(ctx).Create(post).Error; err != nil {
		return nil, errors.Wrap(err, "fail to create post")
	}

	// the row is committed, distribution happens asynchronously
	r.publish(feed.TopicPostCreated, feed.PostCreatedEvent{
		PostID:    post.Id,
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt,
	})

	return &postSummaryResolver{summary: &feed.PostSummary{
		Id:             post.Id,
		Title:          post.Title,
		ContentPreview: utils.TruncateString(post.Content, feed.ContentPreviewRunes),
		AuthorID:       author.Id,
		AuthorName:     author.Name,
		UniversityID:   post.UniversityID,
		CompanyID:      post.CompanyID,
		DepartmentID:   post.DepartmentID,
		IsPrivate:      post.IsPrivate,
		CreatedAt:      post.CreatedAt,
	}}, nil
}

// LikePost records a like. Liking a post twice is rejected the same way
// the platform frontend expects.
func (r *RootResolver) LikePost(ctx context.Context, args PostIDArgs) (bool, error) {
	userID, err := actor(ctx)
	if err != nil {
		return false, err
	}
	postID := string(args.PostID)
	if err := r.checkPostExists(ctx, postID); err != nil {
		return false, err
	}

	like := &model.Like{
		Id:     uuid.New().String(),
		PostID: postID,
		UserID: userID,
	}
	res := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(like)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "fail to create like")
	}
	if res.RowsAffected == 0 {
		return false, ErrAlreadyLiked
	}

	r.publishInteraction(userID, postID, feed.InteractionLike)
	return true, nil
}

// UnlikePost removes the caller's like. Returns false when there was
// nothing to remove.
func (r *RootResolver) UnlikePost(ctx context.Context, args PostIDArgs) (bool, error) {
	userID, err := actor(ctx)
	if err != nil {
		return false, err
	}
	postID := string(args.PostID)

	res := r.DB.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&model.Like{})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "fail to delete like")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	r.publishInteraction(userID, postID, feed.InteractionUnlike)
	return true, nil
}

func (r *RootResolver) CommentPost(ctx context.Context, args CommentPostArgs) (bool, error) {
	userID, err := actor(ctx)
	if err != nil {
		return false, err
	}
	if args.Content == "" {
		return false, errors.Wrap(ErrEmptyField, "comment content is required")
	}
	postID := string(args.PostID)
	if err := r.checkPostExists(ctx, postID); err != nil {
		return false, err
	}

	comment := &model.Comment{
		Id:       uuid.New().String(),
		PostID:   postID,
		AuthorID: userID,
		Content:  args.Content,
	}
	if err := r.DB.WithContext(ctx).Create(comment).Error; err != nil {
		return false, errors.Wrap(err, "fail to create comment")
	}

	r.publishInteraction(userID, postID, feed.InteractionComment)
	return true, nil
}

func (r *RootResolver) SharePost(ctx context.Context, args SharePostArgs) (bool, error) {
	userID, err := actor(ctx)
	if err != nil {
		return false, err
	}
	postID := string(args.PostID)
	if err := r.checkPostExists(ctx, postID); err != nil {
		return false, err
	}

	share := &model.Share{
		Id:     uuid.New().String(),
		PostID: postID,
		UserID: userID,
	}
	if args.SharedWith != nil {
		share.SharedWith = *args.SharedWith
	}
	if err := r.DB.WithContext(ctx).Create(share).Error; err != nil {
		return false, errors.Wrap(err, "fail to create share")
	}

	r.publishInteraction(userID, postID, feed.InteractionShare)
	return true, nil
}

// NotifyPostCreated re-announces an already committed post to the
// distribution pipeline. The internal upload hook calls it, the post row
// itself is written by the media service before the hook fires.
func (r *RootResolver) NotifyPostCreated(ctx context.Context, postID string) error {
	var post model.Post
	if err := r.DB.WithContext(ctx).First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrPostNotFound, "id %q", postID)
		}
		return errors.Wrap(err, "fail to load post")
	}

	r.publish(feed.TopicPostCreated, feed.PostCreatedEvent{
		PostID:    post.Id,
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt,
	})
	return nil
}

func (r *RootResolver) checkPostExists(ctx context.Context, postID string) error {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Post{}).Where("id = ?", postID).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "fail to check post")
	}
	if count == 0 {
		return errors.Wrapf(ErrPostNotFound, "id %q", postID)
	}
	return nil
}

func (r *RootResolver) publishInteraction(userID, postID, kind string) {
	r.publish(feed.TopicInteraction, feed.InteractionEvent{
		UserID:    userID,
		PostID:    postID,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
}

func optionalString(id *graphql.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}
