package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/server/middlewares"
	"github.com/photocampus/feedengine/server/resolver"
	"github.com/pkg/errors"
)

// The REST routes exist for the mobile clients that predate the GraphQL
// gateway. They are thin wrappers over the same resolver entry points.

func statusForError(err error) int {
	switch {
	case errors.Is(err, resolver.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, feed.ErrUnknownUser), errors.Is(err, resolver.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrAlreadyLiked):
		return http.StatusConflict
	case errors.Is(err, feed.ErrBadAlgorithm), errors.Is(err, feed.ErrBadPage),
		errors.Is(err, feed.ErrBadCursor), errors.Is(err, resolver.ErrEmptyField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{
		"msg": err.Error(),
	})
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer, got %q", key, raw)
	}
	return value, nil
}

// HomeFeedHandler serves the offset-paginated rendering of the caller's
// home feed.
func HomeFeedHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middlewares.UserFromContext(c.Request.Context())
		if !ok {
			abortWithError(c, resolver.ErrNotAuthenticated)
			return
		}

		page, err := intQuery(c, "page", 1)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		// zero lets the assembler pick its configured default
		pageSize, err := intQuery(c, "page_size", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		var department *string
		if raw := c.Query("department"); raw != "" {
			department = &raw
		}

		feedPage, err := root.Assembler.HomeFeed(
			c.Request.Context(), userID, page, pageSize, c.Query("algorithm"), department)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, feedPage)
	}
}

// LikeHandler is the REST twin of the likePost mutation.
func LikeHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		success, err := root.LikePost(c.Request.Context(), resolver.PostIDArgs{
			PostID: graphql.ID(c.Param("id")),
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": success})
	}
}

func UnlikeHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		success, err := root.UnlikePost(c.Request.Context(), resolver.PostIDArgs{
			PostID: graphql.ID(c.Param("id")),
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": success})
	}
}

type commentBody struct {
	Content string `json:"content"`
}

func CommentHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body commentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed body: " + err.Error()})
			return
		}
		success, err := root.CommentPost(c.Request.Context(), resolver.CommentPostArgs{
			PostID:  graphql.ID(c.Param("id")),
			Content: body.Content,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": success})
	}
}

type shareBody struct {
	SharedWith *string `json:"shared_with"`
}

// ShareHandler accepts an optional body naming who the post was shared
// with.
func ShareHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body shareBody
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed body: " + err.Error()})
			return
		}
		success, err := root.SharePost(c.Request.Context(), resolver.SharePostArgs{
			PostID:     graphql.ID(c.Param("id")),
			SharedWith: body.SharedWith,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": success})
	}
}

type postCreatedBody struct {
	PostID string `json:"post_id"`
}

// OnPostCreatedHandler takes the upload pipeline's hook call. Responds
// 202 since distribution itself runs on the distributor workers, not in
// this request.
func OnPostCreatedHandler(root *resolver.RootResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body postCreatedBody
		if err := c.ShouldBindJSON(&body); err != nil || body.PostID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "post_id is required"})
			return
		}
		if err := root.NotifyPostCreated(c.Request.Context(), body.PostID); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"post_id": body.PostID})
	}
}
