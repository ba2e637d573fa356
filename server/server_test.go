package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/model"
	"github.com/photocampus/feedengine/server/middlewares"
	"github.com/photocampus/feedengine/server/resolver"
	"github.com/photocampus/feedengine/utils"
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

func (s *recordingSink) lastEvent() (string, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.topics) == 0 {
		return "", nil
	}
	return s.topics[len(s.topics)-1], s.last
}

type serverFixture struct {
	db     *gorm.DB
	router *gin.Engine
	sink   *recordingSink
	opts   feed.Options
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &serverFixture{
		db:   utils.NewTestDB(t),
		sink: &recordingSink{},
		opts: feed.DefaultOptions(),
	}
	scorer := feed.NewScorer(f.opts, rand.New(rand.NewSource(17)))
	assembler := feed.NewAssembler(f.db, nil, scorer, f.opts)
	f.router = NewRouter(&resolver.RootResolver{
		DB:        f.db,
		Assembler: assembler,
		Sink:      f.sink,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, user *model.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set(middlewares.IdentityHeader, user.Id)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) graphql(t *testing.T, user *model.User, query string, variables map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]interface{}{"query": query}
	if variables != nil {
		body["variables"] = variables
	}
	return f.do(t, http.MethodPost, "/graphql", user, body)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

// seedFeedEntry plants a precomputed feed row the way the distributor
// would have.
func (f *serverFixture) seedFeedEntry(t *testing.T, user *model.User, post *model.Post, score float64) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.FeedEntry{
		Id:     uuid.New().String(),
		UserID: user.Id,
		PostID: post.Id,
		Score:  score,
	}).Error)
}

func TestPingNeedsNoIdentity(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodGet, "/ping", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "pong")
}

func TestPlaygroundServed(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "GraphQL")
}

func TestHomeFeedRequiresIdentity(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodGet, "/api/home_feed", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "missing identity header")
}

func TestHomeFeedReturnsPage(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "campus fair", time.Now().Add(-time.Hour))
	f.seedFeedEntry(t, reader, post, 7.5)

	w := f.do(t, http.MethodGet, "/api/home_feed?page=1&page_size=10", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page feed.FeedPage
	decodeJSON(t, w, &page)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 10, page.PageSize)
	require.False(t, page.HasNext)
	require.Len(t, page.Results, 1)
	require.Equal(t, post.Id, page.Results[0].Id)
	require.Equal(t, "campus fair", page.Results[0].Title)
	require.Equal(t, author.Name, page.Results[0].AuthorName)
}

func TestHomeFeedRejectsBadParams(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")

	for _, path := range []string{
		"/api/home_feed?page=abc",
		"/api/home_feed?page=0",
		"/api/home_feed?page_size=abc",
		"/api/home_feed?algorithm=bogus",
	} {
		w := f.do(t, http.MethodGet, path, reader, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, "path %s: %s", path, w.Body.String())
	}
}

func TestHomeFeedUnknownUser(t *testing.T) {
	f := newServerFixture(t)
	ghost := &model.User{Id: uuid.New().String()}

	w := f.do(t, http.MethodGet, "/api/home_feed", ghost, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdentityBumpsActivity(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	longAgo := time.Now().Add(-45 * 24 * time.Hour)
	require.NoError(t, f.db.Model(reader).UpdateColumn("last_active_at", longAgo).Error)

	w := f.do(t, http.MethodGet, "/api/home_feed", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fresh model.User
	require.NoError(t, f.db.First(&fresh, "id = ?", reader.Id).Error)
	require.True(t, fresh.LastActiveAt.After(longAgo.Add(time.Hour)))
}

func TestLikeAndUnlikeRoundTrip(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "sunset", time.Now().Add(-time.Hour))

	var out struct {
		Success bool `json:"success"`
	}

	w := f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/like", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &out)
	require.True(t, out.Success)

	topic, payload := f.sink.lastEvent()
	require.Equal(t, feed.TopicInteraction, topic)
	event, ok := payload.(feed.InteractionEvent)
	require.True(t, ok)
	require.Equal(t, feed.InteractionLike, event.Kind)
	require.Equal(t, reader.Id, event.UserID)
	require.Equal(t, post.Id, event.PostID)

	// second like is a conflict, nothing further is published
	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/like", reader, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/unlike", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &out)
	require.True(t, out.Success)

	// nothing left to remove
	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/unlike", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &out)
	require.False(t, out.Success)

	var likes int64
	require.NoError(t, f.db.Model(&model.Like{}).Where("post_id = ?", post.Id).Count(&likes).Error)
	require.Zero(t, likes)
}

func TestLikeUnknownPost(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")

	w := f.do(t, http.MethodPost, "/api/posts/nope/like", reader, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommentEndpoint(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "library", time.Now().Add(-time.Hour))

	w := f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/comment", reader, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/comment", reader, gin.H{"content": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/comment", reader, gin.H{"content": "great shot"})
	require.Equal(t, http.StatusOK, w.Code)

	var comment model.Comment
	require.NoError(t, f.db.First(&comment, "post_id = ?", post.Id).Error)
	require.Equal(t, reader.Id, comment.AuthorID)
	require.Equal(t, "great shot", comment.Content)

	topic, payload := f.sink.lastEvent()
	require.Equal(t, feed.TopicInteraction, topic)
	require.Equal(t, feed.InteractionComment, payload.(feed.InteractionEvent).Kind)
}

func TestShareEndpoint(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "rooftop", time.Now().Add(-time.Hour))

	// body is optional
	w := f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/share", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/posts/"+post.Id+"/share", reader, gin.H{"shared_with": "roommates"})
	require.Equal(t, http.StatusOK, w.Code)

	var shares int64
	require.NoError(t, f.db.Model(&model.Share{}).Where("post_id = ?", post.Id).Count(&shares).Error)
	require.EqualValues(t, 2, shares)
	var labeled model.Share
	require.NoError(t, f.db.First(&labeled, "post_id = ? AND shared_with = ?", post.Id, "roommates").Error)
	require.Equal(t, reader.Id, labeled.UserID)
}

func TestOnPostCreatedHook(t *testing.T) {
	f := newServerFixture(t)
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "quad", time.Now().Add(-time.Minute))

	w := f.do(t, http.MethodPost, "/internal/on_post_created", nil, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/internal/on_post_created", nil, gin.H{"post_id": "nope"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/internal/on_post_created", nil, gin.H{"post_id": post.Id})
	require.Equal(t, http.StatusAccepted, w.Code)

	topic, payload := f.sink.lastEvent()
	require.Equal(t, feed.TopicPostCreated, topic)
	event, ok := payload.(feed.PostCreatedEvent)
	require.True(t, ok)
	require.Equal(t, post.Id, event.PostID)
	require.Equal(t, author.Id, event.AuthorID)
}

func TestGraphQLHomeFeed(t *testing.T) {
	f := newServerFixture(t)
	reader := utils.TestCreateUser(t, f.db, "reader")
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "first snow", time.Now().Add(-time.Hour))
	f.seedFeedEntry(t, reader, post, 8.0)

	w := f.graphql(t, reader, `
		query {
			homeFeed(first: 5) {
				edges {
					cursor
					node { id title authorName interacted }
				}
				pageInfo { hasNextPage endCursor }
			}
		}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			HomeFeed struct {
				Edges []struct {
					Cursor string
					Node   struct {
						Id         string
						Title      string
						AuthorName string
						Interacted bool
					}
				}
				PageInfo struct {
					HasNextPage bool
					EndCursor   *string
				}
			}
		}
		Errors []struct{ Message string }
	}
	decodeJSON(t, w, &resp)
	require.Empty(t, resp.Errors)
	require.Len(t, resp.Data.HomeFeed.Edges, 1)
	require.Equal(t, post.Id, resp.Data.HomeFeed.Edges[0].Node.Id)
	require.Equal(t, "first snow", resp.Data.HomeFeed.Edges[0].Node.Title)
	require.False(t, resp.Data.HomeFeed.PageInfo.HasNextPage)
	require.NotNil(t, resp.Data.HomeFeed.PageInfo.EndCursor)
	require.Equal(t, resp.Data.HomeFeed.Edges[0].Cursor, *resp.Data.HomeFeed.PageInfo.EndCursor)
}

func TestGraphQLMutations(t *testing.T) {
	f := newServerFixture(t)
	author := utils.TestCreateUser(t, f.db, "author")

	w := f.graphql(t, author, `
		mutation {
			createPost(input: {title: "open mic", content: "tonight at the quad"}) {
				id
				title
				contentPreview
				authorName
			}
		}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Data struct {
			CreatePost struct {
				Id             string
				Title          string
				ContentPreview string
				AuthorName     string
			}
		}
		Errors []struct{ Message string }
	}
	decodeJSON(t, w, &created)
	require.Empty(t, created.Errors)
	require.NotEmpty(t, created.Data.CreatePost.Id)
	require.Equal(t, "open mic", created.Data.CreatePost.Title)
	require.Equal(t, "tonight at the quad", created.Data.CreatePost.ContentPreview)
	require.Equal(t, author.Name, created.Data.CreatePost.AuthorName)

	var post model.Post
	require.NoError(t, f.db.First(&post, "id = ?", created.Data.CreatePost.Id).Error)
	topic, _ := f.sink.lastEvent()
	require.Equal(t, feed.TopicPostCreated, topic)

	liker := utils.TestCreateUser(t, f.db, "liker")
	likeQuery := `mutation Like($id: ID!) { likePost(postId: $id) }`

	w = f.graphql(t, liker, likeQuery, map[string]interface{}{"id": post.Id})
	var liked struct {
		Data struct {
			LikePost bool
		}
		Errors []struct{ Message string }
	}
	decodeJSON(t, w, &liked)
	require.Empty(t, liked.Errors)
	require.True(t, liked.Data.LikePost)

	// liking twice surfaces as a GraphQL error
	w = f.graphql(t, liker, likeQuery, map[string]interface{}{"id": post.Id})
	var duplicate struct {
		Errors []struct{ Message string }
	}
	decodeJSON(t, w, &duplicate)
	require.NotEmpty(t, duplicate.Errors)
	require.Contains(t, duplicate.Errors[0].Message, "already liked")
}

func TestGraphQLRequiresIdentity(t *testing.T) {
	f := newServerFixture(t)

	w := f.graphql(t, nil, `query { homeFeed { edges { cursor } pageInfo { hasNextPage } } }`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
