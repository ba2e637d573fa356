package server

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/photocampus/feedengine/server/graphql"
	"github.com/photocampus/feedengine/server/middlewares"
	"github.com/photocampus/feedengine/server/resolver"
	"github.com/photocampus/feedengine/utils"
)

// GraphqlHandler is the universal handler for all GraphQL queries issued from
// client, by default it binds to a POST method.
func GraphqlHandler(root *resolver.RootResolver) gin.HandlerFunc {
	schemaString := graphql.GetGQLSchema()
	h := &relay.Handler{
		Schema: utils.ParseGraphQLSchema(schemaString, root),
	}

	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// NewRouter builds the gin engine with every route of the feed service
// attached. Extra middlewares (tracing, debug identity) run before any
// route so they see all traffic.
func NewRouter(root *resolver.RootResolver, extraMiddlewares ...gin.HandlerFunc) *gin.Engine {
	// Default with the Logger and Recovery middleware already attached
	router := gin.Default()

	router.Use(cors.Default())
	for _, middleware := range extraMiddlewares {
		router.Use(middleware)
	}

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// Invoked by the upload pipeline once a post row is committed, kicks
	// off distribution without holding the uploader's request open.
	router.POST("/internal/on_post_created", OnPostCreatedHandler(root))

	// Setup graphql playground for debugging
	router.GET("/", func(c *gin.Context) {
		playground.Handler("GraphQL", "/graphql").ServeHTTP(c.Writer, c.Request)
	})

	authed := router.Group("/", middlewares.Identity(root.DB))
	authed.POST("/graphql", GraphqlHandler(root))
	authed.GET("/api/home_feed", HomeFeedHandler(root))
	authed.POST("/api/posts/:id/like", LikeHandler(root))
	authed.POST("/api/posts/:id/unlike", UnlikeHandler(root))
	authed.POST("/api/posts/:id/comment", CommentHandler(root))
	authed.POST("/api/posts/:id/share", ShareHandler(root))

	return router
}
