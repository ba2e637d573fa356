// Package resolver implements the GraphQL resolvers. The same entry
// points back the REST routes, both surfaces share one implementation.
package resolver

import (
	"context"

	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/server/middlewares"
	Logger "github.com/photocampus/feedengine/utils/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNotAuthenticated = errors.New("must be logged in")
	ErrPostNotFound     = errors.New("post not found")
	ErrAlreadyLiked     = errors.New("already liked this post")
	ErrEmptyField       = errors.New("required field is empty")
)

// RootResolver serves every query and mutation. It is the dependency
// injection point for the API server.
type RootResolver struct {
	DB        *gorm.DB
	Assembler *feed.Assembler
	Sink      feed.EventSink
}

// actor is the authenticated caller. Requests that skipped the identity
// middleware have no business mutating anything.
func actor(ctx context.Context) (string, error) {
	userID, ok := middlewares.UserFromContext(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}
	return userID, nil
}

func (r *RootResolver) publish(topic string, payload interface{}) {
	if r.Sink == nil {
		return
	}
	if err := r.Sink.Publish(topic, payload); err != nil {
		// feed updates are eventually repaired by maintenance, the
		// user-facing write already committed
		Logger.Log.Warnf("fail to publish %s event: %v", topic, err)
	}
}
