package feed

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

const (
	TopicPostCreated        = "feed.post.created"
	TopicInteraction        = "feed.interaction"
	TopicDistributionResult = "feed.distribution.result"
)

const (
	InteractionLike    = "like"
	InteractionUnlike  = "unlike"
	InteractionComment = "comment"
	InteractionShare   = "share"
	InteractionView    = "view"
)

// PostCreatedEvent is published after a post row is committed. The
// distributor fans the post out when it sees this event.
type PostCreatedEvent struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// InteractionEvent is published after a like/unlike/comment/share/view is
// committed. Consumers must tolerate duplicates.
type InteractionEvent struct {
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// DistributionResult summarizes one fan-out run for the reporter.
type DistributionResult struct {
	PostID        string `json:"post_id"`
	Recipients    int    `json:"recipients"`
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
	Celebrity     bool   `json:"celebrity"`
	ElapsedMs     int64  `json:"elapsed_ms"`
}

// EventSink decouples event producers from the transport. The embedded
// deployment uses the in-process gochannel bus, the split deployment
// publishes to SNS.
type EventSink interface {
	Publish(topic string, payload interface{}) error
}

// GoChannelEventSink publishes JSON payloads onto a watermill gochannel
// bus shared with the subscribing modules.
type GoChannelEventSink struct {
	channel *gochannel.GoChannel
}

func NewGoChannelEventSink(channel *gochannel.GoChannel) *GoChannelEventSink {
	return &GoChannelEventSink{channel: channel}
}

func (s *GoChannelEventSink) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "fail to marshal event payload")
	}
	return s.channel.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// NewEventBus builds the shared in-process bus with the settings every
// binary uses.
func NewEventBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            100,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)
}
