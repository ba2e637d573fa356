package distributor

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/photocampus/feedengine/feed"
	Logger "github.com/photocampus/feedengine/utils/log"
)

type ModuleConfig struct {
	Name string
}

// Module runs the distributor against the in-process event bus,
// consuming post-created and interaction events published by the API
// server. Decoding failures are logged and dropped, a poison message
// must not stall the feed pipeline.
type Module struct {
	Config ModuleConfig

	EventBus *gochannel.GoChannel

	distributor *Distributor
}

func NewModule(config ModuleConfig, d *Distributor, e *gochannel.GoChannel) *Module {
	return &Module{
		Config:      config,
		EventBus:    e,
		distributor: d,
	}
}

func (m *Module) RunModule(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	postMessages, err := m.EventBus.Subscribe(ctx, feed.TopicPostCreated)
	if err != nil {
		return err
	}
	interactionMessages, err := m.EventBus.Subscribe(ctx, feed.TopicInteraction)
	if err != nil {
		return err
	}

	for {
		select {
		case msg, ok := <-postMessages:
			if !ok {
				return nil
			}
			msg.Ack()
			m.handlePostCreated(ctx, msg)
		case msg, ok := <-interactionMessages:
			if !ok {
				return nil
			}
			msg.Ack()
			m.handleInteraction(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Module) handlePostCreated(ctx context.Context, msg *message.Message) {
	event := feed.PostCreatedEvent{}
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		Logger.Log.Error("cannot decode post created event: ", err)
		return
	}
	if _, err := m.distributor.DistributePost(ctx, event.PostID); err != nil {
		Logger.Log.Errorf("fail to distribute post %s: %v", event.PostID, err)
	}
}

func (m *Module) handleInteraction(ctx context.Context, msg *message.Message) {
	event := feed.InteractionEvent{}
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		Logger.Log.Error("cannot decode interaction event: ", err)
		return
	}
	if err := m.distributor.HandleInteraction(ctx, event.UserID, event.PostID, event.Kind); err != nil {
		Logger.Log.Errorf("fail to handle %s interaction on post %s: %v", event.Kind, event.PostID, err)
	}
}

func (m *Module) Name() string {
	return m.Config.Name
}

func (m *Module) Shutdown() {}
