package distributor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/utils"
	"github.com/stretchr/testify/require"
)

type fakeQueueMessage struct {
	body string
}

func (m *fakeQueueMessage) Read() (string, error) {
	return m.body, nil
}

// fakeQueueReader serves pre-loaded messages, standing in for SQS.
type fakeQueueReader struct {
	mu      sync.Mutex
	pending []MessageQueueMessage
	deleted int
}

func (r *fakeQueueReader) ReceiveMessages(maxNumberOfMessages int64) ([]MessageQueueMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int(maxNumberOfMessages)
	if n > len(r.pending) {
		n = len(r.pending)
	}
	batch := r.pending[:n]
	r.pending = r.pending[n:]
	return batch, nil
}

func (r *fakeQueueReader) DeleteMessage(msg MessageQueueMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted++
	return nil
}

func envelopeBody(t *testing.T, topic string, payload interface{}) string {
	t.Helper()
	inner, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Envelope{Topic: topic, Payload: inner})
	require.NoError(t, err)
	return string(raw)
}

func TestDispatchEnvelopeDistributesPost(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	author := utils.TestCreateUser(t, f.db, "author")
	follower := utils.TestCreateUser(t, f.db, "follower")
	utils.TestFollow(t, f.db, follower, author)
	post := utils.TestCreatePost(t, f.db, author, "lake trip", time.Now().Add(-time.Minute))

	body := envelopeBody(t, feed.TopicPostCreated, feed.PostCreatedEvent{
		PostID:    post.Id,
		AuthorID:  author.Id,
		CreatedAt: post.CreatedAt,
	})
	require.NoError(t, DispatchEnvelope(context.Background(), f.d, body))

	entries := f.entriesForPost(t, post.Id)
	require.Len(t, entries, 2)
}

func TestDispatchEnvelopeAppliesInteraction(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "lake trip", time.Now().Add(-time.Minute))
	_, err := f.d.DistributePost(context.Background(), post.Id)
	require.NoError(t, err)

	body := envelopeBody(t, feed.TopicInteraction, feed.InteractionEvent{
		UserID:    author.Id,
		PostID:    post.Id,
		Kind:      feed.InteractionComment,
		CreatedAt: time.Now(),
	})
	require.NoError(t, DispatchEnvelope(context.Background(), f.d, body))

	entries := f.entriesForPost(t, post.Id)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Interacted)
}

func TestDispatchEnvelopeRejectsBadInput(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())

	require.Error(t, DispatchEnvelope(context.Background(), f.d, "{not json"))

	body := envelopeBody(t, "feed.unknown", feed.InteractionEvent{})
	err := DispatchEnvelope(context.Background(), f.d, body)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unhandled event topic")
}

// Mirrors the consumption loop in cmd/distributor: receive, dispatch,
// delete, leave failures on the queue.
func TestQueueConsumption(t *testing.T) {
	f := newDistributorFixture(t, feed.DefaultOptions())
	author := utils.TestCreateUser(t, f.db, "author")
	post := utils.TestCreatePost(t, f.db, author, "lake trip", time.Now().Add(-time.Minute))

	reader := &fakeQueueReader{pending: []MessageQueueMessage{
		&fakeQueueMessage{body: envelopeBody(t, feed.TopicPostCreated, feed.PostCreatedEvent{PostID: post.Id})},
		&fakeQueueMessage{body: "{not json"},
		&fakeQueueMessage{body: envelopeBody(t, feed.TopicInteraction, feed.InteractionEvent{
			UserID: author.Id,
			PostID: post.Id,
			Kind:   feed.InteractionLike,
		})},
	}}

	for {
		messages, err := reader.ReceiveMessages(10)
		require.NoError(t, err)
		if len(messages) == 0 {
			break
		}
		for _, msg := range messages {
			raw, err := msg.Read()
			require.NoError(t, err)
			if err := DispatchEnvelope(context.Background(), f.d, raw); err != nil {
				continue
			}
			require.NoError(t, reader.DeleteMessage(msg))
		}
	}

	entries := f.entriesForPost(t, post.Id)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Interacted)
	require.Equal(t, 2, reader.deleted)
}
