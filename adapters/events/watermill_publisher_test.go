package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, topic string) (*gochannel.GoChannel, <-chan *message.Message) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	messages, err := pubSub.Subscribe(ctx, topic)
	require.NoError(t, err)
	return pubSub, messages
}

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestPublishLogout(t *testing.T) {
	pubSub, messages := subscribe(t, TopicLogout)
	pub := NewWatermillPublisher(pubSub)

	require.NoError(t, pub.PublishLogout(context.Background(), "0xabc", "refresh-1"))

	msg := receive(t, messages)
	assert.Equal(t, "refresh-1", msg.UUID)

	var event LogoutEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, LogoutEvent{Address: "0xabc", TokenID: "refresh-1"}, event)
}

func TestPublishChallengeCreated(t *testing.T) {
	pubSub, messages := subscribe(t, TopicChallengeCreated)
	pub := NewWatermillPublisher(pubSub)

	require.NoError(t, pub.PublishChallengeCreated(context.Background(), "0xabc"))

	msg := receive(t, messages)
	assert.NotEmpty(t, msg.UUID)
	assert.JSONEq(t, `{"address":"0xabc"}`, string(msg.Payload))
}

func TestPublishAfterClose(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	require.NoError(t, pubSub.Close())

	pub := NewWatermillPublisher(pubSub)
	assert.Error(t, pub.PublishChallengeCreated(context.Background(), "0xabc"))
}
