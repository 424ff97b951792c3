package pipeline

import (
	"testing"

	"soundrise/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 100; i++ {
		b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "receiving"})
	}
}

func TestSubscriberReceivesEventsInOrder(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("s1")

	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "assembling", Progress: 10})
	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "analyzing", Progress: 40})

	ev := <-ch
	assert.Equal(t, "assembling", ev.Stage)
	assert.NotZero(t, ev.Timestamp)

	ev = <-ch
	assert.Equal(t, "analyzing", ev.Stage)
}

func TestTerminalEventClosesStream(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("s1")

	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "completed", Terminal: true})

	ev, ok := <-ch
	require.True(t, ok)
	assert.True(t, ev.Terminal)

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after terminal event")

	// 终态之后的发布不 panic、不投递
	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "late"})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("s1")

	// 远超缓冲容量，发布端不能阻塞
	for i := 0; i < subscriberBuffer*3; i++ {
		b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "receiving"})
	}
	assert.LessOrEqual(t, len(ch), subscriberBuffer)
}

func TestEventsRoutedBySession(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe("s1")
	ch2 := b.Subscribe("s2")

	b.Publish(model.ProgressEvent{SessionID: "s2", Stage: "persisting"})

	assert.Empty(t, ch1)
	ev := <-ch2
	assert.Equal(t, "persisting", ev.Stage)
}

func TestResubscribeReplacesOldSubscriber(t *testing.T) {
	b := NewBroadcaster()
	old := b.Subscribe("s1")
	fresh := b.Subscribe("s1")

	_, ok := <-old
	assert.False(t, ok, "old subscriber should be closed on resubscribe")

	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "validating"})
	ev := <-fresh
	assert.Equal(t, "validating", ev.Stage)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("s1")

	b.Unsubscribe("s1", ch)
	b.Unsubscribe("s1", ch)
	b.Publish(model.ProgressEvent{SessionID: "s1", Stage: "receiving"})
}
