package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luna.social/internal/protocol"
)

func userEvent(agentID string) protocol.Event {
	ev := protocol.NewEvent(protocol.EventUserBrowse, protocol.ChannelUserActions, time.Now().UTC())
	ev.UserID = agentID
	return ev
}

func TestPublish_RoundTrip(t *testing.T) {
	b := NewBroker(10, 4)
	sub, err := b.Subscribe(protocol.ChannelUserActions, false)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	sent, err := b.Publish(userEvent("u001"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sent.Seq)
	assert.False(t, sent.CreatedAt.IsZero())

	select {
	case got := <-sub.C:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "u001", got.UserID)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublish_UnknownChannelRejected(t *testing.T) {
	b := NewBroker(10, 4)
	ev := protocol.NewEvent(protocol.EventUserBrowse, "nope", time.Now())
	_, err := b.Publish(ev)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))

	_, err = b.Subscribe("nope", false)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))
}

func TestHistory_EvictsOldestAtCapacity(t *testing.T) {
	b := NewBroker(1000, 4)
	for i := 0; i < 1500; i++ {
		_, err := b.Publish(userEvent(fmt.Sprintf("u%04d", i)))
		require.NoError(t, err)
	}

	hist, err := b.History(protocol.ChannelUserActions, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1000)
	assert.Equal(t, "u0500", hist[0].UserID)
	assert.Equal(t, "u1499", hist[999].UserID)
	assert.Equal(t, uint64(501), hist[0].Seq)
}

func TestHistory_LimitReturnsMostRecent(t *testing.T) {
	b := NewBroker(100, 4)
	for i := 0; i < 10; i++ {
		_, err := b.Publish(userEvent(fmt.Sprintf("u%03d", i)))
		require.NoError(t, err)
	}
	hist, err := b.History(protocol.ChannelUserActions, 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "u007", hist[0].UserID)
	assert.Equal(t, "u009", hist[2].UserID)
}

func TestSeq_MonotonicPerChannel(t *testing.T) {
	b := NewBroker(100, 4)
	for i := 0; i < 5; i++ {
		ev, err := b.Publish(userEvent("u001"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	// Another channel counts independently.
	booking := protocol.NewEvent(protocol.EventBookingCreated, protocol.ChannelBookings, time.Now())
	ev, err := b.Publish(booking)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestSubscribe_IncludeHistory(t *testing.T) {
	b := NewBroker(100, 4)
	for i := 0; i < 3; i++ {
		_, err := b.Publish(userEvent(fmt.Sprintf("u%03d", i)))
		require.NoError(t, err)
	}
	sub, err := b.Subscribe(protocol.ChannelUserActions, true)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		select {
		case got := <-sub.C:
			assert.Equal(t, uint64(i+1), got.Seq)
		case <-time.After(time.Second):
			t.Fatalf("history event %d never delivered", i)
		}
	}
}

func TestPublish_SlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroker(100, 2)
	sub, err := b.Subscribe(protocol.ChannelUserActions, false)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		_, err := b.Publish(userEvent(fmt.Sprintf("u%03d", i)))
		require.NoError(t, err)
	}

	// Queue capacity 2: early events were evicted, the two newest remain.
	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "u003", first.UserID)
	assert.Equal(t, "u004", second.UserID)

	// History is unaffected by subscriber backpressure.
	hist, err := b.History(protocol.ChannelUserActions, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 5)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroker(10, 4)
	sub, err := b.Subscribe(protocol.ChannelUserActions, false)
	require.NoError(t, err)
	b.Unsubscribe(sub)
	_, open := <-sub.C
	assert.False(t, open)
	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestClear_ResetsHistoryAndSeq(t *testing.T) {
	b := NewBroker(10, 4)
	for i := 0; i < 5; i++ {
		_, err := b.Publish(userEvent("u001"))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), b.Published())

	b.Clear()
	assert.Equal(t, uint64(0), b.Published())
	hist, err := b.History(protocol.ChannelUserActions, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)

	ev, err := b.Publish(userEvent("u001"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
}
