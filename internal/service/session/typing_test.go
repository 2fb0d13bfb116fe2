package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearchat/internal/model"
)

func newTypingFixture(delay time.Duration) (*TypingNotifier, *fakePresenceChannel) {
	presence := newFakePresenceChannel()
	n := NewTypingNotifier(selfID, presence)
	n.delay = delay
	return n, presence
}

func TestTypingStartEmittedOnce(t *testing.T) {
	n, presence := newTypingFixture(time.Minute)

	n.Input("chatA")
	n.Input("chatA")
	n.Input("chatA")

	sent := presence.sentBroadcasts()
	require.Len(t, sent, 1, "a burst of input emits a single start")
	assert.Equal(t, model.TypingEvent{ChatID: "chatA", UserID: selfID, IsTyping: true}, sent[0])
}

func TestTypingStopsAfterIdle(t *testing.T) {
	n, presence := newTypingFixture(10 * time.Millisecond)

	n.Input("chatA")

	require.True(t, waitFor(time.Second, func() bool {
		return len(presence.sentBroadcasts()) == 2
	}))
	sent := presence.sentBroadcasts()
	assert.True(t, sent[0].IsTyping)
	assert.False(t, sent[1].IsTyping)

	// A later input starts a fresh cycle.
	n.Input("chatA")
	require.True(t, waitFor(time.Second, func() bool {
		return len(presence.sentBroadcasts()) == 4
	}))
}

func TestTypingInputExtendsTimer(t *testing.T) {
	n, presence := newTypingFixture(250 * time.Millisecond)

	n.Input("chatA")
	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond)
		n.Input("chatA")
	}
	// Timer kept getting re-armed, so no stop has fired yet.
	assert.Len(t, presence.sentBroadcasts(), 1)
}

func TestTypingStopSynchronous(t *testing.T) {
	n, presence := newTypingFixture(time.Minute)

	n.Input("chatA")
	n.Stop()

	sent := presence.sentBroadcasts()
	require.Len(t, sent, 2, "stop must withdraw the signal immediately")
	assert.False(t, sent[1].IsTyping)

	// Stop while idle is a no-op.
	n.Stop()
	assert.Len(t, presence.sentBroadcasts(), 2)
}

func TestTypingChatSwitchWithdrawsOldSignal(t *testing.T) {
	n, presence := newTypingFixture(time.Minute)

	n.Input("chatA")
	n.Input("chatB")

	sent := presence.sentBroadcasts()
	require.Len(t, sent, 3)
	assert.Equal(t, "chatA", sent[1].ChatID)
	assert.False(t, sent[1].IsTyping)
	assert.Equal(t, "chatB", sent[2].ChatID)
	assert.True(t, sent[2].IsTyping)
}
