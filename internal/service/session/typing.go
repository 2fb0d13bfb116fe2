package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/utils/log"
)

// typingIdleDelay is the trailing quiet period after which a typing signal
// is withdrawn.
const typingIdleDelay = 2 * time.Second

type (
	// TypingNotifier collapses raw input events into start/stop typing
	// broadcasts. Two states, idle and typing: the first input event emits
	// a start, every input event re-arms the trailing timer, and expiry,
	// send or teardown emit the stop. A stale typing signal is never left
	// visible to peers.
	TypingNotifier struct {
		selfID   string
		presence PresenceChannel

		mu     sync.Mutex
		typing bool
		chatID string
		timer  *time.Timer
		delay  time.Duration
	}
)

func NewTypingNotifier(selfID string, presence PresenceChannel) *TypingNotifier {
	return &TypingNotifier{
		selfID:   selfID,
		presence: presence,
		delay:    typingIdleDelay,
	}
}

// Input records one raw input event in the given chat.
func (t *TypingNotifier) Input(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing && t.chatID != chatID {
		t.broadcast(t.chatID, false)
		t.typing = false
	}

	if !t.typing {
		t.typing = true
		t.chatID = chatID
		t.broadcast(chatID, true)
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, t.expire)
}

func (t *TypingNotifier) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.typing {
		return
	}
	t.typing = false
	t.broadcast(t.chatID, false)
}

// Stop cancels the pending timer and, if a typing signal is outstanding,
// withdraws it synchronously. Called on send and on teardown.
func (t *TypingNotifier) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.typing {
		t.typing = false
		t.broadcast(t.chatID, false)
	}
}

func (t *TypingNotifier) broadcast(chatID string, isTyping bool) {
	ev := model.TypingEvent{ChatID: chatID, UserID: t.selfID, IsTyping: isTyping}
	if err := t.presence.BroadcastTyping(context.TODO(), ev); err != nil {
		log.Warn("typing broadcast failed", zap.Error(err))
	}
}
