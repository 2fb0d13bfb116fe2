// Package store holds the single in-process view of the user's
// conversations: the chat list, per-chat message lists in arrival order,
// the ephemeral online and typing maps, and the selected-chat pointer.
//
// Every mutating operation is atomic under the store mutex and idempotent
// under duplicate delivery, so the bootstrap fetch, the local send path and
// the push stream may all race to introduce the same logical row. Messages
// are stored once, canonically; a chat's last message is derived from the
// tail of its arrival-ordered list, never kept as a second copy.
package store

import (
	"slices"
	"sort"
	"sync"

	"clearchat/internal/model"
)

type Store struct {
	mu sync.RWMutex

	activeChatID string
	chats        []model.Chat
	messages     map[string][]model.Message
	seen         map[string]map[string]struct{}
	online       map[string]bool
	typing       map[string]map[string]struct{}

	watchers []chan struct{}
}

func New() *Store {
	return &Store{
		messages: make(map[string][]model.Message),
		seen:     make(map[string]map[string]struct{}),
		online:   make(map[string]bool),
		typing:   make(map[string]map[string]struct{}),
	}
}

// Watch returns a channel that receives a tick after every state change.
// Ticks are coalesced: a slow consumer sees at least one tick for any burst
// of changes.
func (s *Store) Watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *Store) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetActiveChat moves the selected-chat pointer. An empty id clears it.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeChatID = chatID
	s.notifyLocked()
}

// SetChats replaces the chat list wholesale. Used after bootstrap and after
// local structural changes such as chat creation.
func (s *Store) SetChats(chats []model.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = slices.Clone(chats)
	s.notifyLocked()
}

// SetMessages replaces a chat's message list wholesale. Bootstrap only.
func (s *Store) SetMessages(chatID string, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[chatID] = slices.Clone(messages)
	ids := make(map[string]struct{}, len(messages))
	for i := range messages {
		ids[messages[i].ID] = struct{}{}
	}
	s.seen[chatID] = ids
	s.notifyLocked()
}

// AddMessage appends a message to its chat's list unless a message with the
// same id is already present. This is the idempotent merge that reconciles a
// local send with its later push echo and absorbs duplicate delivery. On
// insert, the owning chat's unread count grows by one iff the message is
// foreign to selfID and the chat is not the active one. Reports whether the
// message was inserted.
func (s *Store) AddMessage(msg model.Message, selfID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.seen[msg.ChatID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.seen[msg.ChatID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return false
	}

	ids[msg.ID] = struct{}{}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)

	for i := range s.chats {
		if s.chats[i].ID != msg.ChatID {
			continue
		}
		fromSelf := selfID != "" && msg.SenderID == selfID
		if !fromSelf && s.activeChatID != msg.ChatID {
			s.chats[i].UnreadCount++
		}
		break
	}

	s.notifyLocked()
	return true
}

// SetOnlineStatus upserts a single entry in the online map.
func (s *Store) SetOnlineStatus(userID string, isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online[userID] = isOnline
	s.notifyLocked()
}

// SetTypingStatus adds or removes userID from the chat's typing set.
// Idempotent in both directions.
func (s *Store) SetTypingStatus(chatID, userID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.typing[chatID]
	if isTyping {
		if set == nil {
			set = make(map[string]struct{})
			s.typing[chatID] = set
		}
		set[userID] = struct{}{}
	} else if set != nil {
		delete(set, userID)
	}
	s.notifyLocked()
}

// MarkAsRead flags every unread message in the chat not authored by userID
// as read, and resets the chat's unread count to zero regardless of whether
// any message changed.
func (s *Store) MarkAsRead(chatID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[chatID]
	for i := range msgs {
		if !msgs[i].IsRead && msgs[i].SenderID != userID {
			msgs[i].IsRead = true
		}
	}
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			s.chats[i].UnreadCount = 0
			break
		}
	}
	s.notifyLocked()
}

// UpdateMessage merges the patch into the matching message. Reports whether
// the message was found.
func (s *Store) UpdateMessage(chatID, messageID string, patch model.MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[chatID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			patch.Apply(&msgs[i])
			s.notifyLocked()
			return true
		}
	}
	return false
}

// RemoveChat drops a chat and everything attached to it, clearing the
// selected-chat pointer if it pointed there. Used when the user leaves a
// chat.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = slices.DeleteFunc(s.chats, func(c model.Chat) bool {
		return c.ID == chatID
	})
	delete(s.messages, chatID)
	delete(s.seen, chatID)
	delete(s.typing, chatID)
	if s.activeChatID == chatID {
		s.activeChatID = ""
	}
	s.notifyLocked()
}

// ActiveChatID returns the selected chat id, or empty when none is selected.
func (s *Store) ActiveChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChatID
}

// Chats returns a snapshot of the chat list with each chat's last message
// derived from the tail of its arrival-ordered message list.
func (s *Store) Chats() []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.chats)
	for i := range out {
		out[i].LastMessage = s.lastMessageLocked(out[i].ID)
	}
	return out
}

// Chat returns a snapshot of a single chat by id.
func (s *Store) Chat(chatID string) (model.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.chats {
		if s.chats[i].ID == chatID {
			c := s.chats[i]
			c.LastMessage = s.lastMessageLocked(chatID)
			return c, true
		}
	}
	return model.Chat{}, false
}

func (s *Store) lastMessageLocked(chatID string) *model.Message {
	msgs := s.messages[chatID]
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	return &last
}

// Messages returns a snapshot of a chat's message list in arrival order.
func (s *Store) Messages(chatID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[chatID])
}

// IsOnline reports the last known presence of a user. Unknown users are
// offline.
func (s *Store) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[userID]
}

// TypingIn returns the users currently typing in a chat, sorted for
// deterministic rendering.
func (s *Store) TypingIn(chatID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.typing[chatID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
