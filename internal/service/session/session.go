// Package session is the client-side synchronization engine. A Session is
// constructed at login and torn down at logout; it seeds the store from a
// bulk snapshot, then routes the row-change stream and the presence channel
// into the store's reducers until Close is called.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/store"
	"clearchat/internal/utils/log"
)

// recentMessageLimit is how many trailing messages are fetched per chat
// during bootstrap.
const recentMessageLimit = 50

type (
	ChatRepository interface {
		ParticipationsOf(ctx context.Context, userID string) ([]string, error)
		GetByIDs(ctx context.Context, ids []string) ([]model.Chat, error)
		ParticipantsByChat(ctx context.Context, chatIDs []string) (map[string][]string, error)
		Create(ctx context.Context, chat *model.Chat, memberIDs []string) error
		RemoveParticipant(ctx context.Context, chatID, userID string) error
	}

	ProfileRepository interface {
		GetByIDs(ctx context.Context, ids []string) ([]model.Profile, error)
		GetByUsername(ctx context.Context, username string) (*model.Profile, error)
	}

	MessageRepository interface {
		RecentByChat(ctx context.Context, chatID string, limit int64) ([]model.Message, error)
		Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
		Update(ctx context.Context, id string, patch model.MessagePatch) error
		MarkChatRead(ctx context.Context, chatID, readerID string) error
	}

	// RowChannel is the change-notification stream for message rows.
	RowChannel interface {
		Events() <-chan model.RowEvent
		PublishInsert(row model.Message) error
		PublishUpdate(row model.Message) error
		Close() error
	}

	// PresenceChannel combines presence tracking with the ephemeral typing
	// broadcast.
	PresenceChannel interface {
		Presence() <-chan model.PresenceEvent
		Typing() <-chan model.TypingEvent
		Track(ctx context.Context) error
		BroadcastTyping(ctx context.Context, ev model.TypingEvent) error
		Close(ctx context.Context) error
	}

	Session struct {
		selfID string
		store  *store.Store

		chats    ChatRepository
		profiles ProfileRepository
		messages MessageRepository
		rows     RowChannel
		presence PresenceChannel

		done      chan struct{}
		wg        sync.WaitGroup
		closeOnce sync.Once
	}
)

func New(selfID string, st *store.Store, chats ChatRepository, profiles ProfileRepository,
	messages MessageRepository, rows RowChannel, presence PresenceChannel) *Session {
	return &Session{
		selfID:   selfID,
		store:    st,
		chats:    chats,
		profiles: profiles,
		messages: messages,
		rows:     rows,
		presence: presence,
		done:     make(chan struct{}),
	}
}

func (s *Session) SelfID() string {
	return s.selfID
}

func (s *Session) Store() *store.Store {
	return s.store
}

// Bootstrap seeds the store: participations, then the chats joined with
// their participant profiles and the most recent messages per chat. On
// failure the store is left in its prior state.
func (s *Session) Bootstrap(ctx context.Context) error {
	chatIDs, err := s.chats.ParticipationsOf(ctx, s.selfID)
	if err != nil {
		return errors.Wrap(err, "fetch participations")
	}
	if len(chatIDs) == 0 {
		s.store.SetChats(nil)
		return nil
	}

	chats, err := s.chats.GetByIDs(ctx, chatIDs)
	if err != nil {
		return errors.Wrap(err, "fetch chats")
	}

	members, err := s.chats.ParticipantsByChat(ctx, chatIDs)
	if err != nil {
		return errors.Wrap(err, "fetch participants")
	}

	profiles, err := s.fetchMemberProfiles(ctx, members)
	if err != nil {
		return err
	}

	type fetched struct {
		chatID   string
		messages []model.Message
	}
	var lists []fetched

	for i := range chats {
		chat := &chats[i]

		msgs, err := s.messages.RecentByChat(ctx, chat.ID, recentMessageLimit)
		if err != nil {
			return errors.Wrapf(err, "fetch messages of chat %s", chat.ID)
		}
		// Newest-first from the query; reverse to chronological order.
		reverse(msgs)

		unread := 0
		for j := range msgs {
			msgs[j].DecryptedContent = msgs[j].EncryptedContent
			if !msgs[j].IsRead && msgs[j].SenderID != s.selfID {
				unread++
			}
		}

		for _, userID := range members[chat.ID] {
			if p, ok := profiles[userID]; ok {
				chat.Participants = append(chat.Participants, p)
			}
		}
		chat.UnreadCount = unread
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			chat.LastMessage = &last
			lists = append(lists, fetched{chatID: chat.ID, messages: msgs})
		}
	}

	// Message lists first so the chat list's derived views line up.
	for _, l := range lists {
		s.store.SetMessages(l.chatID, l.messages)
	}
	s.store.SetChats(chats)
	return nil
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func (s *Session) fetchMemberProfiles(ctx context.Context, members map[string][]string) (map[string]model.Profile, error) {
	set := make(map[string]struct{})
	var ids []string
	for _, userIDs := range members {
		for _, id := range userIDs {
			if _, ok := set[id]; !ok {
				set[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	profiles, err := s.profiles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch profiles")
	}

	byID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	return byID, nil
}

// Subscribe starts routing both live channels into the store and announces
// the local user's presence.
func (s *Session) Subscribe(ctx context.Context) error {
	s.wg.Add(2)
	go s.routeRows()
	go s.routePresence()

	if err := s.presence.Track(ctx); err != nil {
		return errors.Wrap(err, "track presence")
	}
	return nil
}

func (s *Session) routeRows() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.rows.Events():
			if !ok {
				log.Debug("row stream ended")
				return
			}
			s.applyRowEvent(ev)
		}
	}
}

func (s *Session) applyRowEvent(ev model.RowEvent) {
	switch ev.Kind {
	case model.RowInsert:
		row := ev.Row
		row.DecryptedContent = row.EncryptedContent
		s.store.AddMessage(row, s.selfID)
	case model.RowUpdate:
		if !s.store.UpdateMessage(ev.Row.ChatID, ev.Row.ID, model.PatchFrom(ev.Row)) {
			log.Debug("update for unknown message dropped",
				zap.String("chat_id", ev.Row.ChatID), zap.String("message_id", ev.Row.ID))
		}
	}
}

func (s *Session) routePresence() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.presence.Presence():
			if !ok {
				log.Debug("presence channel ended")
				return
			}
			online := ev.Kind != model.PresenceLeave
			for _, userID := range ev.UserIDs {
				s.store.SetOnlineStatus(userID, online)
			}
		case ev, ok := <-s.presence.Typing():
			if !ok {
				return
			}
			s.store.SetTypingStatus(ev.ChatID, ev.UserID, ev.IsTyping)
		}
	}
}

// SelectChat moves the active-chat pointer. An empty id deselects.
func (s *Session) SelectChat(chatID string) {
	s.store.SetActiveChat(chatID)
}

// CreateDirectChat starts a direct chat with the named user and adds it to
// the chat list.
func (s *Session) CreateDirectChat(ctx context.Context, username string) (*model.Chat, error) {
	peer, err := s.profiles.GetByUsername(ctx, username)
	if err != nil {
		return nil, errors.Wrap(err, "resolve peer")
	}
	if peer == nil {
		return nil, errors.Errorf("no such user: %s", username)
	}
	if peer.ID == s.selfID {
		return nil, errors.New("cannot start a chat with yourself")
	}

	self, err := s.profiles.GetByIDs(ctx, []string{s.selfID})
	if err != nil {
		return nil, errors.Wrap(err, "fetch own profile")
	}

	chat := &model.Chat{Type: model.ChatDirect}
	if err := s.chats.Create(ctx, chat, []string{s.selfID, peer.ID}); err != nil {
		return nil, errors.Wrap(err, "create chat")
	}

	chat.Participants = append(self, *peer)
	s.store.SetChats(append(s.store.Chats(), *chat))
	return chat, nil
}

// LeaveChat removes the local user's participant row and drops the chat
// from the local view.
func (s *Session) LeaveChat(ctx context.Context, chatID string) error {
	if err := s.chats.RemoveParticipant(ctx, chatID, s.selfID); err != nil {
		return errors.Wrap(err, "leave chat")
	}
	s.store.RemoveChat(chatID)
	return nil
}

// Close releases both channels. No reducer runs on their behalf afterwards;
// events still in flight are dropped.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.rows.Close(); err != nil {
			log.Warn("close row stream failed", zap.Error(err))
		}
		if err := s.presence.Close(ctx); err != nil {
			log.Warn("close presence channel failed", zap.Error(err))
		}
		s.wg.Wait()
	})
}
