package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clearchat/internal/model"
)

// fakeChatRepo serves canned rows and records structural writes.
type fakeChatRepo struct {
	participations map[string][]string
	chats          map[string]model.Chat
	members        map[string][]string

	created []model.Chat
	removed [][2]string

	participationsErr error
	createErr         error
	removeErr         error
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		participations: make(map[string][]string),
		chats:          make(map[string]model.Chat),
		members:        make(map[string][]string),
	}
}

func (f *fakeChatRepo) ParticipationsOf(_ context.Context, userID string) ([]string, error) {
	if f.participationsErr != nil {
		return nil, f.participationsErr
	}
	return f.participations[userID], nil
}

func (f *fakeChatRepo) GetByIDs(_ context.Context, ids []string) ([]model.Chat, error) {
	var out []model.Chat
	for _, id := range ids {
		if c, ok := f.chats[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChatRepo) ParticipantsByChat(_ context.Context, chatIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range chatIDs {
		out[id] = f.members[id]
	}
	return out, nil
}

func (f *fakeChatRepo) Create(_ context.Context, chat *model.Chat, memberIDs []string) error {
	if f.createErr != nil {
		return f.createErr
	}
	chat.ID = "chat-created"
	chat.CreatedAt = time.Now()
	f.created = append(f.created, *chat)
	f.members[chat.ID] = memberIDs
	return nil
}

func (f *fakeChatRepo) RemoveParticipant(_ context.Context, chatID, userID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, [2]string{chatID, userID})
	return nil
}

type fakeProfileRepo struct {
	profiles map[string]model.Profile
}

func newFakeProfileRepo(profiles ...model.Profile) *fakeProfileRepo {
	f := &fakeProfileRepo{profiles: make(map[string]model.Profile)}
	for _, p := range profiles {
		f.profiles[p.ID] = p
	}
	return f
}

func (f *fakeProfileRepo) GetByIDs(_ context.Context, ids []string) ([]model.Profile, error) {
	var out []model.Profile
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfileRepo) GetByUsername(_ context.Context, username string) (*model.Profile, error) {
	for _, p := range f.profiles {
		if p.Username == username {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

// fakeMessageRepo records writes and can inject failures or block inserts.
type fakeMessageRepo struct {
	mu sync.Mutex

	recent   map[string][]model.Message
	inserted []model.Message
	updates  map[string][]model.MessagePatch
	marked   [][2]string

	insertErr   error
	updateErr   error
	markErr     error
	insertBlock chan struct{}
	nextID      int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		recent:  make(map[string][]model.Message),
		updates: make(map[string][]model.MessagePatch),
	}
}

func (f *fakeMessageRepo) RecentByChat(_ context.Context, chatID string, limit int64) ([]model.Message, error) {
	msgs := f.recent[chatID]
	if int64(len(msgs)) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeMessageRepo) Insert(_ context.Context, msg *model.Message) (*model.Message, error) {
	if f.insertBlock != nil {
		<-f.insertBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	stored := *msg
	f.nextID++
	stored.ID = fmt.Sprintf("srv-%d", f.nextID)
	stored.CreatedAt = time.Now()
	f.inserted = append(f.inserted, stored)
	return &stored, nil
}

func (f *fakeMessageRepo) Update(_ context.Context, id string, patch model.MessagePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[id] = append(f.updates[id], patch)
	return nil
}

func (f *fakeMessageRepo) MarkChatRead(_ context.Context, chatID, readerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, [2]string{chatID, readerID})
	return nil
}

// fakeRowChannel exposes an in-memory event stream and records publishes.
type fakeRowChannel struct {
	mu        sync.Mutex
	events    chan model.RowEvent
	published []model.RowEvent
	closed    bool
}

func newFakeRowChannel() *fakeRowChannel {
	return &fakeRowChannel{events: make(chan model.RowEvent, 16)}
}

func (f *fakeRowChannel) Events() <-chan model.RowEvent { return f.events }

func (f *fakeRowChannel) PublishInsert(row model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, model.RowEvent{Kind: model.RowInsert, Row: row})
	return nil
}

func (f *fakeRowChannel) PublishUpdate(row model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, model.RowEvent{Kind: model.RowUpdate, Row: row})
	return nil
}

func (f *fakeRowChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeRowChannel) publishedEvents() []model.RowEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RowEvent, len(f.published))
	copy(out, f.published)
	return out
}

// fakePresenceChannel records tracking and typing broadcasts.
type fakePresenceChannel struct {
	mu         sync.Mutex
	presence   chan model.PresenceEvent
	typing     chan model.TypingEvent
	tracked    bool
	broadcasts []model.TypingEvent
	closed     bool
}

func newFakePresenceChannel() *fakePresenceChannel {
	return &fakePresenceChannel{
		presence: make(chan model.PresenceEvent, 16),
		typing:   make(chan model.TypingEvent, 16),
	}
}

func (f *fakePresenceChannel) Presence() <-chan model.PresenceEvent { return f.presence }
func (f *fakePresenceChannel) Typing() <-chan model.TypingEvent     { return f.typing }

func (f *fakePresenceChannel) Track(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = true
	return nil
}

func (f *fakePresenceChannel) BroadcastTyping(_ context.Context, ev model.TypingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, ev)
	return nil
}

func (f *fakePresenceChannel) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.presence)
		close(f.typing)
	}
	return nil
}

func (f *fakePresenceChannel) sentBroadcasts() []model.TypingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TypingEvent, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
