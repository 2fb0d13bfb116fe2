package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/store"
	"clearchat/internal/utils/log"
)

// deleteForEveryoneWindow is how long the sender may retract a message for
// all participants.
const deleteForEveryoneWindow = 10 * time.Minute

var (
	ErrEmptyMessage        = errors.New("message text is empty")
	ErrNoRecipient         = errors.New("no resolved recipient for this chat")
	ErrSendInFlight        = errors.New("a send is already in flight")
	ErrUnknownMessage      = errors.New("unknown message")
	ErrNotSender           = errors.New("only the sender can delete for everyone")
	ErrAlreadyDeleted      = errors.New("message is already deleted")
	ErrDeleteWindowExpired = errors.New("delete-for-everyone window has expired")
)

type (
	// Composer performs the local-first write operations: sending and the
	// two soft-delete flavors. Sends insert remotely first and merge the
	// echoed row through the store's dedup; deletes apply optimistically
	// and roll back with a compensating update on remote failure.
	Composer struct {
		selfID   string
		store    *store.Store
		messages MessageRepository
		rows     RowChannel

		mu      sync.Mutex
		sending bool
	}
)

func NewComposer(selfID string, st *store.Store, messages MessageRepository, rows RowChannel) *Composer {
	return &Composer{
		selfID:   selfID,
		store:    st,
		messages: messages,
		rows:     rows,
	}
}

// Send stores a new message in the given chat. The caller clears its input
// before invoking Send; on failure the input is not restored. No pending
// row is added ahead of the insert, so there is no interim state to
// reconcile: the first local appearance of the message already carries its
// assigned id.
func (c *Composer) Send(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	chat, ok := c.store.Chat(chatID)
	if !ok || chat.Peer(c.selfID) == nil {
		return ErrNoRecipient
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	msg := &model.Message{
		ChatID:           chatID,
		SenderID:         c.selfID,
		EncryptedContent: text,
		IsDelivered:      true,
		IsRead:           false,
	}

	stored, err := c.messages.Insert(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "send message")
	}

	stored.DecryptedContent = text
	c.store.AddMessage(*stored, c.selfID)

	if err := c.rows.PublishInsert(*stored); err != nil {
		// Local and persistent state are already consistent; peers catch
		// up on their next bootstrap.
		log.Warn("publish insert failed", zap.Error(err))
	}
	return nil
}

// DeleteForMe hides the message from the local user only.
func (c *Composer) DeleteForMe(ctx context.Context, chatID, messageID string) error {
	msg, ok := c.findMessage(chatID, messageID)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.DeletedFor(c.selfID) {
		return nil
	}

	prev := slices.Clone(msg.DeletedBy)
	next := append(slices.Clone(msg.DeletedBy), c.selfID)

	c.store.UpdateMessage(chatID, messageID, model.MessagePatch{DeletedBy: &next})

	if err := c.messages.Update(ctx, messageID, model.MessagePatch{DeletedBy: &next}); err != nil {
		c.store.UpdateMessage(chatID, messageID, model.MessagePatch{DeletedBy: &prev})
		return errors.Wrap(err, "delete for me")
	}

	c.publishCurrent(chatID, messageID)
	return nil
}

// DeleteForEveryone retracts the local user's own message for all
// participants. Allowed only while the message is younger than the
// retraction window and not already retracted.
func (c *Composer) DeleteForEveryone(ctx context.Context, chatID, messageID string) error {
	msg, ok := c.findMessage(chatID, messageID)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.SenderID != c.selfID {
		return ErrNotSender
	}
	if msg.DeletedForEveryone {
		return ErrAlreadyDeleted
	}
	if time.Since(msg.CreatedAt) >= deleteForEveryoneWindow {
		return ErrDeleteWindowExpired
	}

	deleted := true
	c.store.UpdateMessage(chatID, messageID, model.MessagePatch{DeletedForEveryone: &deleted})

	if err := c.messages.Update(ctx, messageID, model.MessagePatch{DeletedForEveryone: &deleted}); err != nil {
		restored := false
		c.store.UpdateMessage(chatID, messageID, model.MessagePatch{DeletedForEveryone: &restored})
		return errors.Wrap(err, "delete for everyone")
	}

	c.publishCurrent(chatID, messageID)
	return nil
}

func (c *Composer) findMessage(chatID, messageID string) (model.Message, bool) {
	for _, m := range c.store.Messages(chatID) {
		if m.ID == messageID {
			return m, true
		}
	}
	return model.Message{}, false
}

// publishCurrent announces the message's post-update state so peers see the
// change without waiting for a fresh bootstrap.
func (c *Composer) publishCurrent(chatID, messageID string) {
	msg, ok := c.findMessage(chatID, messageID)
	if !ok {
		return
	}
	if err := c.rows.PublishUpdate(msg); err != nil {
		log.Warn("publish update failed", zap.Error(err))
	}
}
