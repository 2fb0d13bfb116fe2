package session

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/store"
	"clearchat/internal/utils/log"
)

type (
	// Receipts propagates read state for the active chat. Reconcile is
	// level-triggered: it is cheap to call on every state change and does
	// nothing unless unread foreign messages are present.
	Receipts struct {
		selfID   string
		store    *store.Store
		messages MessageRepository
		rows     RowChannel
	}
)

func NewReceipts(selfID string, st *store.Store, messages MessageRepository, rows RowChannel) *Receipts {
	return &Receipts{
		selfID:   selfID,
		store:    st,
		messages: messages,
		rows:     rows,
	}
}

// Reconcile marks the active chat's unread foreign messages as read,
// locally first, then with one batched remote update.
func (r *Receipts) Reconcile(ctx context.Context) error {
	chatID := r.store.ActiveChatID()
	if chatID == "" {
		return nil
	}

	var unread []model.Message
	for _, m := range r.store.Messages(chatID) {
		if !m.IsRead && m.SenderID != r.selfID {
			unread = append(unread, m)
		}
	}
	if len(unread) == 0 {
		return nil
	}

	r.store.MarkAsRead(chatID, r.selfID)

	if err := r.messages.MarkChatRead(ctx, chatID, r.selfID); err != nil {
		return errors.Wrap(err, "mark chat read")
	}

	// Let the senders see their receipts without a re-fetch.
	for _, m := range unread {
		m.IsRead = true
		if err := r.rows.PublishUpdate(m); err != nil {
			log.Warn("publish read receipt failed", zap.Error(err))
			break
		}
	}
	return nil
}
