package session

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearchat/internal/model"
	"clearchat/internal/store"
)

type receiptsFixture struct {
	receipts *Receipts
	store    *store.Store
	messages *fakeMessageRepo
	rows     *fakeRowChannel
}

func newReceiptsFixture(t *testing.T) *receiptsFixture {
	t.Helper()
	st := store.New()
	st.SetChats([]model.Chat{{ID: "chatA", Type: model.ChatDirect}})
	f := &receiptsFixture{
		store:    st,
		messages: newFakeMessageRepo(),
		rows:     newFakeRowChannel(),
	}
	f.receipts = NewReceipts(selfID, st, f.messages, f.rows)
	return f
}

func TestReconcileNoActiveChat(t *testing.T) {
	f := newReceiptsFixture(t)
	require.NoError(t, f.receipts.Reconcile(context.Background()))
	assert.Empty(t, f.messages.marked)
}

func TestReconcileMarksAndPropagates(t *testing.T) {
	f := newReceiptsFixture(t)
	f.store.SetActiveChat("chatA")
	f.store.AddMessage(model.Message{ID: "m1", ChatID: "chatA", SenderID: "u2", CreatedAt: time.Now()}, selfID)
	f.store.AddMessage(model.Message{ID: "m2", ChatID: "chatA", SenderID: selfID, CreatedAt: time.Now()}, selfID)

	require.NoError(t, f.receipts.Reconcile(context.Background()))

	msgs := f.store.Messages("chatA")
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead, "own messages are not touched")

	chat, _ := f.store.Chat("chatA")
	assert.Equal(t, 0, chat.UnreadCount)

	assert.Equal(t, [][2]string{{"chatA", selfID}}, f.messages.marked)

	published := f.rows.publishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, "m1", published[0].Row.ID)
	assert.True(t, published[0].Row.IsRead)
}

func TestReconcileLevelTriggered(t *testing.T) {
	f := newReceiptsFixture(t)
	f.store.SetActiveChat("chatA")
	f.store.AddMessage(model.Message{ID: "m1", ChatID: "chatA", SenderID: "u2", CreatedAt: time.Now()}, selfID)

	require.NoError(t, f.receipts.Reconcile(context.Background()))
	require.NoError(t, f.receipts.Reconcile(context.Background()))
	require.NoError(t, f.receipts.Reconcile(context.Background()))

	// Redundant invocations are safe: remote work happens once.
	assert.Len(t, f.messages.marked, 1)
	assert.Len(t, f.rows.publishedEvents(), 1)
}

func TestReconcileRemoteFailure(t *testing.T) {
	f := newReceiptsFixture(t)
	f.store.SetActiveChat("chatA")
	f.store.AddMessage(model.Message{ID: "m1", ChatID: "chatA", SenderID: "u2", CreatedAt: time.Now()}, selfID)
	f.messages.markErr = errors.New("boom")

	require.Error(t, f.receipts.Reconcile(context.Background()))
	// The local view is already marked; the next push or bootstrap heals
	// the remote side.
	assert.True(t, f.store.Messages("chatA")[0].IsRead)
	assert.Empty(t, f.rows.publishedEvents())
}
