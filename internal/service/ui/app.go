// Package ui is the terminal front end. It only reads the store through
// selectors and acts through the session, composer, receipts and typing
// entry points; every state change ticks the store watcher, which triggers
// read-receipt reconciliation and a redraw.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/service/session"
	"clearchat/internal/store"
	"clearchat/internal/utils/log"
)

type (
	App struct {
		app     *tview.Application
		sidebar *tview.List
		chatbox *tview.TextView
		input   *tview.InputField

		session  *session.Session
		composer *session.Composer
		receipts *session.Receipts
		typing   *session.TypingNotifier
		store    *store.Store
		selfID   string

		// Sidebar row -> chat id, rebuilt on every redraw. Touched only on
		// the UI goroutine.
		chatIDs []string

		stopOnce sync.Once
		done     chan struct{}
	}
)

func NewApp(sess *session.Session, composer *session.Composer, receipts *session.Receipts,
	typing *session.TypingNotifier) *App {
	return &App{
		app:      tview.NewApplication(),
		session:  sess,
		composer: composer,
		receipts: receipts,
		typing:   typing,
		store:    sess.Store(),
		selfID:   sess.SelfID(),
		done:     make(chan struct{}),
	}
}

// Run builds the layout and blocks until the application stops.
func (a *App) Run() error {
	a.sidebar = tview.NewList().ShowSecondaryText(true)
	a.sidebar.SetBorder(true).SetTitle(" Chats ")
	a.sidebar.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		if i >= 0 && i < len(a.chatIDs) {
			a.session.SelectChat(a.chatIDs[i])
			a.app.SetFocus(a.input)
		}
	})

	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true)

	a.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" New Message (/new <user>, /leave, /delme <n>, /delall <n>) ")

	a.input.SetChangedFunc(func(text string) {
		active := a.store.ActiveChatID()
		if text != "" && active != "" && !strings.HasPrefix(text, "/") {
			a.typing.Input(active)
		}
	})
	a.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			a.submit()
		}
	})

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.input, 3, 0, true)

	layout := tview.NewFlex().
		AddItem(a.sidebar, 32, 0, false).
		AddItem(right, 0, 1, true)

	go a.watchLoop()
	a.redraw()

	return a.app.SetRoot(layout, true).SetFocus(a.input).Run()
}

// Stop withdraws any outstanding typing signal and shuts the UI down.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.typing.Stop()
		close(a.done)
		a.app.Stop()
	})
}

func (a *App) watchLoop() {
	ch := a.store.Watch()
	for {
		select {
		case <-a.done:
			return
		case <-ch:
			if err := a.receipts.Reconcile(context.TODO()); err != nil {
				log.Error("reconcile read receipts failed", zap.Error(err))
			}
			a.app.QueueUpdateDraw(a.redraw)
		}
	}
}

func (a *App) submit() {
	text := a.input.GetText()
	if text == "" {
		return
	}

	a.typing.Stop()
	// Cleared eagerly; not restored if the send fails.
	a.input.SetText("")

	if strings.HasPrefix(text, "/") {
		a.runCommand(text)
		return
	}

	active := a.store.ActiveChatID()
	go func() {
		if err := a.composer.Send(context.TODO(), active, text); err != nil {
			a.showError(err)
		}
	}()
}

func (a *App) runCommand(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	active := a.store.ActiveChatID()

	switch cmd {
	case "/new":
		if len(args) != 1 {
			a.showError(fmt.Errorf("usage: /new <username>"))
			return
		}
		go func() {
			chat, err := a.session.CreateDirectChat(context.TODO(), args[0])
			if err != nil {
				a.showError(err)
				return
			}
			a.session.SelectChat(chat.ID)
		}()
	case "/leave":
		if active == "" {
			return
		}
		go func() {
			if err := a.session.LeaveChat(context.TODO(), active); err != nil {
				a.showError(err)
			}
		}()
	case "/delme", "/delall":
		if active == "" || len(args) != 1 {
			a.showError(fmt.Errorf("usage: %s <message number>", cmd))
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			a.showError(fmt.Errorf("usage: %s <message number>", cmd))
			return
		}
		msgID, ok := a.visibleMessageID(active, n)
		if !ok {
			a.showError(fmt.Errorf("no message #%d", n))
			return
		}
		forEveryone := cmd == "/delall"
		go func() {
			var err error
			if forEveryone {
				err = a.composer.DeleteForEveryone(context.TODO(), active, msgID)
			} else {
				err = a.composer.DeleteForMe(context.TODO(), active, msgID)
			}
			if err != nil {
				a.showError(err)
			}
		}()
	default:
		a.showError(fmt.Errorf("unknown command %s", cmd))
	}
}

// visibleMessageID resolves the n-th (1-based) message shown in the chatbox.
func (a *App) visibleMessageID(chatID string, n int) (string, bool) {
	i := 0
	for _, m := range a.store.Messages(chatID) {
		if m.DeletedFor(a.selfID) {
			continue
		}
		i++
		if i == n {
			return m.ID, true
		}
	}
	return "", false
}

func (a *App) showError(err error) {
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.chatbox, "[red]error:[-] %v\n", err)
		a.chatbox.ScrollToEnd()
	})
}

func (a *App) redraw() {
	a.redrawSidebar()
	a.redrawChatbox()
}

func (a *App) redrawSidebar() {
	selected := a.sidebar.GetCurrentItem()
	a.sidebar.Clear()
	a.chatIDs = a.chatIDs[:0]

	for _, chat := range a.store.Chats() {
		a.chatIDs = append(a.chatIDs, chat.ID)

		name := chat.DisplayName(a.selfID)
		if peer := chat.Peer(a.selfID); peer != nil && a.store.IsOnline(peer.ID) {
			name += " [green]●[-]"
		}
		if chat.UnreadCount > 0 {
			name += fmt.Sprintf(" [red](%d)[-]", chat.UnreadCount)
		}

		secondary := "No messages yet"
		if len(a.store.TypingIn(chat.ID)) > 0 {
			secondary = "typing..."
		} else if last := chat.LastMessage; last != nil {
			secondary = previewOf(last, a.selfID)
		}
		a.sidebar.AddItem(name, secondary, 0, nil)
	}

	if selected >= 0 && selected < a.sidebar.GetItemCount() {
		a.sidebar.SetCurrentItem(selected)
	}
}

func previewOf(m *model.Message, selfID string) string {
	if m.DeletedForEveryone {
		return "message deleted"
	}
	if m.SenderID == selfID {
		return "You: " + m.EncryptedContent
	}
	return m.EncryptedContent
}

func (a *App) redrawChatbox() {
	active := a.store.ActiveChatID()
	if active == "" {
		a.chatbox.SetTitle(" No chat selected ")
		a.chatbox.SetText("Select a chat or start one with /new <username>")
		return
	}

	chat, ok := a.store.Chat(active)
	if !ok {
		return
	}

	title := fmt.Sprintf(" %s ", chat.DisplayName(a.selfID))
	if peer := chat.Peer(a.selfID); peer != nil {
		typing := a.store.TypingIn(active)
		switch {
		case len(typing) > 0:
			title = fmt.Sprintf(" %s — typing... ", chat.DisplayName(a.selfID))
		case a.store.IsOnline(peer.ID):
			title = fmt.Sprintf(" %s — online ", chat.DisplayName(a.selfID))
		}
	}
	a.chatbox.SetTitle(title)

	var b strings.Builder
	names := participantNames(chat)
	for _, m := range a.store.Messages(active) {
		if m.DeletedFor(a.selfID) {
			continue
		}
		if m.DeletedForEveryone {
			b.WriteString("[gray::i]This message was deleted[-::-]\n")
			continue
		}
		if m.SenderID == a.selfID {
			fmt.Fprintf(&b, "[yellow]You:[-] %s %s\n", m.DecryptedContent, ticks(&m))
		} else {
			name := names[m.SenderID]
			if name == "" {
				name = m.SenderID
			}
			fmt.Fprintf(&b, "[green]%s:[-] %s\n", name, m.DecryptedContent)
		}
	}
	a.chatbox.SetText(b.String())
	a.chatbox.ScrollToEnd()
}

func participantNames(chat model.Chat) map[string]string {
	names := make(map[string]string, len(chat.Participants))
	for _, p := range chat.Participants {
		names[p.ID] = p.Username
	}
	return names
}

func ticks(m *model.Message) string {
	switch {
	case m.IsRead:
		return "[blue]✓✓[-]"
	case m.IsDelivered:
		return "✓✓"
	default:
		return "✓"
	}
}
