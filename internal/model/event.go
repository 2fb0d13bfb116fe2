package model

type RowEventKind string

const (
	RowInsert RowEventKind = "INSERT"
	RowUpdate RowEventKind = "UPDATE"
)

type PresenceEventKind string

const (
	PresenceSync  PresenceEventKind = "sync"
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

type (
	// RowEvent is a validated change notification for a message row,
	// produced at the channel boundary so the store only ever sees
	// canonical entities.
	RowEvent struct {
		Kind RowEventKind
		Row  Message
	}

	// PresenceEvent carries the ids affected by a presence change. For a
	// sync event UserIDs is the full current presence set; for join and
	// leave it is the ids that changed.
	PresenceEvent struct {
		Kind    PresenceEventKind
		UserIDs []string
	}

	// TypingEvent is an ephemeral typing broadcast. Never persisted.
	TypingEvent struct {
		ChatID   string `json:"chat_id"`
		UserID   string `json:"user_id"`
		IsTyping bool   `json:"is_typing"`
	}
)
