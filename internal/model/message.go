package model

import (
	"slices"
	"time"
)

type (
	// Message mirrors a row of the messages collection. EncryptedContent is
	// stored and displayed in clear form; DecryptedContent is the in-memory
	// display value attached on every ingest path and never persisted.
	Message struct {
		ID                 string    `json:"id" bson:"_id"`
		ChatID             string    `json:"chat_id" bson:"chat_id"`
		SenderID           string    `json:"sender_id" bson:"sender_id"`
		EncryptedContent   string    `json:"encrypted_content" bson:"encrypted_content"`
		DecryptedContent   string    `json:"decrypted_content,omitempty" bson:"-"`
		IsDelivered        bool      `json:"is_delivered" bson:"is_delivered"`
		IsRead             bool      `json:"is_read" bson:"is_read"`
		DeletedForEveryone bool      `json:"deleted_for_everyone,omitempty" bson:"deleted_for_everyone,omitempty"`
		DeletedBy          []string  `json:"deleted_by,omitempty" bson:"deleted_by,omitempty"`
		CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	}

	// MessagePatch is a partial update to a message. Only non-nil fields are
	// applied.
	MessagePatch struct {
		EncryptedContent   *string
		DecryptedContent   *string
		IsDelivered        *bool
		IsRead             *bool
		DeletedForEveryone *bool
		DeletedBy          *[]string
	}
)

// DeletedFor reports whether the message row is hidden from viewer, i.e. the
// viewer previously deleted it for themselves.
func (m *Message) DeletedFor(viewer string) bool {
	return slices.Contains(m.DeletedBy, viewer)
}

// VisibleTo reports whether the message content may be rendered to viewer.
// A message deleted for everyone is never visible, regardless of DeletedBy.
func (m *Message) VisibleTo(viewer string) bool {
	return !m.DeletedForEveryone && !m.DeletedFor(viewer)
}

// Apply merges the non-nil fields of the patch into m.
func (p MessagePatch) Apply(m *Message) {
	if p.EncryptedContent != nil {
		m.EncryptedContent = *p.EncryptedContent
	}
	if p.DecryptedContent != nil {
		m.DecryptedContent = *p.DecryptedContent
	}
	if p.IsDelivered != nil {
		m.IsDelivered = *p.IsDelivered
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.DeletedForEveryone != nil {
		m.DeletedForEveryone = *p.DeletedForEveryone
	}
	if p.DeletedBy != nil {
		m.DeletedBy = slices.Clone(*p.DeletedBy)
	}
}

// PatchFrom builds a patch carrying every mutable field of the row. Used when
// a push update delivers the full new row state.
func PatchFrom(row Message) MessagePatch {
	deletedBy := slices.Clone(row.DeletedBy)
	return MessagePatch{
		EncryptedContent:   &row.EncryptedContent,
		IsDelivered:        &row.IsDelivered,
		IsRead:             &row.IsRead,
		DeletedForEveryone: &row.DeletedForEveryone,
		DeletedBy:          &deletedBy,
	}
}
