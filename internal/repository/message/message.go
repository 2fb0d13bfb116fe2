package message

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clearchat/internal/model"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// RecentByChat returns up to limit messages of a chat, newest first.
func (r *MessageRepo) RecentByChat(ctx context.Context, chatID string, limit int64) ([]model.Message, error) {
	filter := bson.M{
		"chat_id": chatID,
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find recent messages")
	}

	var messages []model.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}

	return messages, nil
}

// Insert stores the row, assigning its id and creation time. The stored row
// is returned so callers pick up the assigned fields.
func (r *MessageRepo) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, stored); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}

	return &stored, nil
}

// Update applies the non-nil patch fields to the matching row.
func (r *MessageRepo) Update(ctx context.Context, id string, patch model.MessagePatch) error {
	set := bson.M{}
	if patch.EncryptedContent != nil {
		set["encrypted_content"] = *patch.EncryptedContent
	}
	if patch.IsDelivered != nil {
		set["is_delivered"] = *patch.IsDelivered
	}
	if patch.IsRead != nil {
		set["is_read"] = *patch.IsRead
	}
	if patch.DeletedForEveryone != nil {
		set["deleted_for_everyone"] = *patch.DeletedForEveryone
	}
	if patch.DeletedBy != nil {
		set["deleted_by"] = *patch.DeletedBy
	}
	if len(set) == 0 {
		return nil
	}

	filter := bson.M{
		"_id": id,
	}

	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	return errors.Wrap(err, "update message")
}

// MarkChatRead flags every unread row of the chat not authored by readerID
// as read, in one batched update.
func (r *MessageRepo) MarkChatRead(ctx context.Context, chatID, readerID string) error {
	filter := bson.M{
		"chat_id":   chatID,
		"is_read":   false,
		"sender_id": bson.M{"$ne": readerID},
	}

	_, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_read": true}})
	return errors.Wrap(err, "mark chat read")
}
