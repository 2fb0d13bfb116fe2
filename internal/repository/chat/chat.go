package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"clearchat/internal/model"
)

type (
	// ChatRepo wraps the chats and chat_participants collections.
	ChatRepo struct {
		chats        *mongo.Collection
		participants *mongo.Collection
	}
)

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		chats:        db.Collection("chats"),
		participants: db.Collection("chat_participants"),
	}
}

// ParticipationsOf returns the ids of every chat the user belongs to.
func (r *ChatRepo) ParticipationsOf(ctx context.Context, userID string) ([]string, error) {
	filter := bson.M{
		"user_id": userID,
	}

	cursor, err := r.participants.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find participations")
	}

	var rows []model.Participant
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode participations")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ChatID)
	}
	return ids, nil
}

func (r *ChatRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Chat, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"_id": bson.M{"$in": ids},
	}

	cursor, err := r.chats.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find chats")
	}

	var chats []model.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, errors.Wrap(err, "decode chats")
	}

	return chats, nil
}

// ParticipantsByChat returns the member user ids of each given chat.
func (r *ChatRepo) ParticipantsByChat(ctx context.Context, chatIDs []string) (map[string][]string, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"chat_id": bson.M{"$in": chatIDs},
	}

	cursor, err := r.participants.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find participants")
	}

	var rows []model.Participant
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode participants")
	}

	members := make(map[string][]string, len(chatIDs))
	for _, row := range rows {
		members[row.ChatID] = append(members[row.ChatID], row.UserID)
	}
	return members, nil
}

// Create inserts the chat row and one participant row per member. The chat
// id is assigned here.
func (r *ChatRepo) Create(ctx context.Context, chat *model.Chat, memberIDs []string) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	if _, err := r.chats.InsertOne(ctx, chat); err != nil {
		return errors.Wrap(err, "insert chat")
	}

	rows := make([]any, 0, len(memberIDs))
	for _, userID := range memberIDs {
		rows = append(rows, model.Participant{ChatID: chat.ID, UserID: userID})
	}
	if _, err := r.participants.InsertMany(ctx, rows); err != nil {
		return errors.Wrap(err, "insert participants")
	}
	return nil
}

// RemoveParticipant deletes a single participant row. Chat removal for self.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	filter := bson.M{
		"chat_id": chatID,
		"user_id": userID,
	}

	_, err := r.participants.DeleteOne(ctx, filter)
	return errors.Wrap(err, "delete participant")
}
