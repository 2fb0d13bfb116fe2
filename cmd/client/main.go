package main

import (
	"context"
	"os"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"clearchat/internal/channel/presence"
	"clearchat/internal/channel/rowstream"
	"clearchat/internal/config"
	"clearchat/internal/model"
	chatRepo "clearchat/internal/repository/chat"
	messageRepo "clearchat/internal/repository/message"
	profileRepo "clearchat/internal/repository/profile"
	redisSvc "clearchat/internal/service/redis"
	"clearchat/internal/service/session"
	"clearchat/internal/service/ui"
	"clearchat/internal/store"
	"clearchat/internal/utils/log"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: client <username>")
	}
	username := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	db := mongoDBClient.Database(cfg.MongoDB)

	rdb := redislib.NewClient(&redislib.Options{
		Addr: cfg.RedisAddr,
	})
	redis := redisSvc.NewRedis(rdb)

	ctx := context.Background()

	profiles := profileRepo.NewProfileRepo(db)
	chats := chatRepo.NewChatRepo(db)
	messages := messageRepo.NewMessageRepo(db)

	self, err := getProfileAndCreateIfNotExist(ctx, profiles, username)
	if err != nil {
		log.Fatal("resolve profile failed", zap.Error(err))
	}

	rows, err := rowstream.Dial(cfg.RelayAddr, self.ID)
	if err != nil {
		log.Fatal("dial relay failed", zap.Error(err))
	}

	presenceChannel, err := presence.Open(ctx, redis, self.ID)
	if err != nil {
		log.Fatal("open presence channel failed", zap.Error(err))
	}

	st := store.New()
	sess := session.New(self.ID, st, chats, profiles, messages, rows, presenceChannel)

	if err := sess.Bootstrap(ctx); err != nil {
		log.Error("bootstrap failed", zap.Error(err))
	}
	if err := sess.Subscribe(ctx); err != nil {
		log.Error("subscribe failed", zap.Error(err))
	}

	composer := session.NewComposer(self.ID, st, messages, rows)
	receipts := session.NewReceipts(self.ID, st, messages, rows)
	typing := session.NewTypingNotifier(self.ID, presenceChannel)

	app := ui.NewApp(sess, composer, receipts, typing)
	if err := app.Run(); err != nil {
		log.Error("run ui failed", zap.Error(err))
	}

	app.Stop()
	sess.Close(ctx)
}

func getProfileAndCreateIfNotExist(ctx context.Context, profiles *profileRepo.ProfileRepo,
	username string) (*model.Profile, error) {
	p, err := profiles.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	p = &model.Profile{
		Username: username,
		LastSeen: time.Now().UTC(),
	}
	if err := profiles.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
