// Package presence tracks who is online and relays ephemeral typing
// broadcasts over a shared redis pub/sub topic. Nothing here is persisted:
// membership is scoped to the connected session and reset on re-subscribe.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clearchat/internal/model"
	redisSvc "clearchat/internal/service/redis"
	"clearchat/internal/utils/log"
)

const (
	topic        = "clearchat:presence"
	onlineSetKey = "clearchat:online"
)

type (
	// frame is the wire shape carried on the pub/sub topic.
	frame struct {
		Event    string             `json:"event"`
		UserID   string             `json:"user_id,omitempty"`
		OnlineAt time.Time          `json:"online_at,omitempty"`
		Typing   *model.TypingEvent `json:"typing,omitempty"`
	}

	Channel struct {
		svc    *redisSvc.RedisService
		selfID string
		pubsub *redislib.PubSub

		presence chan model.PresenceEvent
		typing   chan model.TypingEvent

		closeOnce sync.Once
		done      chan struct{}
	}
)

// Open subscribes to the presence topic and delivers the current online set
// as an initial sync event. Track must be called separately once the caller
// is ready to announce itself.
func Open(ctx context.Context, svc *redisSvc.RedisService, selfID string) (*Channel, error) {
	pubsub := svc.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "subscribe presence topic")
	}

	c := &Channel{
		svc:      svc,
		selfID:   selfID,
		pubsub:   pubsub,
		presence: make(chan model.PresenceEvent, 16),
		typing:   make(chan model.TypingEvent, 16),
		done:     make(chan struct{}),
	}

	members, err := svc.SMembers(ctx, onlineSetKey)
	if err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "read presence set")
	}
	if len(members) > 0 {
		c.presence <- model.PresenceEvent{Kind: model.PresenceSync, UserIDs: members}
	}

	go c.readLoop()
	return c, nil
}

// Presence is the stream of sync/join/leave events.
func (c *Channel) Presence() <-chan model.PresenceEvent {
	return c.presence
}

// Typing is the stream of typing broadcasts from peers. The local user's own
// broadcasts are filtered out.
func (c *Channel) Typing() <-chan model.TypingEvent {
	return c.typing
}

func (c *Channel) readLoop() {
	defer close(c.presence)
	defer close(c.typing)

	for msg := range c.pubsub.Channel() {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			log.Error("unmarshal presence frame failed", zap.Error(err))
			continue
		}

		switch f.Event {
		case "join":
			if f.UserID == "" {
				continue
			}
			c.deliverPresence(model.PresenceEvent{Kind: model.PresenceJoin, UserIDs: []string{f.UserID}})
		case "leave":
			if f.UserID == "" {
				continue
			}
			c.deliverPresence(model.PresenceEvent{Kind: model.PresenceLeave, UserIDs: []string{f.UserID}})
		case "typing":
			if f.Typing == nil || f.Typing.ChatID == "" || f.Typing.UserID == "" {
				log.Warn("dropping malformed typing broadcast")
				continue
			}
			if f.Typing.UserID == c.selfID {
				continue
			}
			select {
			case c.typing <- *f.Typing:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Channel) deliverPresence(ev model.PresenceEvent) {
	select {
	case c.presence <- ev:
	case <-c.done:
	}
}

// Track registers the local user in the shared online set and announces the
// join, so symmetric peers observe it through their own subscription.
func (c *Channel) Track(ctx context.Context) error {
	if err := c.svc.SAdd(ctx, onlineSetKey, c.selfID); err != nil {
		return errors.Wrap(err, "register presence")
	}
	return c.send(ctx, frame{Event: "join", UserID: c.selfID, OnlineAt: time.Now().UTC()})
}

// BroadcastTyping publishes a typing signal to every subscriber.
func (c *Channel) BroadcastTyping(ctx context.Context, ev model.TypingEvent) error {
	return c.send(ctx, frame{Event: "typing", Typing: &ev})
}

func (c *Channel) send(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal presence frame")
	}
	return errors.Wrap(c.svc.Publish(ctx, topic, data), "publish presence frame")
}

// Close withdraws the local user's presence and releases the subscription.
func (c *Channel) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if remErr := c.svc.SRem(ctx, onlineSetKey, c.selfID); remErr != nil {
			log.Warn("unregister presence failed", zap.Error(remErr))
		}
		if sendErr := c.send(ctx, frame{Event: "leave", UserID: c.selfID}); sendErr != nil {
			log.Warn("announce leave failed", zap.Error(sendErr))
		}
		close(c.done)
		err = c.pubsub.Close()
	})
	return err
}
