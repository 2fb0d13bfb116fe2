// Package rowstream delivers typed change notifications for message rows
// over a websocket connection to the relay. Dynamically shaped wire payloads
// are validated here and converted into tagged events before they reach the
// store reducers.
package rowstream

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"clearchat/internal/model"
	"clearchat/internal/utils/log"
)

type (
	envelope struct {
		Event string        `json:"event"`
		Row   model.Message `json:"row"`
	}

	Stream struct {
		conn   *websocket.Conn
		events chan model.RowEvent

		writeMu   sync.Mutex
		closeOnce sync.Once
		done      chan struct{}
	}
)

// Dial connects to the relay's row endpoint and starts the read loop.
func Dial(addr, clientID string) (*Stream, error) {
	params := url.Values{
		"client": []string{clientID},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     "/rows",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial row stream")
	}

	s := &Stream{
		conn:   conn,
		events: make(chan model.RowEvent, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events is the stream of validated INSERT and UPDATE notifications. The
// channel is closed when the connection drops or the stream is closed.
func (s *Stream) Events() <-chan model.RowEvent {
	return s.events
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Debug("row stream closed", zap.Error(err))
			}
			s.conn.Close()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error("unmarshal row event failed", zap.Error(err))
			continue
		}

		ev, ok := validate(env)
		if !ok {
			log.Warn("dropping malformed row event", zap.String("event", env.Event))
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func validate(env envelope) (model.RowEvent, bool) {
	var kind model.RowEventKind
	switch env.Event {
	case string(model.RowInsert):
		kind = model.RowInsert
	case string(model.RowUpdate):
		kind = model.RowUpdate
	default:
		return model.RowEvent{}, false
	}
	if env.Row.ID == "" || env.Row.ChatID == "" {
		return model.RowEvent{}, false
	}
	return model.RowEvent{Kind: kind, Row: env.Row}, true
}

// PublishInsert announces a locally inserted row. The relay fans it out to
// every subscriber, the sender included; the echo is absorbed by the
// store's dedup.
func (s *Stream) PublishInsert(row model.Message) error {
	return s.publish(model.RowInsert, row)
}

// PublishUpdate announces a locally updated row.
func (s *Stream) PublishUpdate(row model.Message) error {
	return s.publish(model.RowUpdate, row)
}

func (s *Stream) publish(kind model.RowEventKind, row model.Message) error {
	row.DecryptedContent = ""

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return errors.New("row stream closed")
	default:
	}
	err := s.conn.WriteJSON(envelope{Event: string(kind), Row: row})
	return errors.Wrap(err, "publish row event")
}

// Close releases the connection. Events already in flight are dropped.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}
