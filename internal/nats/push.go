package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/service"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
	"github.com/sherzod992/Ta-Go-sub000/pkg/metrics"
)

// Subscriber delivers chat push events from NATS. Room message events come
// from an ordered JetStream consumer so reconnects resume without gaps; typing,
// presence and room updates are plain core subscriptions.
type Subscriber struct {
	client *Client
	stream string
	logger *logger.Logger
}

var _ service.PushSource = (*Subscriber)(nil)

// NewSubscriber creates a subscriber reading room messages from the named stream.
func NewSubscriber(client *Client, stream string, log *logger.Logger) *Subscriber {
	if stream == "" {
		stream = DefaultStreamName
	}
	return &Subscriber{client: client, stream: stream, logger: log}
}

// SubscribeRoom subscribes to the message and typing events of one room.
func (s *Subscriber) SubscribeRoom(ctx context.Context, roomID string, handler service.EventHandler) (service.Subscription, error) {
	if !ValidToken(roomID) {
		return nil, fmt.Errorf("invalid room id %q", roomID)
	}

	var subs group
	msgs, err := s.consumeMessages(ctx, roomID, handler)
	if err != nil {
		return nil, err
	}
	subs = append(subs, msgs)

	typing, err := s.client.Conn().Subscribe(RoomTypingSubject(roomID), s.msgHandler(roomID, handler))
	if err != nil {
		_ = subs.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to typing: %w", err)
	}
	subs = append(subs, typing)

	s.logger.Debug("subscribed to room", zap.String("room_id", roomID))
	return subs, nil
}

// SubscribeUser subscribes to room updates addressed to a user and to presence
// announcements.
func (s *Subscriber) SubscribeUser(ctx context.Context, userID string, handler service.EventHandler) (service.Subscription, error) {
	if !ValidToken(userID) {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	var subs group
	for _, subject := range []string{UserRoomsSubject(userID), PresenceFilter()} {
		sub, err := s.client.Conn().Subscribe(subject, s.msgHandler("", handler))
		if err != nil {
			_ = subs.Unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// PublishTyping announces a typing state change on the room's typing subject.
func (s *Subscriber) PublishTyping(ctx context.Context, roomID, userID string, typing bool) error {
	if !ValidToken(roomID) {
		return fmt.Errorf("invalid room id %q", roomID)
	}
	ev, err := model.NewEvent(model.EventTyping, roomID, userID, model.TypingEvent{UserID: userID, IsTyping: typing})
	if err != nil {
		return err
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := s.client.Conn().Publish(RoomTypingSubject(roomID), data); err != nil {
		return fmt.Errorf("failed to publish typing: %w", err)
	}
	return nil
}

// PublishPresence announces the online state of a user.
func (s *Subscriber) PublishPresence(ctx context.Context, userID string, online bool) error {
	if !ValidToken(userID) {
		return fmt.Errorf("invalid user id %q", userID)
	}
	ev, err := model.NewEvent(model.EventPresence, "", userID, model.PresenceEvent{UserID: userID, IsOnline: online})
	if err != nil {
		return err
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := s.client.Conn().Publish(PresenceSubject(userID), data); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	return nil
}

func (s *Subscriber) consumeMessages(ctx context.Context, roomID string, handler service.EventHandler) (unsubscriber, error) {
	subject := RoomMessageSubject(roomID)
	deliver := s.deliverer(roomID, handler)

	consumer, err := s.client.JetStream().OrderedConsumer(ctx, s.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		// No stream: events are still published on core NATS.
		s.logger.Warn("chat stream missing, using core subscription",
			zap.String("stream", s.stream),
			zap.String("room_id", roomID),
		)
		sub, err := s.client.Conn().Subscribe(subject, func(m *nats.Msg) { deliver(m.Data) })
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to messages: %w", err)
		}
		return sub, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(m jetstream.Msg) {
		deliver(m.Data())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}
	return consumeStopper{cc}, nil
}

func (s *Subscriber) msgHandler(roomID string, handler service.EventHandler) nats.MsgHandler {
	deliver := s.deliverer(roomID, handler)
	return func(m *nats.Msg) {
		deliver(m.Data)
	}
}

// deliverer decodes raw payloads and hands them to handler. Payloads that do
// not decode are counted and dropped.
func (s *Subscriber) deliverer(roomID string, handler service.EventHandler) func([]byte) {
	return func(data []byte) {
		ev, err := model.DecodeEvent(data)
		if err != nil {
			metrics.PushDecodeErrors.Inc()
			s.logger.Debug("dropping undecodable push event", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		if ev.RoomID == "" {
			ev.RoomID = roomID
		}
		handler(ev)
	}
}

type unsubscriber interface {
	Unsubscribe() error
}

type consumeStopper struct {
	cc jetstream.ConsumeContext
}

func (c consumeStopper) Unsubscribe() error {
	c.cc.Stop()
	return nil
}

// group unsubscribes several subscriptions together.
type group []unsubscriber

func (g group) Unsubscribe() error {
	var errs []error
	for _, sub := range g {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeEvent(ev *model.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}
