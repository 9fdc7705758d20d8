package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Event types pushed on the change feeds.
const (
	EventNegotiationCreated = "negotiation.created"
	EventNegotiationUpdated = "negotiation.updated"
	EventMessageCreated     = "message.created"
)

// Event is a single change-feed entry as delivered to subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IHub fans entity changes out to live subscribers. Services publish on
// their write paths; the SSE feed handlers subscribe.
type IHub interface {
	PublishNegotiation(ctx context.Context, eventType string, n *models.Negotiation) error
	PublishMessage(ctx context.Context, m *models.Message) error
	SubscribeNegotiation(ctx context.Context, negotiationID utils.SixID) (*Subscription, error)
	SubscribeMember(ctx context.Context, memberID utils.SixID) (*Subscription, error)
}

// hub implements IHub over Redis pub/sub, one channel per negotiation and
// one per member.
type hub struct {
	rdb *redis.Client
}

// NewHub creates a Redis-backed hub.
func NewHub(rdb *redis.Client) IHub {
	return &hub{rdb: rdb}
}

func negotiationChannel(id utils.SixID) string {
	return "rt:negotiation:" + id.String()
}

func memberChannel(id utils.SixID) string {
	return "rt:member:" + id.String()
}

func (h *hub) publish(ctx context.Context, channels []string, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", eventType, err)
	}
	raw, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", eventType, err)
	}
	for _, channel := range channels {
		if err := h.rdb.Publish(ctx, channel, raw).Err(); err != nil {
			return fmt.Errorf("publishing to %s: %w", channel, err)
		}
	}
	return nil
}

// PublishNegotiation notifies both participants' member feeds and the
// negotiation's own feed.
func (h *hub) PublishNegotiation(ctx context.Context, eventType string, n *models.Negotiation) error {
	channels := []string{
		memberChannel(n.BuyerID),
		memberChannel(n.SellerID),
		negotiationChannel(n.ID),
	}
	return h.publish(ctx, channels, eventType, n)
}

// PublishMessage notifies the negotiation's feed.
func (h *hub) PublishMessage(ctx context.Context, m *models.Message) error {
	return h.publish(ctx, []string{negotiationChannel(m.NegotiationID)}, EventMessageCreated, m)
}

func (h *hub) SubscribeNegotiation(ctx context.Context, negotiationID utils.SixID) (*Subscription, error) {
	return h.subscribe(ctx, negotiationChannel(negotiationID))
}

func (h *hub) SubscribeMember(ctx context.Context, memberID utils.SixID) (*Subscription, error) {
	return h.subscribe(ctx, memberChannel(memberID))
}

func (h *hub) subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := h.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation so no event published after this
	// call can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	sub := &Subscription{
		conn:   pubsub,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go sub.pump(channel, pubsub.Channel())
	return sub, nil
}

// Subscription is a live feed of events for one channel. Consumers must call
// Close when done watching; Events is closed once the subscription ends.
type Subscription struct {
	conn      io.Closer
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close releases the underlying pub/sub subscription and unblocks the pump
// even when an event is still waiting for a reader.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}

// pump decodes raw pub/sub payloads until the source closes or Close is
// called with a delivery pending.
func (s *Subscription) pump(channel string, msgs <-chan *redis.Message) {
	defer close(s.events)
	for msg := range msgs {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("Warning: dropping malformed event on %s: %v", channel, err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
