package pubsub

import (
	"context"
	"strconv"
	"sync"

	"table-service/pkg/logger"

	"go.uber.org/zap"
)

// Message types carried on table and user topics.
const (
	TypePhase     = "phase"
	TypeReveal    = "reveal"
	TypeResult    = "result"
	TypeRoadmap   = "roadmap"
	TypeBetTotals = "bet_totals"
	TypeBalance   = "balance"
	TypeState     = "state"
	TypeError     = "error"
	TypePong      = "pong"
	TypeBetAck    = "bet_ack"
)

// Balance change reason codes.
const (
	ReasonBetPlaced  = "bet_placed"
	ReasonBetCleared = "bet_cleared"
	ReasonSettlement = "settlement"
	ReasonDeposit    = "deposit"
	ReasonWithdraw   = "withdraw"
)

type Envelope struct {
	Type  string      `json:"type"`
	Topic string      `json:"topic,omitempty"`
	Seq   int64       `json:"seq"`
	Data  interface{} `json:"data"`
}

type BalanceEvent struct {
	UserID    int64  `json:"userId,string"`
	Reason    string `json:"reason"`
	Delta     int64  `json:"delta"`
	Available int64  `json:"available"`
	Frozen    int64  `json:"frozen"`
	RoundID   string `json:"roundId,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope)
}

func TableTopic(tableID int64) string {
	return "table:" + strconv.FormatInt(tableID, 10)
}

func UserTopic(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func PublishBalance(ctx context.Context, p Publisher, ev BalanceEvent) {
	if p == nil {
		return
	}
	topic := UserTopic(ev.UserID)
	p.Publish(ctx, Envelope{Type: TypeBalance, Topic: topic, Data: ev})
}

// Multi fans a message out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, env Envelope) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, env)
		}
	}
}

// Hub is the in-process topic fan-out used by websocket clients.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

type Subscription struct {
	C      <-chan Envelope
	ch     chan Envelope
	topics []string
	hub    *Hub
	once   sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	ch := make(chan Envelope, h.buffer)
	sub := &Subscription{C: ch, ch: ch, topics: topics, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		set, ok := h.subs[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[t] = set
		}
		set[sub] = struct{}{}
	}
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		for _, t := range s.topics {
			if set, ok := h.subs[t]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, t)
				}
			}
		}
		h.mu.Unlock()
		close(s.ch)
	})
}

// Publish never blocks; a full subscriber drops the message.
func (h *Hub) Publish(_ context.Context, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[env.Topic] {
		select {
		case sub.ch <- env:
		default:
			logger.Log.Warn("ws subscriber channel full", zap.String("topic", env.Topic), zap.String("type", env.Type))
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
