// Package broker fans session events and signal envelopes out to every open
// subscriber channel. Redis pub/sub is the backbone, so fan-out works across
// server instances; delivery to a subscriber is best-effort and at-most-once.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/consultwise/session-server-go/internal/redis"
)

const (
	PingInterval = 30 * time.Second

	clientBuffer = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Key    string
	Events chan Event
	Done   chan struct{}
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool   // channel key -> set of clients
	feeds   map[string]context.CancelFunc // channel key -> redis feed teardown
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		feeds:   make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(key string) *Client {
	client := &Client{
		Key:    key,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[key] == nil {
		b.clients[key] = make(map[*Client]bool)
		feedCtx, stopFeed := context.WithCancel(b.ctx)
		b.feeds[key] = stopFeed
		go b.subscribeToRedis(feedCtx, key)
	}
	b.clients[key][client] = true
	clientCount := len(b.clients[key])
	b.mu.Unlock()

	log.Debug().
		Str("channel", key).
		Int("clientCount", clientCount).
		Msg("broker client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.Key]; ok {
		delete(clients, client)
		close(client.Done)

		// The last unsubscribe tears down the redis feed with the client
		// set. A lingering feed would double-deliver every event after a
		// resubscribe for the same key.
		if len(clients) == 0 {
			delete(b.clients, client.Key)
			if stopFeed, ok := b.feeds[client.Key]; ok {
				stopFeed()
				delete(b.feeds, client.Key)
			}
		}

		log.Debug().
			Str("channel", client.Key).
			Int("clientCount", len(clients)).
			Msg("broker client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, key string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, key, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, key string) {
	pubsub := b.redis.Subscribe(ctx, key)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", key).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(key, event)
		}
	}
}

func (b *Broker) broadcast(key string, event Event) {
	b.mu.RLock()
	clients := b.clients[key]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			// Slow consumer. Dropping is fine: clients resynchronize from
			// the session snapshot, not the event stream.
			log.Warn().
				Str("channel", key).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.feeds = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[key])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
