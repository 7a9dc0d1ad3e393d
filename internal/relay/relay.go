// Package relay mirrors store changes into Redis so processes other than
// the one running the engine can follow sessions live.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/store"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

const queueSize = 256

// Message is one relayed change. Exactly one of Video or Session is set.
type Message struct {
	Kind        store.Kind           `json:"kind"`
	ID          string               `json:"id"`
	Video       *models.VideoState   `json:"video,omitempty"`
	Session     *models.SessionState `json:"session,omitempty"`
	PublishedAt time.Time            `json:"published_at"`
}

// Relay publishes hub changes to Redis channels and keeps the latest copy of
// each entry under the channel name
type Relay struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logging.Logger
}

// NewRedisRelay connects to Redis
func NewRedisRelay(cfg config.RedisConfig, log *logging.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "lessonplay"
	}
	return &Relay{
		client: client,
		prefix: prefix,
		ttl:    cfg.SnapshotTTL,
		log:    logging.OrNop(log).WithComponent("relay"),
	}, nil
}

// Close closes the Redis connection
func (r *Relay) Close() error {
	return r.client.Close()
}

// Ping checks the connection
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Key returns the channel and snapshot key for an entry
func (r *Relay) Key(kind store.Kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, id)
}

// Publish stores msg as the latest snapshot of its entry and announces it
func (r *Relay) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", msg.Kind, msg.ID, err)
	}

	key := r.Key(msg.Kind, msg.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, r.ttl)
		pipe.Publish(ctx, key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to relay %s: %w", key, err)
	}
	return nil
}

// Latest returns the last relayed copy of an entry, or nil if none is stored
func (r *Relay) Latest(ctx context.Context, kind store.Kind, id string) (*Message, error) {
	data, err := r.client.Get(ctx, r.Key(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}
	return &msg, nil
}

// Attach subscribes to every change on hub and relays it from a background
// goroutine, so store writers never wait on Redis. The returned function
// detaches and waits for queued changes to be sent.
func (r *Relay) Attach(hub *store.Hub) (detach func()) {
	queue := make(chan Message, queueSize)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := hub.Subscribe(func(s store.Snapshot) {
		msg, ok := messageFor(s)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case queue <- msg:
		default:
			metrics.RecordError("relay", "queue_full")
			r.log.WithField("key", r.Key(msg.Kind, msg.ID)).Warn("relay queue full, dropping change")
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Publish(ctx, msg); err != nil {
				metrics.RecordError("relay", "publish_failed")
				r.log.WarnWithErr("relay publish failed", err)
			}
			cancel()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()
			<-done
		})
	}
}

func messageFor(s store.Snapshot) (Message, bool) {
	msg := Message{Kind: s.Changed.Kind, ID: s.Changed.ID}
	switch s.Changed.Kind {
	case store.KindVideo:
		msg.Video = s.Videos[s.Changed.ID]
		return msg, msg.Video != nil
	case store.KindSession:
		msg.Session = s.Sessions[s.Changed.ID]
		return msg, msg.Session != nil
	}
	return msg, false
}

// Listen delivers every relayed change under the prefix to fn until ctx is
// done. ready, when set, is called once Redis confirms the subscription.
func (r *Relay) Listen(ctx context.Context, fn func(Message), ready func()) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+":*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if ready != nil {
		ready()
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.WithField("channel", m.Channel).WarnWithErr("dropping malformed relay message", err)
				continue
			}
			fn(msg)
		}
	}
}
