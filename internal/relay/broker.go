package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feeds published by the sandbox service.
const (
	FeedConsole   = "console"
	FeedRuns      = "runs"
	FeedArtifacts = "artifacts"
)

// Event is one message on a feed. Payload is a JSON document.
type Event struct {
	Feed    string
	Payload string
}

type subscriber struct {
	ch    chan Event
	feeds map[string]bool // nil means every feed
}

// Broker fans out events to stream clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]subscriber
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]subscriber),
	}
}

// Subscribe registers a client interested in feeds (all feeds when none are
// given). The channel is buffered; slow consumers have events dropped.
func (b *Broker) Subscribe(feeds ...string) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	sub := subscriber{ch: make(chan Event, subscriberBufSize)}
	if len(feeds) > 0 {
		sub.feeds = make(map[string]bool, len(feeds))
		for _, f := range feeds {
			sub.feeds[f] = true
		}
	}
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish sends evt to every interested subscriber without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.feeds != nil && !sub.feeds[evt.Feed] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishJSON marshals v and publishes it on feed.
func (b *Broker) PublishJSON(feed string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("relay event marshal failed", "feed", feed, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped for full buffers.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
