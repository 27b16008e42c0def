package replica

import (
	"sync"
	"time"

	"github.com/inbetweenies/homegraph/internal/inbetweenies"
)

// EventType classifies replica lifecycle events
type EventType string

const (
	EventSyncStarted      EventType = "sync_started"
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
	EventConflictDetected EventType = "conflict_detected"
	EventEntityUpdated    EventType = "entity_updated"
	EventEntityDeleted    EventType = "entity_deleted"
	EventBlobUploaded     EventType = "blob_uploaded"
)

// Event is one observation of replica activity. Consumers that fall behind
// lose the oldest events, never the newest.
type Event struct {
	Type     EventType               `json:"type"`
	EntityID string                  `json:"entity_id,omitempty"`
	BlobID   string                  `json:"blob_id,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Stats    *inbetweenies.SyncStats `json:"stats,omitempty"`
	At       time.Time               `json:"at"`
}

const subscriberBuffer = 64

// broadcaster fans events out to subscribers with drop-oldest overflow
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: map[int]chan Event{}}
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the channel.
func (b *broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers ev to every subscriber without blocking
func (b *broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
