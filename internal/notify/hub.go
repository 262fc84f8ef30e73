// internal/notify/hub.go
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/store"
)

// Change is a point-in-time snapshot of a committed document, as delivered to
// subscribers. Data is empty for deletions. There is no diff contract.
type Change struct {
	Key       string `json:"key"`
	Version   int64  `json:"version"`
	Data      []byte `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Subscriber receives changes for every document under its key prefix.
type Subscriber struct {
	Prefix string
	Ch     chan Change
}

// Hub fans committed changes out to in-process subscribers, typically one per
// websocket connection. Sends never block: a slow consumer drops messages and
// is expected to re-read the documents it cares about.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
	log  *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
		log:  log,
	}
}

// Subscribe registers a subscriber for the given key prefix.
func (h *Hub) Subscribe(prefix string, buffer int) *Subscriber {
	sub := &Subscriber{Prefix: prefix, Ch: make(chan Change, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.Ch)
	}
	h.mu.Unlock()
}

// DocChanged implements store.Notifier.
func (h *Hub) DocChanged(_ context.Context, doc store.Doc) {
	change := Change{
		Key:       doc.Key,
		Version:   doc.Version,
		Data:      doc.Data,
		Timestamp: time.Now().UnixMilli(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !strings.HasPrefix(doc.Key, sub.Prefix) {
			continue
		}
		select {
		case sub.Ch <- change:
		default:
			if h.log != nil {
				h.log.WithFields(logrus.Fields{
					"key":    doc.Key,
					"prefix": sub.Prefix,
				}).Warn("subscriber channel full, dropped change")
			}
		}
	}
}

// Combine fans DocChanged out to several notifiers.
func Combine(notifiers ...store.Notifier) store.Notifier {
	return fanout(notifiers)
}

type fanout []store.Notifier

func (f fanout) DocChanged(ctx context.Context, doc store.Doc) {
	for _, n := range f {
		if n != nil {
			n.DocChanged(ctx, doc)
		}
	}
}
